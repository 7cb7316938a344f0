package server

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// LoginRequest carries the same opaque credential RegisterAgent does;
// login re-verifies it and rotates the agent's session credential.
type LoginRequest struct {
	Credential string `json:"credential"`
}

// LoginResponse returns the freshly issued session credential an agent
// presents on its next /play connection.
type LoginResponse struct {
	SessionCredential string `json:"session_credential"`
}

// LoginAgent re-verifies a credential and issues a new session
// credential for an already-registered agent, mirroring the teacher's
// GetApiKeyTryRenew but against the identity registry instead of a
// stored password hash.
//
//	@Summary		Log in and receive a fresh session credential.
//	@Description	Re-verify a credential against the identity registry and rotate the agent's session credential.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		LoginRequest	true	"Login"
//	@Success		200		{object}	LoginResponse
//	@Failure		400		{object}	ErrorReason
//	@Failure		401		{object}	ErrorReason	"Invalid credential"
//	@Failure		404		{object}	ErrorReason	"Agent not registered"
//	@Failure		500		{object}	ErrorReason
//	@Router			/auth/login [post]
func (s *Server) LoginAgent(c echo.Context) error {
	var req LoginRequest
	if err := c.Bind(&req); err != nil || req.Credential == "" {
		return c.JSON(http.StatusBadRequest, REASON_JSON_SYNTAX_ERROR)
	}

	ctx := c.Request().Context()
	verified, err := s.Identity.Verify(ctx, req.Credential)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, REASON_INVALID_CREDENTIAL)
	}

	snap, found, err := s.Store.FindAgentByName(ctx, verified.Name)
	if err != nil {
		s.Log.Error("failed to look up agent", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}
	if !found {
		return c.JSON(http.StatusNotFound, REASON_AGENT_NOT_FOUND)
	}

	newCredential, err := s.Coordinator.IssueSessionCredential(snap.ID)
	if err != nil {
		s.Log.Error("failed to issue session credential", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}
	if err := s.Store.UpdateSessionCredential(ctx, snap.ID, newCredential); err != nil {
		s.Log.Error("failed to persist rotated session credential", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}

	return c.JSON(http.StatusOK, LoginResponse{SessionCredential: newCredential})
}
