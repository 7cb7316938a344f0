// Agent registration: the HTTP front door before an agent ever opens
// a WebSocket, adapted from the teacher's users.go credential-signup
// flow onto the external identity registry of §6.
package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"
)

// RegisterAgentRequest carries the opaque credential the identity
// registry knows how to verify.
type RegisterAgentRequest struct {
	Credential string `json:"credential"`
}

// RegisterAgentResponse is returned on successful registration.
type RegisterAgentResponse struct {
	AgentID           string `json:"agent_id"`
	Name              string `json:"name"`
	SessionCredential string `json:"session_credential"`
}

// RegisterAgent verifies a credential against the identity registry
// and creates the corresponding agent row at the default 1200 Elo,
// or reports 409 if one already exists for that identity.
//
//	@Summary		Register an agent
//	@Description	Verify an external credential and create the agent record.
//	@Tags			agents
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		RegisterAgentRequest	true	"Register Agent"
//	@Success		201		{object}	RegisterAgentResponse
//	@Failure		400		{object}	ErrorReason
//	@Failure		401		{object}	ErrorReason	"Invalid credential"
//	@Failure		409		{object}	ErrorReason	"Agent already registered"
//	@Failure		500		{object}	ErrorReason
//	@Router			/agents [post]
func (s *Server) RegisterAgent(c echo.Context) error {
	var req RegisterAgentRequest
	if err := c.Bind(&req); err != nil || req.Credential == "" {
		return c.JSON(http.StatusBadRequest, REASON_JSON_SYNTAX_ERROR)
	}

	ctx := c.Request().Context()
	verified, err := s.Identity.Verify(ctx, req.Credential)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, REASON_INVALID_CREDENTIAL)
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(req.Credential), bcrypt.DefaultCost)
	if err != nil {
		s.Log.Error("failed to hash credential", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}

	agentID := uuid.NewString()
	sessionCredential, err := s.Coordinator.IssueSessionCredential(agentID)
	if err != nil {
		s.Log.Error("failed to issue session credential", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}

	snap, created, err := s.Store.GetOrCreateAgent(ctx, string(digest), verified, agentID, sessionCredential)
	if err != nil {
		s.Log.Error("failed to create agent", "error", err)
		return c.JSON(http.StatusInternalServerError, REASON_INTERNAL_ERROR)
	}
	if !created {
		return c.JSON(http.StatusConflict, REASON_AGENT_EXISTS)
	}

	return c.JSON(http.StatusCreated, RegisterAgentResponse{
		AgentID: snap.ID, Name: snap.Name, SessionCredential: sessionCredential,
	})
}
