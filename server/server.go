// Package server holds the arena's plain HTTP handlers —
// registration, credential issuance and a health probe — as thin echo
// handlers the way the teacher's own server package wrote users.go
// and auth.go. Everything realtime (seek/move/disconnect) lives in
// internal/coordinator and is mounted separately by transport/ws.
package server

import (
	"log/slog"

	"api/internal/coordinator"
	"api/internal/identity"
	"api/internal/store"
)

// Server is the dependency bag the HTTP handlers close over.
type Server struct {
	Store       store.Store
	Coordinator *coordinator.Coordinator
	Identity    identity.Verifier
	Log         *slog.Logger
}

// NewServer builds a Server from its already-constructed collaborators.
func NewServer(st store.Store, coord *coordinator.Coordinator, verifier identity.Verifier, log *slog.Logger) *Server {
	return &Server{Store: st, Coordinator: coord, Identity: verifier, Log: log}
}
