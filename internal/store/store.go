// Package store is the persistence boundary of §6: it owns durable
// Agent and Game rows, and is the only writer of Elo/count fields. The
// PlayCoordinator treats it as an opaque Store behind this interface so
// that unit tests can swap in a fake without a real sqlite file.
package store

import (
	"context"
	"time"
)

// AgentSnapshot is the subset of an agent row the coordinator needs at
// game-start and when authenticating a session. No `connected` event is
// sent to the agent on bind.
type AgentSnapshot struct {
	ID          string
	Name        string
	EloBullet   int
	EloBlitz    int
	EloRapid    int
}

func (a AgentSnapshot) EloFor(category string) int {
	switch category {
	case "bullet":
		return a.EloBullet
	case "blitz":
		return a.EloBlitz
	default:
		return a.EloRapid
	}
}

// VerifiedIdentity is what the external identity registry returns for a
// valid credential (§6's verify() contract).
type VerifiedIdentity struct {
	Name      string
	AvatarURL string
	Bio       string
}

// GameStartRow is the pending->active row written when a match begins.
type GameStartRow struct {
	ID                         string
	WhiteAgentID, BlackAgentID string
	Category                   string
	EloWhiteBefore, EloBlackBefore int
	StartedAt                  time.Time
}

// SideResult is one side's post-game outcome, used to build both the
// game row's result/termination fields and that side's agent-row delta.
type SideResult struct {
	AgentID       string
	Category      string
	EloBefore     int
	EloAfter      int
	IsWin, IsLoss, IsDraw bool
	NewLossStreak int
	CooldownUntil time.Time
}

// GameEndBatch is everything CommitGameEnd needs to write in one
// transaction: the finalized game row plus both agents' deltas.
type GameEndBatch struct {
	GameID      string
	Result      string // "white_win" | "black_win" | "draw"
	Termination string
	PGN         string
	EndedAt     time.Time
	White, Black SideResult
}

// RecentGame is a read-only projection of a finished game row.
type RecentGame struct {
	ID                         string
	WhiteAgentID, BlackAgentID string
	Category                   string
	Result, Termination        string
	EndedAt                    time.Time
}

// Store is the persistence adapter contract.
type Store interface {
	// GetOrCreateAgent upserts an agent, looked up by the identity
	// registry's stable display name (credentialDigest is a salted
	// bcrypt hash and stored for audit only — it is never equality-
	// queryable), creating one at 1200/1200/1200 Elo on first sight.
	// created reports whether this call created the row.
	GetOrCreateAgent(ctx context.Context, credentialDigest string, identity VerifiedIdentity, newID string, sessionCredential string) (snap AgentSnapshot, created bool, err error)

	// FindAgentByName is a read-only lookup used by /auth/login: it
	// never creates a row, so an unregistered credential fails cleanly
	// instead of inserting a malformed agent.
	FindAgentByName(ctx context.Context, name string) (snap AgentSnapshot, found bool, err error)

	// GetAgentSnapshot re-reads an agent's current Elo, used to
	// snapshot both sides' ratings at game-start per §3's ownership
	// rule ("in-memory Elo used during a game is snapshotted at
	// game-start from storage").
	GetAgentSnapshot(ctx context.Context, agentID string) (AgentSnapshot, error)

	// RecordGameStart persists the pending->active row.
	RecordGameStart(ctx context.Context, row GameStartRow) error

	// UpdateSessionCredential rotates an agent's stored session
	// credential on each successful /auth/login, mirroring the
	// teacher's own api-key rotation on re-login.
	UpdateSessionCredential(ctx context.Context, agentID, credential string) error

	// CommitGameEnd writes the finalized game row and both agent
	// deltas in a single batch. On failure the caller falls back to
	// the best-effort retry queue per §7.
	CommitGameEnd(ctx context.Context, batch GameEndBatch) error

	// TopAgents is a read-only leaderboard projection, exposed for a
	// future HTTP read-API service; no route in this module calls it.
	TopAgents(ctx context.Context, category string, limit int) ([]AgentSnapshot, error)

	// RecentGames is a read-only game-history projection, exposed for
	// the same future read-API service; no route in this module calls
	// it either.
	RecentGames(ctx context.Context, limit int) ([]RecentGame, error)
}
