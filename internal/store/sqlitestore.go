package store

import (
	"context"
	"database/sql"
	"fmt"

	"api/internal/db"
)

// SQLiteStore implements Store on top of modernc.org/sqlite, the same
// pure-Go driver the teacher repo uses.
type SQLiteStore struct {
	sqlDB *sql.DB
	q     *db.Queries
}

// NewSQLiteStore wraps an already-open *sql.DB (schema assumed applied
// by the caller, exactly like the teacher's main.go does with
// DATABASE_SCHEMA).
func NewSQLiteStore(sqlDB *sql.DB) *SQLiteStore {
	return &SQLiteStore{sqlDB: sqlDB, q: db.New(sqlDB)}
}

func (s *SQLiteStore) GetOrCreateAgent(ctx context.Context, credentialDigest string, identity VerifiedIdentity, newID, sessionCredential string) (AgentSnapshot, bool, error) {
	existing, err := s.q.GetAgentByName(ctx, identity.Name)
	if err == nil {
		return toSnapshot(existing), false, nil
	}
	if err != sql.ErrNoRows {
		return AgentSnapshot{}, false, fmt.Errorf("lookup agent: %w", err)
	}

	err = s.q.CreateAgent(ctx, db.CreateAgentParams{
		ID:                newID,
		Name:              identity.Name,
		AvatarURL:         identity.AvatarURL,
		Bio:               identity.Bio,
		CredentialDigest:  credentialDigest,
		SessionCredential: sessionCredential,
	})
	if err != nil {
		return AgentSnapshot{}, false, fmt.Errorf("create agent: %w", err)
	}

	created, err := s.q.GetAgentByID(ctx, newID)
	if err != nil {
		return AgentSnapshot{}, false, fmt.Errorf("reload created agent: %w", err)
	}
	return toSnapshot(created), true, nil
}

func (s *SQLiteStore) FindAgentByName(ctx context.Context, name string) (AgentSnapshot, bool, error) {
	a, err := s.q.GetAgentByName(ctx, name)
	if err == sql.ErrNoRows {
		return AgentSnapshot{}, false, nil
	}
	if err != nil {
		return AgentSnapshot{}, false, fmt.Errorf("lookup agent by name: %w", err)
	}
	return toSnapshot(a), true, nil
}

func (s *SQLiteStore) GetAgentSnapshot(ctx context.Context, agentID string) (AgentSnapshot, error) {
	a, err := s.q.GetAgentByID(ctx, agentID)
	if err != nil {
		return AgentSnapshot{}, err
	}
	return toSnapshot(a), nil
}

func (s *SQLiteStore) RecordGameStart(ctx context.Context, row GameStartRow) error {
	return s.q.InsertGamePending(ctx, db.Game{
		ID:              row.ID,
		WhiteAgentID:    row.WhiteAgentID,
		BlackAgentID:    row.BlackAgentID,
		Category:        row.Category,
		EloWhiteBefore:  row.EloWhiteBefore,
		EloBlackBefore:  row.EloBlackBefore,
		StartedAt:       sql.NullTime{Time: row.StartedAt, Valid: true},
	})
}

func (s *SQLiteStore) CommitGameEnd(ctx context.Context, batch GameEndBatch) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	txq := s.q.WithTx(tx)

	if err := txq.FinalizeGame(ctx, db.Game{
		ID:          batch.GameID,
		Result:      sql.NullString{String: batch.Result, Valid: true},
		Termination: sql.NullString{String: batch.Termination, Valid: true},
		PGN:         batch.PGN,
		EloWhiteAfter: sql.NullInt64{Int64: int64(batch.White.EloAfter), Valid: true},
		EloBlackAfter: sql.NullInt64{Int64: int64(batch.Black.EloAfter), Valid: true},
		EndedAt:     sql.NullTime{Time: batch.EndedAt, Valid: true},
	}); err != nil {
		return fmt.Errorf("finalize game: %w", err)
	}

	for _, side := range []SideResult{batch.White, batch.Black} {
		if err := txq.ApplyGameResult(ctx, db.ApplyGameResultParams{
			AgentID:       side.AgentID,
			Category:      side.Category,
			NewElo:        side.EloAfter,
			IsWin:         side.IsWin,
			IsLoss:        side.IsLoss,
			IsDraw:        side.IsDraw,
			NewLossStreak: side.NewLossStreak,
			EndedAt:       batch.EndedAt,
			CooldownUntil: side.CooldownUntil,
		}); err != nil {
			return fmt.Errorf("apply game result for %s: %w", side.AgentID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) TopAgents(ctx context.Context, category string, limit int) ([]AgentSnapshot, error) {
	rows, err := s.q.TopAgents(ctx, category, limit)
	if err != nil {
		return nil, err
	}
	out := make([]AgentSnapshot, len(rows))
	for i, a := range rows {
		out[i] = toSnapshot(a)
	}
	return out, nil
}

func (s *SQLiteStore) UpdateSessionCredential(ctx context.Context, agentID, credential string) error {
	return s.q.UpdateSessionCredential(ctx, agentID, credential)
}

func (s *SQLiteStore) RecentGames(ctx context.Context, limit int) ([]RecentGame, error) {
	rows, err := s.q.RecentGames(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]RecentGame, len(rows))
	for i, g := range rows {
		out[i] = RecentGame{
			ID: g.ID, WhiteAgentID: g.WhiteAgentID, BlackAgentID: g.BlackAgentID,
			Category: g.Category, Result: g.Result.String, Termination: g.Termination.String,
			EndedAt: g.EndedAt.Time,
		}
	}
	return out, nil
}

func toSnapshot(a db.Agent) AgentSnapshot {
	return AgentSnapshot{
		ID:        a.ID,
		Name:      a.Name,
		EloBullet: a.EloBullet,
		EloBlitz:  a.EloBlitz,
		EloRapid:  a.EloRapid,
	}
}
