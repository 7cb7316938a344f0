// Package db is a hand-written, sqlc-shaped query layer over the
// schema.sql tables: one typed method per statement, the same shape the
// teacher repo's generated db.Queries had, minus the code generator.
package db

import (
	"context"
	"database/sql"
	"time"
)

// Queries wraps a *sql.DB (or a *sql.Tx, via WithTx) with the statements
// the arena needs.
type Queries struct {
	db DBTX
}

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// New wraps a connection pool.
func New(db DBTX) *Queries { return &Queries{db: db} }

// WithTx returns a Queries bound to an in-flight transaction, used by
// CommitGameEnd to write the game row and both agent rows atomically.
func (q *Queries) WithTx(tx *sql.Tx) *Queries { return &Queries{db: tx} }

// Agent mirrors one row of the agents table.
type Agent struct {
	ID                string
	Name              string
	AvatarURL         string
	Bio               string
	CredentialDigest  string
	SessionCredential string
	EloBullet         int
	EloBlitz          int
	EloRapid          int
	GamesPlayed       int
	Wins              int
	Losses            int
	Draws             int
	LossStreakBullet  int
	LossStreakBlitz   int
	LossStreakRapid   int
	LastGameEndedAt   sql.NullTime
	CooldownUntil     sql.NullTime
	CreatedAt         time.Time
	VerifiedAt        time.Time
}

const agentColumns = `id, name, avatar_url, bio, credential_digest, session_credential,
	elo_bullet, elo_blitz, elo_rapid, games_played, wins, losses, draws,
	loss_streak_bullet, loss_streak_blitz, loss_streak_rapid,
	last_game_ended_at, cooldown_until, created_at, verified_at`

func scanAgent(row interface{ Scan(...any) error }) (Agent, error) {
	var a Agent
	err := row.Scan(&a.ID, &a.Name, &a.AvatarURL, &a.Bio, &a.CredentialDigest, &a.SessionCredential,
		&a.EloBullet, &a.EloBlitz, &a.EloRapid, &a.GamesPlayed, &a.Wins, &a.Losses, &a.Draws,
		&a.LossStreakBullet, &a.LossStreakBlitz, &a.LossStreakRapid,
		&a.LastGameEndedAt, &a.CooldownUntil, &a.CreatedAt, &a.VerifiedAt)
	return a, err
}

// GetAgentByName looks up an agent by the display name the identity
// registry returned for its credential — the only stable, queryable
// handle the arena keeps, since the credential digest itself is a
// salted bcrypt hash and cannot be looked up by equality.
func (q *Queries) GetAgentByName(ctx context.Context, name string) (Agent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE name = ?`, name)
	return scanAgent(row)
}

// GetAgentByID fetches a single agent row.
func (q *Queries) GetAgentByID(ctx context.Context, id string) (Agent, error) {
	row := q.db.QueryRowContext(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	return scanAgent(row)
}

// CreateAgentParams is the payload for first-registration.
type CreateAgentParams struct {
	ID                string
	Name              string
	AvatarURL         string
	Bio               string
	CredentialDigest  string
	SessionCredential string
}

// CreateAgent inserts a brand-new agent row with default 1200 Elo in
// every category.
func (q *Queries) CreateAgent(ctx context.Context, p CreateAgentParams) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO agents (id, name, avatar_url, bio, credential_digest, session_credential)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.AvatarURL, p.Bio, p.CredentialDigest, p.SessionCredential)
	return err
}

// UpdateSessionCredential rotates an agent's issued session credential.
func (q *Queries) UpdateSessionCredential(ctx context.Context, agentID, credential string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE agents SET session_credential = ? WHERE id = ?`, credential, agentID)
	return err
}

// ApplyGameResultParams is one side's post-game agent row update.
type ApplyGameResultParams struct {
	AgentID         string
	Category        string // "bullet" | "blitz" | "rapid"
	NewElo          int
	IsWin, IsLoss, IsDraw bool
	NewLossStreak   int
	EndedAt         time.Time
	CooldownUntil   time.Time
}

// ApplyGameResult updates one agent's Elo, aggregate counts, loss
// streak, and cooldown in a single statement. It is executed twice per
// finished game (once per side), both inside the same transaction as
// FinalizeGame in CommitGameEnd.
func (q *Queries) ApplyGameResult(ctx context.Context, p ApplyGameResultParams) error {
	winDelta, lossDelta, drawDelta := 0, 0, 0
	switch {
	case p.IsWin:
		winDelta = 1
	case p.IsLoss:
		lossDelta = 1
	case p.IsDraw:
		drawDelta = 1
	}

	var lossStreakColumn string
	switch p.Category {
	case "bullet":
		lossStreakColumn = "loss_streak_bullet"
	case "blitz":
		lossStreakColumn = "loss_streak_blitz"
	default:
		lossStreakColumn = "loss_streak_rapid"
	}
	eloColumn := "elo_" + p.Category

	stmt := `UPDATE agents SET ` + eloColumn + ` = ?, ` + lossStreakColumn + ` = ?,
		games_played = games_played + 1, wins = wins + ?, losses = losses + ?, draws = draws + ?,
		last_game_ended_at = ?, cooldown_until = ?
		WHERE id = ?`
	_, err := q.db.ExecContext(ctx, stmt,
		p.NewElo, p.NewLossStreak, winDelta, lossDelta, drawDelta, p.EndedAt, p.CooldownUntil, p.AgentID)
	return err
}

// Game mirrors one row of the games table.
type Game struct {
	ID                                 string
	WhiteAgentID, BlackAgentID         string
	Category                           string
	Status                             string
	Result, Termination                sql.NullString
	PGN                                string
	EloWhiteBefore, EloBlackBefore     int
	EloWhiteAfter, EloBlackAfter       sql.NullInt64
	StartedAt, EndedAt                 sql.NullTime
}

// InsertGamePending writes the pending->active row at match-start,
// snapshotting the pre-game Elo of both sides.
func (q *Queries) InsertGamePending(ctx context.Context, g Game) error {
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO games (id, white_agent_id, black_agent_id, category, status,
			elo_white_before, elo_black_before, started_at)
		VALUES (?, ?, ?, ?, 'active', ?, ?, ?)`,
		g.ID, g.WhiteAgentID, g.BlackAgentID, g.Category, g.EloWhiteBefore, g.EloBlackBefore, g.StartedAt)
	return err
}

// FinalizeGame writes the terminal row fields at game end.
func (q *Queries) FinalizeGame(ctx context.Context, g Game) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE games SET status = 'ended', result = ?, termination = ?, pgn = ?,
			elo_white_after = ?, elo_black_after = ?, ended_at = ?
		WHERE id = ?`,
		g.Result, g.Termination, g.PGN, g.EloWhiteAfter, g.EloBlackAfter, g.EndedAt, g.ID)
	return err
}

// TopAgents is a read-only projection for a future leaderboard HTTP
// service — out of scope for this module's own routes per §1, kept
// here because the store interface promises it.
func (q *Queries) TopAgents(ctx context.Context, category string, limit int) ([]Agent, error) {
	col := "elo_" + category
	rows, err := q.db.QueryContext(ctx, `SELECT `+agentColumns+` FROM agents ORDER BY `+col+` DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const gameColumns = `id, white_agent_id, black_agent_id, category, status, result, termination,
	pgn, elo_white_before, elo_black_before, elo_white_after, elo_black_after, started_at, ended_at`

func scanGame(row interface{ Scan(...any) error }) (Game, error) {
	var g Game
	err := row.Scan(&g.ID, &g.WhiteAgentID, &g.BlackAgentID, &g.Category, &g.Status, &g.Result, &g.Termination,
		&g.PGN, &g.EloWhiteBefore, &g.EloBlackBefore, &g.EloWhiteAfter, &g.EloBlackAfter, &g.StartedAt, &g.EndedAt)
	return g, err
}

// RecentGames is a read-only projection for a future game-history HTTP
// service — same out-of-scope status as TopAgents.
func (q *Queries) RecentGames(ctx context.Context, limit int) ([]Game, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+gameColumns+` FROM games ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Game
	for rows.Next() {
		g, err := scanGame(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}
