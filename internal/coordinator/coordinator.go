// Package coordinator implements §4.H's PlayCoordinator: the glue that
// orchestrates authentication, seeking, moves, disconnect/reconnect,
// and end-of-game commits across Clock, Rating, RateLimiter,
// ChessGame, MatchQueue, SessionRegistry and Broadcaster.
//
// Per §5, every method that mutates MatchQueue, the active-games map,
// SessionRegistry, or a Game is called with mu held — the Coordinator
// is a single coarse-locked value, not a set of independently
// synchronized components, mirroring the "confine mutable state to one
// actor" guidance of §9.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"api/internal/broadcast"
	"api/internal/chessgame"
	"api/internal/clock"
	"api/internal/matchqueue"
	"api/internal/metrics"
	"api/internal/ratelimit"
	"api/internal/rating"
	"api/internal/session"
	"api/internal/store"
)

const (
	matchTickPeriod   = 500 * time.Millisecond
	forfeitTickPeriod = 1 * time.Second
	disconnectForfeit = 120 * time.Second
	authWindow        = 10 * time.Second
)

var categoryTimeControls = map[string]chessgame.TimeControl{
	"bullet": {BaseSeconds: 120, IncrementSeconds: 1},
	"blitz":  {BaseSeconds: 180, IncrementSeconds: 2},
	"rapid":  {BaseSeconds: 600, IncrementSeconds: 5},
}

const maxSimultaneousCategories = 3

// Coordinator owns the MatchQueue and every active Game, per §3's
// ownership rule.
type Coordinator struct {
	mu sync.Mutex

	store    store.Store
	queue    *matchqueue.Queue
	registry *session.Registry
	bcast    *broadcast.Broadcaster
	limiter  *ratelimit.Limiter
	log      *slog.Logger

	jwtSecret []byte

	games   map[string]*chessgame.Game
	ended   map[string]bool
	gameSeq int64

	onPersistFailure func(batch store.GameEndBatch)

	rng *rand.Rand
	now func() time.Time
}

// New builds a Coordinator. onPersistFailure, if non-nil, is called
// with a batch that failed to commit synchronously so the caller can
// push it onto the §7 retry queue; it must not block.
func New(st store.Store, log *slog.Logger, jwtSecret []byte, onPersistFailure func(store.GameEndBatch)) *Coordinator {
	registry := session.New()
	return &Coordinator{
		store:            st,
		queue:            matchqueue.New(),
		registry:         registry,
		bcast:            broadcast.New(registry, log),
		limiter:          ratelimit.New(),
		log:              log,
		jwtSecret:        jwtSecret,
		games:            make(map[string]*chessgame.Game),
		ended:            make(map[string]bool),
		onPersistFailure: onPersistFailure,
		rng:              rand.New(rand.NewSource(time.Now().UnixNano())),
		now:              time.Now,
	}
}

// IssueSessionCredential mints the JWT an agent presents on its next
// WebSocket connection, matching the teacher's newApiKey/jti pattern.
func (c *Coordinator) IssueSessionCredential(agentID string) (string, error) {
	claims := jwt.RegisteredClaims{
		ID:        agentID,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(30 * 24 * time.Hour)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(c.jwtSecret)
}

// AuthenticateSession verifies a session credential presented on
// connect (either as a URL parameter or a first `auth` message within
// the 10s window enforced by the transport adapter) and returns the
// agent's current snapshot.
func (c *Coordinator) AuthenticateSession(ctx context.Context, sessionCredential string) (store.AgentSnapshot, error) {
	parsed, err := jwt.ParseWithClaims(sessionCredential, &jwt.RegisteredClaims{}, func(t *jwt.Token) (any, error) {
		return c.jwtSecret, nil
	})
	if err != nil || !parsed.Valid {
		return store.AgentSnapshot{}, fmt.Errorf("authentication failed")
	}
	claims, ok := parsed.Claims.(*jwt.RegisteredClaims)
	if !ok {
		return store.AgentSnapshot{}, fmt.Errorf("authentication failed")
	}
	return c.store.GetAgentSnapshot(ctx, claims.ID)
}

// AuthWindow is exported so the transport adapter can enforce the
// same 10s first-message deadline §5 requires.
func AuthWindow() time.Duration { return authWindow }

// BindSession registers a freshly authenticated connection, evicting
// any prior connection for the same agent with close code 4000, and
// reports whether the agent was bound to an active game (a reconnect).
func (c *Coordinator) BindSession(agentID, displayName string, ch session.Channel) (reconnectedGameID string, isReconnect bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.registry.Bind(agentID, displayName, ch); evicted != nil {
		evicted.Close(4000, "superseded connection")
	}

	gameID, ok := c.registry.CurrentGame(agentID)
	if !ok {
		return "", false
	}
	game, ok := c.games[gameID]
	if !ok || game.Status() != chessgame.Active {
		return "", false
	}

	game.SetConnected(agentID, true, c.now())
	opponent := opponentOf(game, agentID)
	c.bcast.SendToAgent(agentID, "state", c.stateEventLocked(game, true))
	c.bcast.SendToAgent(opponent, "opponent_reconnected", map[string]any{})
	return gameID, true
}

// HandleDisconnect marks an in-game agent's side disconnected and
// removes every outstanding seek for it. If the agent is mid-game, the
// registry entry is kept (minus a live channel) so BindSession can
// still find currentGameID on reconnect; otherwise it's dropped
// entirely.
func (c *Coordinator) HandleDisconnect(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, cat := range c.queue.RemoveAllSeeks(agentID) {
		metrics.QueueDepth.WithLabelValues(cat).Dec()
	}

	gameID, ok := c.registry.CurrentGame(agentID)
	if !ok {
		c.registry.Unbind(agentID)
		return
	}
	if game, ok := c.games[gameID]; ok && game.Status() == chessgame.Active {
		game.SetConnected(agentID, false, c.now())
		c.bcast.SendToAgent(opponentOf(game, agentID), "opponent_disconnected", map[string]any{})
		return
	}
	c.registry.Unbind(agentID)
}

// HandleSeek implements the `seek{category}` action of §4.H's table.
func (c *Coordinator) HandleSeek(agentID string, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, validCategory := categoryTimeControls[category]; !validCategory {
		c.bcast.SendToAgent(agentID, "error", errMsg("invalid category"))
		return
	}
	if _, inGame := c.registry.CurrentGame(agentID); inGame {
		c.bcast.SendToAgent(agentID, "error", errMsg("already in a game"))
		return
	}
	if c.queue.CategoryCount(agentID) >= maxSimultaneousCategories {
		c.bcast.SendToAgent(agentID, "error", errMsg("already seeking the maximum number of categories"))
		return
	}

	rlCat := ratelimit.Category(category)
	if ok, reason, retryAfter := c.limiter.CanSeek(agentID, rlCat); !ok {
		c.bcast.SendToAgent(agentID, "rate_limited", map[string]any{
			"reason":      string(reason),
			"retry_after": retryAfter,
		})
		return
	}

	snap, err := c.agentSnapshotLocked(agentID)
	if err != nil {
		c.bcast.SendToAgent(agentID, "error", errMsg("internal server error"))
		return
	}

	s, err := c.queue.AddSeeker(agentID, snap.Name, snap.EloFor(category), category)
	if err != nil {
		c.bcast.SendToAgent(agentID, "error", errMsg("already seeking that category"))
		return
	}
	metrics.QueueDepth.WithLabelValues(category).Inc()

	lo, hi := s.EloRange()
	c.bcast.SendToAgent(agentID, "queued", map[string]any{
		"category": category,
		"position": s.Position,
		"elo_range": []int{lo, hi},
	})
}

// HandleCancelSeek implements `cancel_seek{category}`. Per §4.H this is
// only meaningful if the agent was actually seeking that category; a
// no-op cancel neither touches the gauge nor emits seek_cancelled.
func (c *Coordinator) HandleCancelSeek(agentID, category string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.queue.RemoveSeeker(agentID, category) {
		return
	}
	metrics.QueueDepth.WithLabelValues(category).Dec()
	c.bcast.SendToAgent(agentID, "seek_cancelled", map[string]any{"category": category})
}

// HandlePing implements the trivial `ping` action.
func (c *Coordinator) HandlePing(agentID string) {
	c.bcast.SendToAgent(agentID, "pong", map[string]any{})
}

// HandleUnknown implements the fallback "other" row of §4.H's table.
func (c *Coordinator) HandleUnknown(agentID string) {
	c.bcast.SendToAgent(agentID, "error", errMsg("unknown action"))
}

// HandleMove implements `move{uci}`.
func (c *Coordinator) HandleMove(agentID, uci string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	gameID, ok := c.registry.CurrentGame(agentID)
	if !ok {
		c.bcast.SendToAgent(agentID, "error", errMsg("not in a game"))
		return
	}
	game, ok := c.games[gameID]
	if !ok {
		c.bcast.SendToAgent(agentID, "error", errMsg("not in a game"))
		return
	}

	isWhite := game.WhiteAgent == agentID
	toMove := game.ToMove()
	if (toMove == clock.White) != isWhite {
		c.bcast.SendToAgent(agentID, "error", errMsg("not your turn"))
		return
	}

	if err := game.MakeMove(uci); err != nil {
		c.bcast.SendToAgent(agentID, "error", errMsg(err.Error()))
		if game.Status() == chessgame.Ended {
			c.finishGameLocked(game)
		}
		return
	}

	c.bcast.BroadcastToGame(game.WhiteAgent, game.BlackAgent, game.ID, "state", c.stateEventLocked(game, false))
	if game.Status() == chessgame.Ended {
		c.finishGameLocked(game)
	}
}

// SpectateConnect implements the spectator channel's connect behavior
// of §6: it sends the augmented initial `state` or refuses with
// "game not found" if the game is not active.
func (c *Coordinator) SpectateConnect(gameID string, ch session.Channel) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	game, ok := c.games[gameID]
	if !ok || game.Status() != chessgame.Active {
		return fmt.Errorf("game not found")
	}
	c.registry.AddSpectator(gameID, ch)
	game.AddSpectator()

	payload := c.stateEventLocked(game, false)
	payload["game_id"] = gameID
	payload["white_agent_id"] = game.WhiteAgent
	payload["black_agent_id"] = game.BlackAgent
	payload["category"] = game.Category
	payload["spectator_count"] = game.SpectatorCount()
	return ch.Send("state", payload)
}

// SpectateDisconnect removes a spectator channel from a game's set.
func (c *Coordinator) SpectateDisconnect(gameID string, ch session.Channel) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.registry.RemoveSpectator(gameID, ch)
	if game, ok := c.games[gameID]; ok {
		game.RemoveSpectator()
	}
}

// Run starts the matchmaker and disconnect-forfeit background ticks
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) {
	matchTicker := time.NewTicker(matchTickPeriod)
	forfeitTicker := time.NewTicker(forfeitTickPeriod)
	defer matchTicker.Stop()
	defer forfeitTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-matchTicker.C:
			c.runMatchTick(ctx)
		case <-forfeitTicker.C:
			c.runForfeitTick()
		}
	}
}

func (c *Coordinator) runMatchTick(ctx context.Context) {
	c.mu.Lock()
	widened, matches := c.queue.Tick()
	for _, w := range widened {
		c.bcast.SendToAgent(w.AgentID, "search_widened", map[string]any{
			"category":  w.Category,
			"elo_range": []int{w.Lo, w.Hi},
		})
	}
	for _, m := range matches {
		metrics.QueueDepth.WithLabelValues(m.Category).Add(-2)
	}
	c.mu.Unlock()

	for _, m := range matches {
		c.startGame(ctx, m)
	}
}

func (c *Coordinator) startGame(ctx context.Context, m matchqueue.MatchResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tc := categoryTimeControls[m.Category]

	whiteID, blackID := m.S1.AgentID, m.S2.AgentID
	if c.rng.Intn(2) == 1 {
		whiteID, blackID = blackID, whiteID
	}

	whiteSnap, errW := c.store.GetAgentSnapshot(ctx, whiteID)
	blackSnap, errB := c.store.GetAgentSnapshot(ctx, blackID)
	if errW != nil || errB != nil {
		c.log.Error("game-start read failed, aborting match", "white", whiteID, "black", blackID)
		c.bcast.SendToAgent(whiteID, "error", errMsg("internal server error"))
		c.bcast.SendToAgent(blackID, "error", errMsg("internal server error"))
		return
	}

	c.gameSeq++
	gameID := fmt.Sprintf("g-%s-%d-%d", m.Category, time.Now().UnixNano(), c.gameSeq)

	game := chessgame.New(gameID, whiteID, blackID, m.Category, tc)
	if err := game.Start(); err != nil {
		c.log.Error("failed to start game", "error", err)
		return
	}
	c.games[gameID] = game

	if err := c.store.RecordGameStart(ctx, store.GameStartRow{
		ID: gameID, WhiteAgentID: whiteID, BlackAgentID: blackID, Category: m.Category,
		EloWhiteBefore: whiteSnap.EloFor(m.Category), EloBlackBefore: blackSnap.EloFor(m.Category),
		StartedAt: game.StartedAt(),
	}); err != nil {
		c.log.Error("failed to persist game start", "game", gameID, "error", err)
	}

	metrics.GamesStarted.WithLabelValues(m.Category).Inc()

	c.registry.SetCurrentGame(whiteID, gameID)
	c.registry.SetCurrentGame(blackID, gameID)

	tcPayload := map[string]any{"base": tc.BaseSeconds, "increment": tc.IncrementSeconds}
	c.bcast.SendToAgent(whiteID, "game_start", map[string]any{
		"game_id": gameID, "color": "white",
		"opponent": map[string]any{"id": blackID, "name": blackSnap.Name, "elo": blackSnap.EloFor(m.Category)},
		"fen": game.FEN(), "time_control": tcPayload,
	})
	c.bcast.SendToAgent(blackID, "game_start", map[string]any{
		"game_id": gameID, "color": "black",
		"opponent": map[string]any{"id": whiteID, "name": whiteSnap.Name, "elo": whiteSnap.EloFor(m.Category)},
		"fen": game.FEN(), "time_control": tcPayload,
	})
}

func (c *Coordinator) runForfeitTick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for _, game := range c.games {
		if game.Status() != chessgame.Active {
			continue
		}
		if color, elapsed, disconnected := game.DisconnectElapsed(now); disconnected && elapsed >= disconnectForfeit {
			game.EndByDisconnect(color)
			c.finishGameLocked(game)
			continue
		}
		if game.CheckTimeout() {
			c.finishGameLocked(game)
		}
	}
}

// finishGameLocked runs the end-of-game path of §4.H exactly once per
// game, guarded by the `status != ended` check baked into both
// ChessGame's own transitions and this method's own ended-set guard.
// Callers must already hold c.mu.
func (c *Coordinator) finishGameLocked(game *chessgame.Game) {
	if c.ended[game.ID] {
		return
	}
	c.ended[game.ID] = true

	ctx := context.Background()

	whiteSnap, _ := c.store.GetAgentSnapshot(ctx, game.WhiteAgent)
	blackSnap, _ := c.store.GetAgentSnapshot(ctx, game.BlackAgent)
	whiteEloBefore := whiteSnap.EloFor(game.Category)
	blackEloBefore := blackSnap.EloFor(game.Category)

	result := game.Result()
	termination := game.Termination()

	whiteDelta, blackDelta := ratingDeltas(whiteEloBefore, blackEloBefore, result)
	whiteEloAfter := rating.Apply(whiteEloBefore, whiteDelta)
	blackEloAfter := rating.Apply(blackEloBefore, blackDelta)

	cat := ratelimit.Category(game.Category)
	whiteWin, whiteLoss, whiteDraw := outcomeFlags(result, true)
	blackWin, blackLoss, blackDraw := outcomeFlags(result, false)

	whiteCooldown := c.limiter.OnGameResult(game.WhiteAgent, cat, whiteWin, whiteDraw)
	blackCooldown := c.limiter.OnGameResult(game.BlackAgent, cat, blackWin, blackDraw)

	batch := store.GameEndBatch{
		GameID: game.ID, Result: string(result), Termination: string(termination),
		PGN: game.PGN(), EndedAt: game.EndedAt(),
		White: store.SideResult{
			AgentID: game.WhiteAgent, Category: game.Category, EloBefore: whiteEloBefore, EloAfter: whiteEloAfter,
			IsWin: whiteWin, IsLoss: whiteLoss, IsDraw: whiteDraw,
			NewLossStreak: c.limiter.LossStreak(game.WhiteAgent, cat),
			CooldownUntil: c.now().Add(time.Duration(whiteCooldown) * time.Second),
		},
		Black: store.SideResult{
			AgentID: game.BlackAgent, Category: game.Category, EloBefore: blackEloBefore, EloAfter: blackEloAfter,
			IsWin: blackWin, IsLoss: blackLoss, IsDraw: blackDraw,
			NewLossStreak: c.limiter.LossStreak(game.BlackAgent, cat),
			CooldownUntil: c.now().Add(time.Duration(blackCooldown) * time.Second),
		},
	}

	if err := c.store.CommitGameEnd(ctx, batch); err != nil {
		c.log.Error("end-of-game commit failed, deferring to retry queue", "game", game.ID, "error", err)
		metrics.PersistenceWriteFailures.Inc()
		if c.onPersistFailure != nil {
			c.onPersistFailure(batch)
		}
	}

	metrics.GamesEnded.WithLabelValues(game.Category, string(termination)).Inc()

	c.bcast.SendToAgent(game.WhiteAgent, "game_end", map[string]any{
		"result": result, "termination": termination,
		"elo_change": whiteDelta, "new_elo": whiteEloAfter, "cooldown_seconds": whiteCooldown,
	})
	c.bcast.SendToAgent(game.BlackAgent, "game_end", map[string]any{
		"result": result, "termination": termination,
		"elo_change": blackDelta, "new_elo": blackEloAfter, "cooldown_seconds": blackCooldown,
	})
	c.bcast.BroadcastToSpectators(game.ID, "game_end", map[string]any{
		"result": result, "termination": termination,
		"white_elo_change": whiteDelta, "black_elo_change": blackDelta,
	})

	c.registry.SetCurrentGame(game.WhiteAgent, "")
	c.registry.SetCurrentGame(game.BlackAgent, "")
	c.registry.EvictGame(game.ID)
	delete(c.games, game.ID)
}

// Stats is a liveness snapshot exposed at /healthz: queued seekers and
// active games, not routed anywhere else in this module.
type Stats struct {
	QueuedSeekers int
	ActiveGames   int
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{QueuedSeekers: c.queue.Len(), ActiveGames: len(c.games)}
}

func (c *Coordinator) agentSnapshotLocked(agentID string) (store.AgentSnapshot, error) {
	return c.store.GetAgentSnapshot(context.Background(), agentID)
}

func (c *Coordinator) stateEventLocked(game *chessgame.Game, reconnected bool) map[string]any {
	white, black := game.ClockTimes()
	payload := map[string]any{
		"fen":          game.FEN(),
		"last_move":    nullableString(game.LastMove()),
		"clock_white":  roundTenth(white),
		"clock_black":  roundTenth(black),
		"to_move":      toMoveString(game.ToMove()),
		"move_number":  game.MoveNumber(),
	}
	if reconnected {
		payload["reconnected"] = true
	}
	return payload
}

func opponentOf(game *chessgame.Game, agentID string) string {
	if game.WhiteAgent == agentID {
		return game.BlackAgent
	}
	return game.WhiteAgent
}

func ratingDeltas(whiteElo, blackElo int, result chessgame.Result) (whiteDelta, blackDelta int) {
	switch result {
	case chessgame.WhiteWin:
		whiteDelta, blackDelta = rating.Change(whiteElo, blackElo, false, rating.DefaultK)
	case chessgame.BlackWin:
		blackDelta, whiteDelta = rating.Change(blackElo, whiteElo, false, rating.DefaultK)
	default: // draw
		whiteDelta, blackDelta = rating.Change(whiteElo, blackElo, true, rating.DefaultK)
	}
	return
}

func outcomeFlags(result chessgame.Result, forWhite bool) (isWin, isLoss, isDraw bool) {
	switch result {
	case chessgame.Draw:
		return false, false, true
	case chessgame.WhiteWin:
		return forWhite, !forWhite, false
	case chessgame.BlackWin:
		return !forWhite, forWhite, false
	}
	return false, false, false
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func roundTenth(d time.Duration) float64 {
	return float64(d.Round(100*time.Millisecond)) / float64(time.Second)
}

func toMoveString(c clock.Color) string {
	if c == clock.White {
		return "white"
	}
	return "black"
}

func errMsg(msg string) map[string]any { return map[string]any{"message": msg} }
