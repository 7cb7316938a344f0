package coordinator

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"api/internal/store"
)

// fakeStore is an in-memory Store double, letting coordinator tests run
// without a real sqlite file.
type fakeStore struct {
	mu     sync.Mutex
	agents map[string]store.AgentSnapshot
	games  []store.GameEndBatch
	starts []store.GameStartRow
}

func newFakeStore() *fakeStore {
	return &fakeStore{agents: make(map[string]store.AgentSnapshot)}
}

func (f *fakeStore) seed(id, name string, elo int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.agents[id] = store.AgentSnapshot{ID: id, Name: name, EloBullet: elo, EloBlitz: elo, EloRapid: elo}
}

func (f *fakeStore) GetOrCreateAgent(ctx context.Context, digest string, identity store.VerifiedIdentity, newID, sessionCredential string) (store.AgentSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	snap := store.AgentSnapshot{ID: newID, Name: identity.Name, EloBullet: 1200, EloBlitz: 1200, EloRapid: 1200}
	f.agents[newID] = snap
	return snap, true, nil
}

func (f *fakeStore) FindAgentByName(ctx context.Context, name string) (store.AgentSnapshot, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.agents {
		if a.Name == name {
			return a, true, nil
		}
	}
	return store.AgentSnapshot{}, false, nil
}

func (f *fakeStore) GetAgentSnapshot(ctx context.Context, agentID string) (store.AgentSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[agentID], nil
}

func (f *fakeStore) RecordGameStart(ctx context.Context, row store.GameStartRow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts = append(f.starts, row)
	return nil
}

func (f *fakeStore) UpdateSessionCredential(ctx context.Context, agentID, credential string) error {
	return nil
}

func (f *fakeStore) CommitGameEnd(ctx context.Context, batch store.GameEndBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.games = append(f.games, batch)
	a := f.agents[batch.White.AgentID]
	a.EloBlitz = batch.White.EloAfter
	f.agents[batch.White.AgentID] = a
	b := f.agents[batch.Black.AgentID]
	b.EloBlitz = batch.Black.EloAfter
	f.agents[batch.Black.AgentID] = b
	return nil
}

func (f *fakeStore) TopAgents(ctx context.Context, category string, limit int) ([]store.AgentSnapshot, error) {
	return nil, nil
}

func (f *fakeStore) RecentGames(ctx context.Context, limit int) ([]store.RecentGame, error) {
	return nil, nil
}

// fakeChannel records every event sent to it instead of writing to a
// real connection.
type fakeChannel struct {
	mu     sync.Mutex
	events []string
	closed bool
}

func (c *fakeChannel) Send(event string, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *fakeChannel) Close(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeChannel) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.events) == 0 {
		return ""
	}
	return c.events[len(c.events)-1]
}

func newTestCoordinator(st store.Store) (*Coordinator, *time.Time) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := New(st, log, []byte("test-secret"), nil)
	now := time.Unix(0, 0)
	c.now = func() time.Time { return now }
	return c, &now
}

func TestSeekThenMatchStartsGame(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	st.seed("a2", "Bob", 1200)
	c, _ := newTestCoordinator(st)

	chA, chB := &fakeChannel{}, &fakeChannel{}
	c.BindSession("a1", "Alice", chA)
	c.BindSession("a2", "Bob", chB)

	c.HandleSeek("a1", "blitz")
	c.HandleSeek("a2", "blitz")

	if chA.last() != "queued" {
		t.Fatalf("expected a1 queued, got %s", chA.last())
	}

	c.runMatchTick(context.Background())

	if chA.last() != "game_start" || chB.last() != "game_start" {
		t.Fatalf("expected both sides to receive game_start, got %s / %s", chA.last(), chB.last())
	}
	if len(c.games) != 1 {
		t.Fatalf("expected one active game, got %d", len(c.games))
	}
}

func TestSeekRejectsInvalidCategory(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	c, _ := newTestCoordinator(st)
	ch := &fakeChannel{}
	c.BindSession("a1", "Alice", ch)

	c.HandleSeek("a1", "correspondence")
	if ch.last() != "error" {
		t.Fatalf("expected error for unknown category, got %s", ch.last())
	}
}

func TestMoveRejectsOutOfTurn(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	st.seed("a2", "Bob", 1200)
	c, _ := newTestCoordinator(st)

	chA, chB := &fakeChannel{}, &fakeChannel{}
	c.BindSession("a1", "Alice", chA)
	c.BindSession("a2", "Bob", chB)
	c.HandleSeek("a1", "blitz")
	c.HandleSeek("a2", "blitz")
	c.runMatchTick(context.Background())

	gameID, _ := c.registry.CurrentGame("a1")
	game := c.games[gameID]
	blackID := game.BlackAgent
	blackCh := chA
	if blackID == "a2" {
		blackCh = chB
	}

	c.HandleMove(blackID, "e2e4")
	if blackCh.last() != "error" {
		t.Fatalf("expected black moving first to be rejected, got %s", blackCh.last())
	}
}

func TestDisconnectForfeitsAfterDeadline(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	st.seed("a2", "Bob", 1200)
	c, now := newTestCoordinator(st)

	chA, chB := &fakeChannel{}, &fakeChannel{}
	c.BindSession("a1", "Alice", chA)
	c.BindSession("a2", "Bob", chB)
	c.HandleSeek("a1", "blitz")
	c.HandleSeek("a2", "blitz")
	c.runMatchTick(context.Background())

	c.HandleDisconnect("a1")

	*now = now.Add(disconnectForfeit + time.Second)
	c.runForfeitTick()

	if len(st.games) != 1 {
		t.Fatalf("expected one committed game after forfeit, got %d", len(st.games))
	}
	if len(c.games) != 0 {
		t.Fatalf("expected game to be evicted after forfeit, got %d active", len(c.games))
	}
}

func TestReconnectRestoresGameState(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	st.seed("a2", "Bob", 1200)
	c, _ := newTestCoordinator(st)

	chA, chB := &fakeChannel{}, &fakeChannel{}
	c.BindSession("a1", "Alice", chA)
	c.BindSession("a2", "Bob", chB)
	c.HandleSeek("a1", "blitz")
	c.HandleSeek("a2", "blitz")
	c.runMatchTick(context.Background())

	c.HandleDisconnect("a1")

	newCh := &fakeChannel{}
	gameID, isReconnect := c.BindSession("a1", "Alice", newCh)
	if !isReconnect || gameID == "" {
		t.Fatalf("expected reconnect into active game, got reconnect=%v game=%q", isReconnect, gameID)
	}
	if newCh.last() != "state" {
		t.Fatalf("expected reconnecting agent to receive state, got %s", newCh.last())
	}
}

func TestHandleCancelSeekIsNoopWhenNotSeeking(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	c, _ := newTestCoordinator(st)
	ch := &fakeChannel{}
	c.BindSession("a1", "Alice", ch)

	c.HandleCancelSeek("a1", "blitz")
	if ch.last() != "" {
		t.Fatalf("expected no event for cancelling a seek that was never open, got %s", ch.last())
	}

	c.HandleSeek("a1", "blitz")
	c.HandleCancelSeek("a1", "blitz")
	if ch.last() != "seek_cancelled" {
		t.Fatalf("expected seek_cancelled once a real seek is cancelled, got %s", ch.last())
	}
}

func TestFinishGameLockedIsIdempotent(t *testing.T) {
	st := newFakeStore()
	st.seed("a1", "Alice", 1200)
	st.seed("a2", "Bob", 1200)
	c, _ := newTestCoordinator(st)

	chA, chB := &fakeChannel{}, &fakeChannel{}
	c.BindSession("a1", "Alice", chA)
	c.BindSession("a2", "Bob", chB)
	c.HandleSeek("a1", "blitz")
	c.HandleSeek("a2", "blitz")
	c.runMatchTick(context.Background())

	gameID, _ := c.registry.CurrentGame("a1")
	game := c.games[gameID]

	c.mu.Lock()
	game.EndByDisconnect(0)
	c.finishGameLocked(game)
	c.finishGameLocked(game)
	c.mu.Unlock()

	if len(st.games) != 1 {
		t.Fatalf("expected exactly one committed batch despite two finish calls, got %d", len(st.games))
	}
}
