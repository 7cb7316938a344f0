// Package session implements §4.F's SessionRegistry: agent<->connection
// binding, the current-game pointer per agent, and the spectator set per
// game.
package session

import "sync"

// Channel is whatever the transport adapter hands the core — a thin
// sender the Broadcaster and Coordinator use to push events without
// knowing about WebSocket framing.
type Channel interface {
	// Send marshals and writes a single event. Implementations must be
	// safe to call from the coordinator's single logical thread; they
	// need not be safe for concurrent calls from multiple goroutines.
	Send(event string, payload any) error
	// Close terminates the underlying connection with a protocol close
	// code, best-effort.
	Close(code int, reason string)
}

// entry is one bound agent connection.
type entry struct {
	channel       Channel
	displayName   string
	currentGameID string
}

// Registry binds agent ids to connections and games, and tracks the
// spectator set of every active game. Safe for concurrent use.
type Registry struct {
	mu sync.Mutex

	agents     map[string]*entry
	spectators map[string]map[Channel]struct{} // gameID -> spectator channels
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents:     make(map[string]*entry),
		spectators: make(map[string]map[Channel]struct{}),
	}
}

// Bind replaces any prior channel bound to agentID and returns the
// evicted channel (nil if there was none); Bind does not close it, the
// caller does (BindSession closes it with code 4000). A prior
// entry's currentGameID carries over, so rebinding after a disconnect
// is what lets BindSession detect a reconnect into an active game.
func (r *Registry) Bind(agentID, displayName string, ch Channel) (evicted Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var gameID string
	if prior, ok := r.agents[agentID]; ok {
		evicted = prior.channel
		gameID = prior.currentGameID
	}
	r.agents[agentID] = &entry{channel: ch, displayName: displayName, currentGameID: gameID}
	return evicted
}

// Unbind removes the agent's connection entirely (used on a disconnect
// when the agent is not in an active game).
func (r *Registry) Unbind(agentID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.agents, agentID)
}

// SetCurrentGame records (or clears, with "") which game an agent is
// bound to.
func (r *Registry) SetCurrentGame(agentID, gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.agents[agentID]; ok {
		e.currentGameID = gameID
	}
}

// CurrentGame returns the game id an agent is bound to, if any.
func (r *Registry) CurrentGame(agentID string) (gameID string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok || e.currentGameID == "" {
		return "", false
	}
	return e.currentGameID, true
}

// Channel returns the channel currently bound to an agent, if any.
func (r *Registry) Channel(agentID string) (Channel, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.agents[agentID]
	if !ok {
		return nil, false
	}
	return e.channel, true
}

// IsBound reports whether an agent has a registry entry. An agent that
// disconnected mid-game keeps its entry, so this does not imply the
// bound channel is still live.
func (r *Registry) IsBound(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.agents[agentID]
	return ok
}

// AddSpectator registers a spectator channel under a game id.
func (r *Registry) AddSpectator(gameID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.spectators[gameID]
	if !ok {
		set = make(map[Channel]struct{})
		r.spectators[gameID] = set
	}
	set[ch] = struct{}{}
}

// RemoveSpectator unregisters a spectator channel from a game.
func (r *Registry) RemoveSpectator(gameID string, ch Channel) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.spectators[gameID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(r.spectators, gameID)
		}
	}
}

// Spectators returns a snapshot of the spectator channels for a game.
func (r *Registry) Spectators(gameID string) []Channel {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.spectators[gameID]
	out := make([]Channel, 0, len(set))
	for ch := range set {
		out = append(out, ch)
	}
	return out
}

// EvictGame drops the spectator set for a game once it has ended.
func (r *Registry) EvictGame(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.spectators, gameID)
}
