// Package broadcast implements §4.G's fan-out of state events to
// players and spectators, on top of the session Registry.
package broadcast

import (
	"log/slog"

	"api/internal/session"
)

// Broadcaster sends events to single agents and fans them out to a
// game's white/black players plus its spectators.
type Broadcaster struct {
	registry *session.Registry
	log      *slog.Logger
}

// New creates a Broadcaster backed by registry.
func New(registry *session.Registry, log *slog.Logger) *Broadcaster {
	return &Broadcaster{registry: registry, log: log}
}

// SendToAgent is a best-effort single send; transport errors are
// logged and swallowed — the disconnect monitor reconciles state, not
// this call.
func (b *Broadcaster) SendToAgent(agentID, event string, payload any) {
	ch, ok := b.registry.Channel(agentID)
	if !ok {
		return
	}
	if err := ch.Send(event, payload); err != nil {
		b.log.Warn("send to agent failed", "agent", agentID, "event", event, "error", err)
	}
}

// BroadcastToGame sends to both named players and every spectator of
// gameID. playerPayload is what white/black each receive (same value
// for both, typically a {fen, clocks, ...} state event); callers that
// need per-player payloads should call SendToAgent individually
// instead. Spectators receive the same playerPayload; a different
// spectator payload goes through BroadcastToSpectators.
func (b *Broadcaster) BroadcastToGame(whiteAgent, blackAgent, gameID, event string, playerPayload any) {
	b.SendToAgent(whiteAgent, event, playerPayload)
	b.SendToAgent(blackAgent, event, playerPayload)
	b.broadcastToSpectatorsLocked(gameID, event, playerPayload)
}

// BroadcastToSpectators sends only to a game's spectators, pruning any
// spectator whose send fails.
func (b *Broadcaster) BroadcastToSpectators(gameID, event string, payload any) {
	b.broadcastToSpectatorsLocked(gameID, event, payload)
}

func (b *Broadcaster) broadcastToSpectatorsLocked(gameID, event string, payload any) {
	for _, ch := range b.registry.Spectators(gameID) {
		if err := ch.Send(event, payload); err != nil {
			b.log.Warn("spectator send failed, pruning", "game", gameID, "error", err)
			b.registry.RemoveSpectator(gameID, ch)
		}
	}
}
