// Package ratelimit implements the per-agent per-category cooldown and
// loss-streak policy of §4.C. The transport-level message-rate guard
// in front of it lives in transport/ws, not here.
package ratelimit

import (
	"sync"
	"time"
)

// Category identifies one of the three fixed time controls.
type Category string

const (
	Bullet Category = "bullet"
	Blitz  Category = "blitz"
	Rapid  Category = "rapid"
)

// baseCooldown is the §4.C cooldown table.
var baseCooldown = map[Category]time.Duration{
	Bullet: 30 * time.Second,
	Blitz:  60 * time.Second,
	Rapid:  120 * time.Second,
}

const (
	lossStreakThreshold = 3
	lossStreakExtra      = 120 * time.Second
)

type rateState struct {
	cooldownUntil time.Time
	lossStreak    int
}

// Limiter tracks cooldowns and loss streaks for every (agent, category)
// pair. Safe for concurrent use, though callers normally operate under
// the Coordinator's own serialization.
type Limiter struct {
	mu    sync.Mutex
	state map[string]map[Category]*rateState

	now func() time.Time
}

// New creates an empty Limiter.
func New() *Limiter {
	return &Limiter{
		state: make(map[string]map[Category]*rateState),
		now:   time.Now,
	}
}

func (l *Limiter) entry(agentID string, cat Category) *rateState {
	byCat, ok := l.state[agentID]
	if !ok {
		byCat = make(map[Category]*rateState)
		l.state[agentID] = byCat
	}
	st, ok := byCat[cat]
	if !ok {
		st = &rateState{}
		byCat[cat] = st
	}
	return st
}

// Reason enumerates why a seek was rejected.
type Reason string

const (
	ReasonNone       Reason = ""
	ReasonCooldown   Reason = "cooldown"
	ReasonLossStreak Reason = "loss_streak"
)

// CanSeek reports whether an agent may enqueue a seek for cat right now.
// retryAfter is the number of whole seconds remaining on the cooldown,
// rounded up, and is only meaningful when ok is false.
func (l *Limiter) CanSeek(agentID string, cat Category) (ok bool, reason Reason, retryAfter int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.entry(agentID, cat)
	now := l.now()
	if now.Before(st.cooldownUntil) {
		remaining := st.cooldownUntil.Sub(now)
		return false, ReasonCooldown, ceilSeconds(remaining)
	}
	return true, ReasonNone, 0
}

// OnGameResult applies the post-game cooldown/loss-streak update for one
// side of a finished game and returns the total cooldown duration (in
// seconds) that was just applied.
func (l *Limiter) OnGameResult(agentID string, cat Category, isWinner, isDraw bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	st := l.entry(agentID, cat)
	switch {
	case isDraw:
		// loss streak untouched on draws
	case isWinner:
		st.lossStreak = 0
	default:
		st.lossStreak++
	}

	total := baseCooldown[cat]
	if !isDraw && !isWinner && st.lossStreak >= lossStreakThreshold {
		total += lossStreakExtra
	}
	st.cooldownUntil = l.now().Add(total)
	return int(total / time.Second)
}

// LossStreak returns the current loss streak for (agent, category),
// primarily for tests and diagnostics.
func (l *Limiter) LossStreak(agentID string, cat Category) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.entry(agentID, cat).lossStreak
}

func ceilSeconds(d time.Duration) int {
	secs := d / time.Second
	if d%time.Second != 0 {
		secs++
	}
	return int(secs)
}
