// Package chessgame implements the per-match chess + clock state
// machine of §4.D: board state, clock timeout, legal-move validation,
// and termination detection, in that priority order.
//
// Board mechanics (legal moves, check/mate/stalemate/insufficient
// material/repetition/fifty-move detection, FEN/PGN/UCI I/O) are
// delegated to github.com/corentings/chess, the same library the
// teacher repo depends on.
package chessgame

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/corentings/chess"

	"api/internal/clock"
)

// Status is the lifecycle state of a Game.
type Status string

const (
	Pending Status = "pending"
	Active  Status = "active"
	Ended   Status = "ended"
)

// Result is the final outcome of a Game.
type Result string

const (
	WhiteWin Result = "white_win"
	BlackWin Result = "black_win"
	Draw     Result = "draw"
)

// Termination classifies how a Game ended.
type Termination string

const (
	Checkmate          Termination = "checkmate"
	Timeout            Termination = "timeout"
	Stalemate          Termination = "stalemate"
	InsufficientMaterial Termination = "insufficient"
	Repetition         Termination = "repetition"
	FiftyMove          Termination = "fifty_move"
	Disconnect         Termination = "disconnect"
	Resignation        Termination = "resignation"
)

// MoveError is returned by MakeMove for any rejected move; the Reason is
// exactly what the client-facing error{message} event should carry.
type MoveError struct {
	Reason string
}

func (e *MoveError) Error() string { return e.Reason }

// TimeControl is the base allowance + Fischer increment for a category.
type TimeControl struct {
	BaseSeconds      int
	IncrementSeconds int
}

// Game is the authoritative per-match state owned exclusively by the
// PlayCoordinator. Every method takes the Game's own mutex, so
// concurrent spectator reads are safe; the coordinator still serializes
// all mutation under its own lock.
type Game struct {
	mu sync.Mutex

	ID          string
	WhiteAgent  string
	BlackAgent  string
	Category    string
	TimeControl TimeControl

	chess *chess.Game
	Clock *clock.Clock

	history []string // UCI

	status      Status
	result      Result
	termination Termination

	whiteConnected, blackConnected bool
	whiteDisconnectAt, blackDisconnectAt time.Time

	spectators int

	startedAt, endedAt time.Time
}

// New creates a pending game. Start must be called before moves are
// accepted.
func New(id, whiteAgent, blackAgent, category string, tc TimeControl) *Game {
	return &Game{
		ID:              id,
		WhiteAgent:      whiteAgent,
		BlackAgent:      blackAgent,
		Category:        category,
		TimeControl:     tc,
		chess:           chess.NewGame(),
		Clock:           clock.New(time.Duration(tc.BaseSeconds)*time.Second, time.Duration(tc.IncrementSeconds)*time.Second),
		status:          Pending,
		whiteConnected:  true,
		blackConnected:  true,
	}
}

// Start transitions pending -> active and starts the clock.
func (g *Game) Start() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != Pending {
		return fmt.Errorf("game not pending")
	}
	g.status = Active
	g.startedAt = time.Now().UTC()
	g.Clock.Start()
	return nil
}

// Status returns the current lifecycle state.
func (g *Game) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// ToMove returns which color is on the move.
func (g *Game) ToMove() clock.Color {
	g.mu.Lock()
	defer g.mu.Unlock()
	return toClockColor(g.chess.Position().Turn())
}

// FEN returns the current board position.
func (g *Game) FEN() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.chess.FEN()
}

// MoveNumber returns the 1-indexed full-move number.
func (g *Game) MoveNumber() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.history)/2 + 1
}

// LastMove returns the most recent UCI move, or "" if none has been
// played yet.
func (g *Game) LastMove() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.history) == 0 {
		return ""
	}
	return g.history[len(g.history)-1]
}

// ClockTimes returns the current white/black remaining durations.
func (g *Game) ClockTimes() (white, black time.Duration) {
	return g.Clock.CurrentTimes()
}

// Result/Termination are only meaningful once Status() == Ended.
func (g *Game) Result() Result           { g.mu.Lock(); defer g.mu.Unlock(); return g.result }
func (g *Game) Termination() Termination { g.mu.Lock(); defer g.mu.Unlock(); return g.termination }
func (g *Game) StartedAt() time.Time     { g.mu.Lock(); defer g.mu.Unlock(); return g.startedAt }
func (g *Game) EndedAt() time.Time       { g.mu.Lock(); defer g.mu.Unlock(); return g.endedAt }

// MakeMove validates and applies a UCI move for the current side to
// move, following the ordered checks of §4.D.
func (g *Game) MakeMove(uci string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status != Active {
		return &MoveError{Reason: "game not active"}
	}

	// 1. timeout check happens before the move is ever parsed.
	if side := g.Clock.Timeout(); side != clock.NoColor {
		g.endByTimeoutLocked(side)
		return &MoveError{Reason: "timeout"}
	}

	// 2. parse
	mv, err := parseUCI(g.chess.Position(), uci)
	if err != nil {
		return &MoveError{Reason: "invalid format"}
	}

	// 3. legality
	if !isLegal(g.chess, mv) {
		return &MoveError{Reason: "illegal move"}
	}

	// 4. push + history
	if err := g.chess.Move(mv); err != nil {
		return &MoveError{Reason: "illegal move"}
	}
	g.history = append(g.history, uci)

	// 5. clock switch, increment credited only because Timeout() above
	// already confirmed no timeout was pending.
	g.Clock.Switch()

	// 6. claim auto-resolvable draws. corentings/chess settles
	// checkmate, stalemate, insufficient material, fivefold repetition
	// and the 75-move rule on its own, but threefold repetition and the
	// fifty-move rule only ever become *eligible* claims — nothing
	// claims them automatically, so without this the game would just
	// keep going past a third repetition. Claim on the agents' behalf
	// in the priority order §4.D requires (mate/stalemate/material,
	// already settled above, then repetition, then fifty-move) before
	// reading the outcome.
	if g.chess.Outcome() == chess.NoOutcome {
		eligible := g.chess.EligibleDraws()
		switch {
		case hasMethod(eligible, chess.ThreefoldRepetition):
			g.chess.Draw(chess.ThreefoldRepetition)
		case hasMethod(eligible, chess.FiftyMoveRule):
			g.chess.Draw(chess.FiftyMoveRule)
		}
	}

	// 7. terminal evaluation.
	g.evaluateTerminalLocked()

	return nil
}

// EndByDisconnect force-ends the game because color's side has been
// disconnected past the forfeit window. May be called from any
// non-ended status.
func (g *Game) EndByDisconnect(color clock.Color) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == Ended {
		return
	}
	g.status = Ended
	g.termination = Disconnect
	g.result = opponentWins(color)
	g.endedAt = time.Now().UTC()
}

func (g *Game) endByTimeoutLocked(color clock.Color) {
	if g.status == Ended {
		return
	}
	g.status = Ended
	g.termination = Timeout
	g.result = opponentWins(color)
	g.endedAt = time.Now().UTC()
}

// CheckTimeout is called by the disconnect-forfeit tick to end a game
// whose clock has lapsed outside of a move attempt.
func (g *Game) CheckTimeout() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != Active {
		return false
	}
	if side := g.Clock.Timeout(); side != clock.NoColor {
		g.endByTimeoutLocked(side)
		return true
	}
	return false
}

// SetConnected records connectivity for one side, per agent id; a
// disconnect also records at as that side's disconnect time.
func (g *Game) SetConnected(agentID string, connected bool, at time.Time) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if agentID == g.WhiteAgent {
		g.whiteConnected = connected
		if !connected {
			g.whiteDisconnectAt = at
		}
	} else if agentID == g.BlackAgent {
		g.blackConnected = connected
		if !connected {
			g.blackDisconnectAt = at
		}
	}
}

// DisconnectElapsed reports, for a disconnected side (white first if
// both are), how long it has been disconnected. ok is false if both
// sides are connected or the game is not active.
func (g *Game) DisconnectElapsed(now time.Time) (color clock.Color, elapsed time.Duration, ok bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != Active {
		return clock.NoColor, 0, false
	}
	if !g.whiteConnected {
		return clock.White, now.Sub(g.whiteDisconnectAt), true
	}
	if !g.blackConnected {
		return clock.Black, now.Sub(g.blackDisconnectAt), true
	}
	return clock.NoColor, 0, false
}

// AddSpectator/RemoveSpectator track the spectator count for display
// purposes only; the actual spectator channel set lives in the session
// registry.
func (g *Game) AddSpectator()    { g.mu.Lock(); g.spectators++; g.mu.Unlock() }
func (g *Game) RemoveSpectator() { g.mu.Lock(); g.spectators--; g.mu.Unlock() }
func (g *Game) SpectatorCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.spectators
}

func (g *Game) evaluateTerminalLocked() {
	outcome := g.chess.Outcome()
	if outcome == chess.NoOutcome {
		return
	}
	g.status = Ended
	g.endedAt = time.Now().UTC()

	switch outcome {
	case chess.WhiteWon:
		g.result = WhiteWin
	case chess.BlackWon:
		g.result = BlackWin
	case chess.Draw:
		g.result = Draw
	}

	switch g.chess.Method() {
	case chess.Checkmate:
		g.termination = Checkmate
	case chess.Stalemate:
		g.termination = Stalemate
	case chess.InsufficientMaterial:
		g.termination = InsufficientMaterial
	case chess.ThreefoldRepetition, chess.FivefoldRepetition:
		g.termination = Repetition
	case chess.FiftyMoveRule, chess.SeventyFiveMoveRule:
		g.termination = FiftyMove
	default:
		// Checkmate is only a safe fallback for a decisive result; an
		// unmapped draw method is left unset rather than mislabeled.
		if outcome != chess.Draw {
			g.termination = Checkmate
		}
	}
}

func hasMethod(methods []chess.Method, target chess.Method) bool {
	for _, m := range methods {
		if m == target {
			return true
		}
	}
	return false
}

func opponentWins(color clock.Color) Result {
	if color == clock.White {
		return BlackWin
	}
	return WhiteWin
}

func toClockColor(c chess.Color) clock.Color {
	if c == chess.White {
		return clock.White
	}
	return clock.Black
}

func parseUCI(pos *chess.Position, uci string) (*chess.Move, error) {
	uci = strings.TrimSpace(uci)
	if len(uci) < 4 {
		return nil, fmt.Errorf("too short")
	}
	return chess.UCINotation{}.Decode(pos, uci)
}

func isLegal(g *chess.Game, mv *chess.Move) bool {
	for _, lm := range g.ValidMoves() {
		if lm.String() == mv.String() {
			return true
		}
	}
	return false
}

// PGN exports the finished (or in-progress) game with the headers
// §4.D requires.
func (g *Game) PGN() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	date := "????.??.??"
	if !g.startedAt.IsZero() {
		date = g.startedAt.Format("2006.01.02")
	}

	var resultTag string
	switch g.result {
	case WhiteWin:
		resultTag = "1-0"
	case BlackWin:
		resultTag = "0-1"
	case Draw:
		resultTag = "1/2-1/2"
	default:
		resultTag = "*"
	}

	g.chess.AddTagPair("Event", "MoltChess Arena")
	g.chess.AddTagPair("Site", "arena")
	g.chess.AddTagPair("Date", date)
	g.chess.AddTagPair("White", g.WhiteAgent)
	g.chess.AddTagPair("Black", g.BlackAgent)
	g.chess.AddTagPair("TimeControl", fmt.Sprintf("%d+%d", g.TimeControl.BaseSeconds, g.TimeControl.IncrementSeconds))
	g.chess.AddTagPair("Result", resultTag)
	g.chess.AddTagPair("Termination", string(g.termination))

	return g.chess.String()
}
