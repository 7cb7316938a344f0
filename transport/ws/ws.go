// Package ws adapts gorilla/websocket connections to the session.Channel
// contract the core depends on, following the hub-less
// read-pump/write-pump idiom used throughout the retrieved pack (see jonradoff-chessmata's
// websocket handler) rather than the teacher repo, which never had a
// realtime transport of its own.
package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"api/internal/coordinator"
	"api/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 64

	// messagesPerSecond/burstSize are the per-connection transport-level
	// guard in front of the domain RateLimiter; a noisy or buggy agent
	// gets its excess frames dropped with an error event instead of
	// being allowed to starve the coordinator's single goroutine.
	messagesPerSecond = 10
	burstSize         = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// envelope is the wire shape of every inbound and outbound message. The
// inbound field names (move, api_key) match §6's client protocol.
type envelope struct {
	Action   string          `json:"action,omitempty"`
	Event    string          `json:"event,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	Category string          `json:"category,omitempty"`
	UCI      string          `json:"move,omitempty"`
	APIKey   string          `json:"api_key,omitempty"`
}

// channel implements session.Channel on top of one gorilla/websocket
// connection. Send is safe to call from the coordinator's goroutine;
// the actual write happens on writePump's own goroutine to keep writes
// serialized per connection as the gorilla library requires.
type channel struct {
	conn *websocket.Conn
	send chan []byte
	log  *slog.Logger

	closeOnce sync.Once
}

func newChannel(conn *websocket.Conn, log *slog.Logger) *channel {
	return &channel{conn: conn, send: make(chan []byte, sendBufferSize), log: log}
}

func (c *channel) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(envelope{Event: event, Data: data})
	if err != nil {
		return err
	}
	select {
	case c.send <- msg:
		return nil
	default:
		c.log.Warn("dropping slow connection", "event", event)
		c.Close(1008, "slow consumer")
		return nil
	}
}

func (c *channel) Close(code int, reason string) {
	c.closeOnce.Do(func() {
		deadline := time.Now().Add(writeWait)
		closeMsg := websocket.FormatCloseMessage(code, reason)
		c.conn.WriteControl(websocket.CloseMessage, closeMsg, deadline)
		close(c.send)
	})
}

func (c *channel) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *channel) readEnvelope() (envelope, error) {
	c.conn.SetReadLimit(maxMessageSize)
	_, raw, err := c.conn.ReadMessage()
	if err != nil {
		return envelope{}, err
	}
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{Action: "__malformed__"}, nil
	}
	return env, nil
}

// PlayHandler upgrades to a player connection: it authenticates via an
// `api_key` query parameter or a first `auth` action within the
// coordinator's 10s window, binds the session, and then dispatches
// every subsequent frame to the coordinator per §4.H's action table.
func PlayHandler(coord *coordinator.Coordinator, log *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Warn("websocket upgrade failed", "error", err)
			return nil
		}
		ch := newChannel(conn, log)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		credential := c.QueryParam("api_key")
		if credential == "" {
			conn.SetReadDeadline(time.Now().Add(coordinator.AuthWindow()))
			env, err := ch.readEnvelope()
			if err != nil || env.Action != "auth" || env.APIKey == "" {
				ch.Close(4001, "authentication timed out")
				conn.Close()
				return nil
			}
			credential = env.APIKey
		}

		snap, err := coord.AuthenticateSession(c.Request().Context(), credential)
		if err != nil {
			ch.Close(4001, "invalid session credential")
			conn.Close()
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		go ch.writePump()
		coord.BindSession(snap.ID, snap.Name, ch)

		runPlayerReadLoop(coord, ch, snap.ID)
		return nil
	}
}

func runPlayerReadLoop(coord *coordinator.Coordinator, ch *channel, agentID string) {
	limiter := rate.NewLimiter(rate.Limit(messagesPerSecond), burstSize)
	defer coord.HandleDisconnect(agentID)

	for {
		env, err := ch.readEnvelope()
		if err != nil {
			return
		}
		if !limiter.Allow() {
			ch.Send("error", map[string]any{"message": "rate limited"})
			continue
		}

		switch env.Action {
		case "seek":
			coord.HandleSeek(agentID, env.Category)
		case "cancel_seek":
			coord.HandleCancelSeek(agentID, env.Category)
		case "move":
			coord.HandleMove(agentID, env.UCI)
		case "ping":
			coord.HandlePing(agentID)
		default:
			coord.HandleUnknown(agentID)
		}
	}
}

// SpectateHandler upgrades a read-only connection watching one game.
func SpectateHandler(coord *coordinator.Coordinator, log *slog.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		gameID := c.Param("gameId")

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			log.Warn("spectator websocket upgrade failed", "error", err)
			return nil
		}
		ch := newChannel(conn, log)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			conn.SetReadDeadline(time.Now().Add(pongWait))
			return nil
		})

		if err := coord.SpectateConnect(gameID, ch); err != nil {
			ch.Close(4004, "game not found")
			conn.Close()
			return nil
		}

		go ch.writePump()
		defer coord.SpectateDisconnect(gameID, ch)

		for {
			if _, err := ch.readEnvelope(); err != nil {
				return nil
			}
		}
	}
}

var _ session.Channel = (*channel)(nil)
