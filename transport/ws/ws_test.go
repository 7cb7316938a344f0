package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"api/internal/coordinator"
	"api/internal/store"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	data, _ := json.Marshal(map[string]any{"fen": "start"})
	in := envelope{Action: "move", UCI: "e2e4", Data: data}

	raw, err := json.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}

	var out envelope
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatal(err)
	}
	if out.Action != "move" || out.UCI != "e2e4" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

// TestMoveEnvelopeUsesWireFieldNames decodes the exact frame shape §6
// defines for a client move, independent of the envelope struct, so a
// future field rename can't quietly mismatch the wire protocol again.
func TestMoveEnvelopeUsesWireFieldNames(t *testing.T) {
	raw := []byte(`{"action":"move","move":"e2e4"}`)
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatal(err)
	}
	if env.Action != "move" || env.UCI != "e2e4" {
		t.Fatalf("expected the wire key %q to populate UCI, got %+v", "move", env)
	}

	authRaw := []byte(`{"action":"auth","api_key":"secret-cred"}`)
	var authEnv envelope
	if err := json.Unmarshal(authRaw, &authEnv); err != nil {
		t.Fatal(err)
	}
	if authEnv.Action != "auth" || authEnv.APIKey != "secret-cred" {
		t.Fatalf("expected the wire key %q to populate APIKey, got %+v", "api_key", authEnv)
	}
}

func TestMalformedPayloadFailsEnvelopeUnmarshal(t *testing.T) {
	// a body that isn't valid JSON fails to unmarshal into an envelope;
	// readEnvelope turns that failure into the "__malformed__" sentinel
	// action so the read loop routes it to HandleUnknown.
	var env envelope
	err := json.Unmarshal([]byte("not json"), &env)
	if err == nil {
		t.Fatal("expected invalid JSON to fail unmarshal directly")
	}
}

// fakeStore is a minimal Store double sufficient to authenticate one
// agent over a real WebSocket handshake.
type fakeStore struct {
	agent store.AgentSnapshot
}

func (f *fakeStore) GetOrCreateAgent(ctx context.Context, digest string, identity store.VerifiedIdentity, newID, sessionCredential string) (store.AgentSnapshot, bool, error) {
	return f.agent, true, nil
}
func (f *fakeStore) FindAgentByName(ctx context.Context, name string) (store.AgentSnapshot, bool, error) {
	return f.agent, true, nil
}
func (f *fakeStore) GetAgentSnapshot(ctx context.Context, agentID string) (store.AgentSnapshot, error) {
	return f.agent, nil
}
func (f *fakeStore) RecordGameStart(ctx context.Context, row store.GameStartRow) error { return nil }
func (f *fakeStore) UpdateSessionCredential(ctx context.Context, agentID, credential string) error {
	return nil
}
func (f *fakeStore) CommitGameEnd(ctx context.Context, batch store.GameEndBatch) error { return nil }
func (f *fakeStore) TopAgents(ctx context.Context, category string, limit int) ([]store.AgentSnapshot, error) {
	return nil, nil
}
func (f *fakeStore) RecentGames(ctx context.Context, limit int) ([]store.RecentGame, error) {
	return nil, nil
}

func TestPlayHandlerAuthenticatesAndEchoesPong(t *testing.T) {
	st := &fakeStore{agent: store.AgentSnapshot{ID: "a1", Name: "Alice", EloBullet: 1200, EloBlitz: 1200, EloRapid: 1200}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := coordinator.New(st, log, []byte("test-secret"), nil)

	cred, err := coord.IssueSessionCredential("a1")
	if err != nil {
		t.Fatal(err)
	}

	e := echo.New()
	e.GET("/play", PlayHandler(coord, log))
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/play?api_key=" + url.QueryEscape(cred)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(envelope{Action: "ping"}); err != nil {
		t.Fatal(err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var got envelope
	if err := conn.ReadJSON(&got); err != nil {
		t.Fatalf("expected a pong event, read failed: %v", err)
	}
	if got.Event != "pong" {
		t.Fatalf("expected pong event, got %q", got.Event)
	}
}

func TestPlayHandlerRejectsBadCredential(t *testing.T) {
	st := &fakeStore{agent: store.AgentSnapshot{ID: "a1", Name: "Alice"}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := coordinator.New(st, log, []byte("test-secret"), nil)

	e := echo.New()
	e.GET("/play", PlayHandler(coord, log))
	srv := httptest.NewServer(e)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/play?api_key=garbage"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, _, err = conn.ReadMessage()
	if err == nil {
		t.Fatal("expected connection to be closed for an invalid credential")
	}
}
