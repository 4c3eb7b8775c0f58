package server_test

import (
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/Tyrowin/gochat-relay/internal/chat"
	"github.com/Tyrowin/gochat-relay/internal/server"
)

const (
	testOrigin  = "http://localhost:8080"
	readTimeout = 2 * time.Second
)

type testEnv struct {
	hub   *server.Hub
	srv   *httptest.Server
	wsURL string
}

// newTestEnv starts a hub and an httptest server routed through SetupRoutes.
// mutate may adjust the configuration before anything is built.
func newTestEnv(t *testing.T, mutate func(*server.Config), opts ...server.HubOption) *testEnv {
	t.Helper()

	cfg := server.NewConfig()
	if mutate != nil {
		mutate(cfg)
	}
	sanitized := cfg.Sanitize()

	log := zaptest.NewLogger(t, zaptest.Level(zap.WarnLevel))
	rooms := chat.NewRooms()
	relay := chat.NewRelay(rooms, log, chat.WithOutboundEvent(sanitized.OutboundEvent))
	hub := server.NewHub(&sanitized, chat.NewRegistry(), rooms, relay, log, opts...)
	go hub.Run()

	srv := httptest.NewServer(server.SetupRoutes(hub))
	t.Cleanup(srv.Close)
	t.Cleanup(func() {
		if err := hub.Shutdown(5 * time.Second); err != nil {
			t.Errorf("hub shutdown: %v", err)
		}
	})

	return &testEnv{
		hub:   hub,
		srv:   srv,
		wsURL: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

// dial opens a WebSocket connection that is closed when the test ends.
func (e *testEnv) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", testOrigin)

	conn, resp, err := dialer.Dial(e.wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		t.Fatalf("dial %s: %v", e.wsURL, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func emit(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"event": event, "data": data}); err != nil {
		t.Fatalf("emit %s: %v", event, err)
	}
}

type delivered struct {
	Event string       `json:"event"`
	Data  chat.Message `json:"data"`
}

// readFrame reads the next relayed frame.
func readFrame(t *testing.T, conn *websocket.Conn) delivered {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var d delivered
	if err := conn.ReadJSON(&d); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return d
}

// expectNoFrame asserts that nothing arrives within wait. The connection must
// not be read from afterwards.
func expectNoFrame(t *testing.T, conn *websocket.Conn, wait time.Duration) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(wait)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	if _, raw, err := conn.ReadMessage(); err == nil {
		t.Fatalf("expected no frame, got %s", raw)
	}
}

// expectClosed asserts that the server closes conn.
func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(readTimeout)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			t.Fatalf("connection still open: %v", err)
		}
		return
	}
}

var syncSeq atomic.Int64

// settle round-trips a message through a private conversation. Frames from
// one connection are applied in order, so every event conn sent before
// settle has taken effect when it returns.
func settle(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	id := "sync-" + strconv.FormatInt(syncSeq.Add(1), 10)
	emit(t, conn, "join_conversation", map[string]any{"conversation_id": id})
	emit(t, conn, "send_message", map[string]any{"conversation_id": id, "message": "sync"})
	for {
		d := readFrame(t, conn)
		if d.Data.ConversationID == id {
			emit(t, conn, "leave_conversation", map[string]any{"conversation_id": id})
			return
		}
	}
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(readTimeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
