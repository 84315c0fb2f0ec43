package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"arena-service/internal/app"
	"arena-service/internal/domain"
	"arena-service/internal/infra/memory"

	"github.com/gorilla/websocket"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	events := app.NewBroadcaster()
	engine := app.NewSessionEngine(memory.NewSessionStore(), memory.NewLedger(nil), events, app.DefaultScoring, nil)
	handler := NewWSHandler(engine, events, nil)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.ServeWS)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws?guildId=g1&channelId=c1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestWebSocketContestFlow(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	// Start a quiz round.
	writeMsg(t, conn, "start", map[string]any{
		"kind": "quiz",
		"content": map[string]any{
			"prompt":       "Which?",
			"options":      []string{"A", "B", "C", "D"},
			"correctIndex": 2,
		},
		"durationSeconds": 30,
	})

	sessionPayload := readExpect(t, conn, "session", "event")
	sessionID, _ := sessionPayload["id"].(string)
	if sessionID == "" {
		t.Fatalf("expected session id in payload %+v", sessionPayload)
	}

	// Submit the correct answer.
	writeMsg(t, conn, "submit", map[string]any{
		"sessionId":   sessionID,
		"userId":      "u1",
		"chosenIndex": 2,
	})
	result := readExpect(t, conn, "submitResult", "event")
	if correct, _ := result["correct"].(bool); !correct {
		t.Fatalf("expected correct submit, got %+v", result)
	}
	if first, _ := result["first"].(bool); !first {
		t.Fatalf("expected first correct, got %+v", result)
	}

	// Reveal and check the aggregate.
	writeMsg(t, conn, "reveal", map[string]any{"sessionId": sessionID})
	summary := readExpect(t, conn, "summary", "event")
	if total, _ := summary["totalAnswers"].(float64); total != 1 {
		t.Fatalf("expected 1 answer in summary, got %+v", summary)
	}

	// Leaderboard over the same socket.
	writeMsg(t, conn, "leaderboard", map[string]any{"limit": 10})
	readListExpect(t, conn, "leaderboard")
}

func TestWebSocketErrorCarriesCode(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	writeMsg(t, conn, "submit", map[string]any{
		"sessionId": "missing",
		"userId":    "u1",
	})
	payload := readExpect(t, conn, "error", "event")
	if code, _ := payload["code"].(string); code != string(domain.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND code, got %+v", payload)
	}
}

func TestWebSocketRequiresChannel(t *testing.T) {
	server := newTestServer(t)
	resp, err := http.Get(server.URL + "/ws")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 without channel, got %d", resp.StatusCode)
	}
}

func writeMsg(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": msgType, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", msgType, err)
	}
}

// readExpect reads until a message of the wanted type arrives, skipping any
// types listed in skip (lifecycle events interleave with replies).
func readExpect(t *testing.T, conn *websocket.Conn, want string, skip ...string) map[string]any {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == want {
			var payload map[string]any
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				t.Fatalf("unmarshal %s payload: %v", want, err)
			}
			return payload
		}
		if !contains(skip, msg.Type) {
			t.Fatalf("expected %s, got %s", want, msg.Type)
		}
	}
	t.Fatalf("no %s message received", want)
	return nil
}

func readListExpect(t *testing.T, conn *websocket.Conn, want string) []any {
	t.Helper()
	for i := 0; i < 10; i++ {
		var msg struct {
			Type    string          `json:"type"`
			Payload json.RawMessage `json:"payload"`
		}
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		if msg.Type == want {
			var payload []any
			if err := json.Unmarshal(msg.Payload, &payload); err != nil {
				t.Fatalf("unmarshal %s payload: %v", want, err)
			}
			return payload
		}
		if msg.Type != "event" {
			t.Fatalf("expected %s, got %s", want, msg.Type)
		}
	}
	t.Fatalf("no %s message received", want)
	return nil
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}
