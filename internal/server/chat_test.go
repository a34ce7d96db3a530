package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/wingheights/wingsite/internal/chat"
	"github.com/wingheights/wingsite/internal/config"
)

// socketBot answers every message with "echo: <text>".
func socketBot(t *testing.T) *httptest.Server {
	t.Helper()
	up := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		conn.WriteJSON(map[string]any{"event": "session_created", "data": map[string]string{"session_id": "bot-1"}})
		for {
			var env chat.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			var req struct {
				Message string `json:"message"`
			}
			json.Unmarshal(env.Data, &req)
			conn.WriteJSON(map[string]any{"event": "response", "data": map[string]any{"response": "echo: " + req.Message}})
		}
	}))
}

func dialBridge(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/chat/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	return conn
}

// readEvent reads frames until one with the given event arrives.
func readEvent(t *testing.T, conn *websocket.Conn, event string, match func(json.RawMessage) bool) json.RawMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var env chat.Envelope
		require.NoError(t, conn.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event && (match == nil || match(env.Data)) {
			return env.Data
		}
	}
}

func stateIs(want string) func(json.RawMessage) bool {
	return func(data json.RawMessage) bool {
		var s struct {
			State string `json:"state"`
		}
		json.Unmarshal(data, &s)
		return s.State == want
	}
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(chat.Envelope{Event: event, Data: raw}))
}

func TestChatBridgeSocketBot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bot := socketBot(t)
	defer bot.Close()

	bridge := NewChatBridge(config.ChatConfig{URL: "ws" + strings.TrimPrefix(bot.URL, "http")}, nil)
	front := httptest.NewServer(bridge)
	defer front.Close()

	conn := dialBridge(t, front)
	readEvent(t, conn, "state", stateIs("connected"))

	var session struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "session_created", nil), &session))
	assert.Equal(t, "bot-1", session.SessionID)

	sendEvent(t, conn, "message", map[string]string{"message": "hello"})
	var reply chat.Reply
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "response", nil), &reply))
	assert.Equal(t, "echo: hello", reply.Response)

	conn.Close()
	bridge.Wait()
}

func TestChatBridgeSocketBotUnreachable(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bridge := NewChatBridge(config.ChatConfig{URL: "ws://127.0.0.1:1/ws", MaxRetries: 1, RetryDelay: "10ms"}, nil)
	front := httptest.NewServer(bridge)
	defer front.Close()

	conn := dialBridge(t, front)
	readEvent(t, conn, "state", stateIs("errored"))

	var e struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "error", nil), &e))
	assert.Equal(t, "Failed to connect to chat server", e.Message)

	sendEvent(t, conn, "message", map[string]string{"message": "anyone?"})
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "error", nil), &e))
	assert.Equal(t, "Not connected to the chat server.", e.Message)

	conn.Close()
	bridge.Wait()
}

func TestChatBridgeHTTPBot(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	var (
		mu        sync.Mutex
		histories [][]string
	)
	bot := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Message     string   `json:"message"`
			ChatHistory []string `json:"chat_history"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		mu.Lock()
		histories = append(histories, req.ChatHistory)
		mu.Unlock()
		json.NewEncoder(w).Encode(map[string]any{"response": "re: " + req.Message, "requires_input": true})
	}))
	defer bot.Close()

	bridge := NewChatBridge(config.ChatConfig{URL: bot.URL}, nil, WithChatHTTPClient(bot.Client()))
	front := httptest.NewServer(bridge)
	defer front.Close()

	conn := dialBridge(t, front)
	readEvent(t, conn, "state", stateIs("connected"))
	readEvent(t, conn, "session_created", nil)

	for _, msg := range []string{"first", "second"} {
		sendEvent(t, conn, "message", map[string]string{"message": msg})
		var reply chat.Reply
		require.NoError(t, json.Unmarshal(readEvent(t, conn, "response", nil), &reply))
		assert.Equal(t, "re: "+msg, reply.Response)
	}

	conn.Close()
	bridge.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, histories, 2)
	assert.Empty(t, histories[0])
	assert.Equal(t, []string{"user: first", "bot: re: first"}, histories[1])
}

func TestChatBridgeHTTPBotBooking(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	sub := &fakeSubmitter{}
	bridge := NewChatBridge(config.ChatConfig{URL: "http://bot.invalid/chat"}, nil, WithChatSubmitter(sub))
	front := httptest.NewServer(bridge)
	defer front.Close()

	conn := dialBridge(t, front)
	readEvent(t, conn, "session_created", nil)

	var details map[string]string
	require.NoError(t, json.Unmarshal([]byte(validBooking), &details))

	sendEvent(t, conn, "submit_appointment", map[string]any{"appointment_details": details})
	var reply chat.Reply
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "response", nil), &reply))
	assert.Equal(t, "Form data saved and calendar invite sent successfully", reply.Response)

	details["appointmentDate"] = "someday"
	sendEvent(t, conn, "submit_appointment", map[string]any{"appointment_details": details})
	var e struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(readEvent(t, conn, "error", nil), &e))
	assert.Equal(t, "Invalid date", e.Message)

	conn.Close()
	bridge.Wait()
	assert.Len(t, sub.got, 2)
}

func TestChatBridgeShutdownClosesWidgets(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	bridge := NewChatBridge(config.ChatConfig{URL: "http://bot.invalid/chat"}, nil)
	front := httptest.NewServer(bridge)
	defer front.Close()

	conn := dialBridge(t, front)
	defer conn.Close()
	readEvent(t, conn, "session_created", nil)

	bridge.Shutdown()
	bridge.Wait()
	bridge.Shutdown()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestChatBridgeDisabled(t *testing.T) {
	bridge := NewChatBridge(config.ChatConfig{}, nil)
	assert.False(t, bridge.Enabled())

	w := httptest.NewRecorder()
	bridge.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/chat/ws", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var nilBridge *ChatBridge
	assert.False(t, nilBridge.Enabled())
}

func TestSameOrigin(t *testing.T) {
	tests := []struct {
		origin string
		host   string
		want   bool
	}{
		{"", "wingheights.com", true},
		{"https://wingheights.com", "wingheights.com", true},
		{"http://localhost:8080", "localhost:8080", true},
		{"https://evil.example", "wingheights.com", false},
		{"://bad", "wingheights.com", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/chat/ws", nil)
		r.Host = tt.host
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		assert.Equal(t, tt.want, sameOrigin(r), "origin %q host %q", tt.origin, tt.host)
	}
}

func TestRequestErrorMessage(t *testing.T) {
	assert.Equal(t, "Please wait for the current reply.", requestErrorMessage(chat.ErrRequestPending))
	assert.Equal(t, "Not connected to the chat server.", requestErrorMessage(chat.ErrClosed))
	assert.Equal(t, "Please type a message.", requestErrorMessage(chat.ErrEmptyMessage))
}
