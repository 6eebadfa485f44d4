// Package testhelpers provides common utilities for testing the chat service.
//
// It covers dialing push connections with the headers the server expects,
// reading envelopes with deadlines, and waiting on asynchronous registry
// state so tests do not depend on fixed sleeps.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// TestOrigin is the Origin header sent by ConnectWebSocket.
const TestOrigin = "http://localhost:8080"

// Envelope mirrors the JSON delivered to room peers.
type Envelope struct {
	User string `json:"user"`
	Msg  string `json:"msg"`
}

// AssertStatusCode checks if the HTTP response has the expected status code.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// MakeRequest creates and executes an HTTP request, returning the response.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// WebSocketURL builds the push endpoint URL for room on an httptest server.
func WebSocketURL(serverURL, room, token string) string {
	u := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws/" + url.PathEscape(room)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// ConnectWebSocket dials url with the test Origin header. The handshake
// response is returned so callers can inspect refusals.
func ConnectWebSocket(url string) (*websocket.Conn, *http.Response, error) {
	return ConnectWebSocketWithOrigin(url, TestOrigin)
}

// ConnectWebSocketWithOrigin dials url with the given Origin header. An
// empty origin sends none.
func ConnectWebSocketWithOrigin(url, origin string) (*websocket.Conn, *http.Response, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	if origin != "" {
		headers.Set("Origin", origin)
	}

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return conn, resp, err
}

// MustConnect dials url and fails the test on error. The connection is
// closed when the test ends.
func MustConnect(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := ConnectWebSocket(url)
	if err != nil {
		t.Fatalf("Failed to connect to %s: %v", url, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendText sends a single text frame.
func SendText(t *testing.T, conn *websocket.Conn, text string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(text)); err != nil {
		t.Fatalf("Failed to send %q: %v", text, err)
	}
}

// ReceiveEnvelope reads one frame and decodes it as an Envelope.
func ReceiveEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	messageType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to receive envelope: %v", err)
	}
	if messageType != websocket.TextMessage {
		t.Fatalf("Expected text frame, got type %d", messageType)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode envelope %q: %v", data, err)
	}
	return env
}

// AssertEnvelope checks the sender and text of a received envelope.
func AssertEnvelope(t *testing.T, env Envelope, user, msg string) {
	t.Helper()
	if env.User != user || env.Msg != msg {
		t.Errorf("Expected envelope {%s %q}, got {%s %q}", user, msg, env.User, env.Msg)
	}
}

// ExpectNoMessage fails if conn receives any frame within timeout. A timed
// out gorilla connection cannot be read again, so call it last.
func ExpectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	defer conn.SetReadDeadline(time.Time{})

	if _, data, err := conn.ReadMessage(); err == nil {
		t.Errorf("Expected no message, got %q", data)
	}
}

// Eventually polls cond until it holds or timeout elapses.
func Eventually(t *testing.T, timeout time.Duration, cond func() bool, format string, args ...any) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !cond() {
		t.Fatalf(format, args...)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
