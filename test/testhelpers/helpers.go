// Package testhelpers provides shared utilities for testing the chat relay:
// WebSocket dialing, protocol frame construction, and envelope assertions
// used across unit and integration tests.
package testhelpers

import (
	"encoding/json"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Envelope mirrors the wire format with the payload kept raw for
// type-specific decoding.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// MessagePayload is the decoded payload of a "message" envelope.
type MessagePayload struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

// RoomInfoPayload is the decoded payload of a "roomInfo" envelope.
type RoomInfoPayload struct {
	RoomCode  string `json:"roomCode"`
	UserCount int    `json:"userCount"`
}

// NotificationPayload is the decoded payload of a "notification" envelope.
type NotificationPayload struct {
	Message string `json:"message"`
}

// WebSocketURL converts an httptest server URL into its /ws endpoint.
func WebSocketURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
}

// ConnectWebSocket dials the WebSocket endpoint, presenting the given
// Origin header, and fails the test on handshake errors.
func ConnectWebSocket(t *testing.T, wsURL, origin string) *websocket.Conn {
	t.Helper()

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(wsURL, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.NoError(t, err, "WebSocket handshake failed")

	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// SendJoin sends a join envelope for the given identity.
func SendJoin(t *testing.T, conn *websocket.Conn, username, roomCode string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "join",
		"payload": map[string]string{"username": username, "roomCode": roomCode},
	}))
}

// SendChat sends a chat envelope with the given body.
func SendChat(t *testing.T, conn *websocket.Conn, message string) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(map[string]any{
		"type":    "chat",
		"payload": map[string]string{"message": message},
	}))
}

// SendRaw writes a raw text frame, bypassing envelope construction.
func SendRaw(t *testing.T, conn *websocket.Conn, data []byte) {
	t.Helper()
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, data))
}

// ReadEnvelope reads the next envelope, failing the test if none arrives
// within the timeout.
func ReadEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) Envelope {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	var env Envelope
	require.NoError(t, conn.ReadJSON(&env), "expected an envelope before the deadline")
	return env
}

// ExpectMessage asserts that the next envelope is a message with the given
// kind, author, and body.
func ExpectMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration, kind, username, body string) {
	t.Helper()

	env := ReadEnvelope(t, conn, timeout)
	require.Equal(t, "message", env.Type)

	var msg MessagePayload
	require.NoError(t, json.Unmarshal(env.Payload, &msg))
	assert.Equal(t, kind, msg.Type)
	assert.Equal(t, username, msg.Username)
	assert.Equal(t, body, msg.Message)
	assert.NotEmpty(t, msg.ID)
	assert.NotEmpty(t, msg.Timestamp)
}

// ExpectRoomInfo asserts that the next envelope is a roomInfo snapshot with
// the given room code and occupancy.
func ExpectRoomInfo(t *testing.T, conn *websocket.Conn, timeout time.Duration, roomCode string, userCount int) {
	t.Helper()

	env := ReadEnvelope(t, conn, timeout)
	require.Equal(t, "roomInfo", env.Type)

	var info RoomInfoPayload
	require.NoError(t, json.Unmarshal(env.Payload, &info))
	assert.Equal(t, roomCode, info.RoomCode)
	assert.Equal(t, userCount, info.UserCount)
}

// ExpectNotification asserts that the next envelope is a private
// notification with the given text.
func ExpectNotification(t *testing.T, conn *websocket.Conn, timeout time.Duration, message string) {
	t.Helper()

	env := ReadEnvelope(t, conn, timeout)
	require.Equal(t, "notification", env.Type)

	var note NotificationPayload
	require.NoError(t, json.Unmarshal(env.Payload, &note))
	assert.Equal(t, message, note.Message)
}

// ExpectNoEnvelope asserts that no frame arrives within the timeout. Read
// errors are permanent on a gorilla connection, so this must only be used
// as the final read on a connection.
func ExpectNoEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))

	_, frame, err := conn.ReadMessage()
	if err == nil {
		t.Fatalf("expected no frames, got %s", frame)
	}
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout(), "expected a read timeout, got %v", err)
}

// MakeRequest executes an HTTP request with a 5-second timeout.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(method, url, http.NoBody)
	require.NoError(t, err)

	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

// AssertStatusCode checks the HTTP response status.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	assert.Equal(t, expected, resp.StatusCode)
}
