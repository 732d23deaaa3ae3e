package api_test

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"

	"chatmend/domain"
)

func dialWS(t *testing.T, serverURL, conversationID string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws?conversation_id=" + conversationID
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	assert.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestWebSocketRelaysDetections(t *testing.T) {
	f := newFixture(t, "http://example.invalid")
	e := echo.New()
	f.handler.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	receiver := dialWS(t, srv.URL, "abc-123")
	other := dialWS(t, srv.URL, "def-456")
	sender := dialWS(t, srv.URL, "abc-123")

	// Let the registrations land in the hub loop before broadcasting.
	time.Sleep(50 * time.Millisecond)

	// A frame with the wrong discriminator is dropped, not relayed.
	assert.NoError(t, sender.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"something-else","content":"forged"}`)))

	// A well-formed detection without a conversation id inherits the
	// connection's.
	assert.NoError(t, sender.WriteMessage(websocket.TextMessage,
		[]byte(`{"type":"`+domain.DetectionType+`","content":"flagged"}`)))

	_ = receiver.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := receiver.ReadMessage()
	assert.NoError(t, err)

	var ev domain.DetectionEvent
	assert.NoError(t, json.Unmarshal(data, &ev))
	assert.Equal(t, domain.DetectionType, ev.Type)
	assert.Equal(t, "flagged", ev.Content)
	assert.Equal(t, "abc-123", ev.ConversationID)

	// Subscribers of other conversations see nothing.
	_ = other.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	_, _, err = other.ReadMessage()
	assert.Error(t, err, "broadcast leaked across conversations")
}
