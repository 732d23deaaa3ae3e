package api

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"chatmend/domain"
	"chatmend/hub"
	"chatmend/reconcile"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

// upgrader validates that the connecting page shares our origin, so
// arbitrary sites cannot attach to the detection channel. A configured
// ALLOWED_ORIGIN overrides the same-host check.
func (h *Handler) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			if h.config.AllowedOrigin != "" {
				return origin == h.config.AllowedOrigin
			}
			u, err := url.Parse(origin)
			if err != nil {
				return false
			}
			return u.Host == r.Host
		},
	}
}

// HandleWebSocket upgrades a page shim connection and joins it to its
// conversation's broadcast group.
// GET /ws?conversation_id=...
func (h *Handler) HandleWebSocket(c echo.Context) error {
	up := h.upgrader()
	ws, err := up.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		log.Printf("WARN: websocket upgrade rejected: %v", err)
		return err
	}

	conversationID := c.QueryParam("conversation_id")
	conn := h.hub.NewConnection(ws, conversationID)
	h.hub.Register(conn)

	go h.writePump(conn)
	go h.readPump(conn)

	return nil
}

// pushOutcome broadcasts a reconciled turn to the conversation's
// subscribers.
func (h *Handler) pushOutcome(outcome *reconcile.Outcome, turnHTML string) {
	if outcome.ConversationID == "" {
		return
	}
	data, err := json.Marshal(map[string]interface{}{
		"type":     "turn-reconciled",
		"index":    outcome.Index,
		"replaced": outcome.Replaced,
		"text":     outcome.Text,
		"reason":   outcome.Reason,
		"html":     turnHTML,
	})
	if err != nil {
		log.Printf("WARN: failed to marshal outcome push: %v", err)
		return
	}
	h.hub.Broadcast(outcome.ConversationID, data)
}

// readPump consumes inbound shim messages. Only well-formed detection
// broadcasts are relayed to the conversation's subscribers; anything with a
// wrong discriminator is dropped without logging, so forged page messages
// get no feedback.
func (h *Handler) readPump(conn *hub.Connection) {
	defer func() {
		h.hub.Unregister(conn)
		conn.Close()
	}()

	conn.Conn.SetReadLimit(1 << 20)
	_ = conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.Conn.SetPongHandler(func(string) error {
		return conn.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WARN: websocket read failed: %v", err)
			}
			return
		}

		var ev domain.DetectionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			continue
		}
		if ev.Type != domain.DetectionType {
			continue
		}
		if ev.ConversationID == "" {
			ev.ConversationID = conn.ConversationID
		}

		relay, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		h.hub.Broadcast(ev.ConversationID, relay)
	}
}

// writePump forwards hub broadcasts to the socket.
func (h *Handler) writePump(conn *hub.Connection) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case data, ok := <-conn.Send:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
