// Package hub manages WebSocket subscribers for detection broadcasts: the
// channel over which the relay tells page shims that a completion was
// filtered, and over which reconciled turns are pushed back.
package hub

import (
	"log"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Connection represents a single WebSocket connection.
type Connection struct {
	ID             string
	ConversationID string
	Conn           *websocket.Conn
	Send           chan []byte
}

// Close closes the underlying socket.
func (c *Connection) Close() {
	_ = c.Conn.Close()
}

// Hub manages all WebSocket connections, indexed by conversation.
type Hub struct {
	connections   map[string]*Connection
	conversations map[string]map[string]bool

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan *ConversationMessage

	mu sync.RWMutex
}

// ConversationMessage is broadcast to every subscriber of a conversation.
type ConversationMessage struct {
	ConversationID string
	Data           []byte
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections:   make(map[string]*Connection),
		conversations: make(map[string]map[string]bool),
		register:      make(chan *Connection),
		unregister:    make(chan *Connection),
		broadcast:     make(chan *ConversationMessage, 256),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			if conn.ConversationID != "" {
				if h.conversations[conn.ConversationID] == nil {
					h.conversations[conn.ConversationID] = make(map[string]bool)
				}
				h.conversations[conn.ConversationID][conn.ID] = true
			}
			h.mu.Unlock()
			log.Printf("connection registered: %s (conversation: %s)", conn.ID, conn.ConversationID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				if conn.ConversationID != "" && h.conversations[conn.ConversationID] != nil {
					delete(h.conversations[conn.ConversationID], conn.ID)
					if len(h.conversations[conn.ConversationID]) == 0 {
						delete(h.conversations, conn.ConversationID)
					}
				}
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("connection unregistered: %s", conn.ID)

		case msg := <-h.broadcast:
			h.mu.RLock()
			if connIDs, ok := h.conversations[msg.ConversationID]; ok {
				for connID := range connIDs {
					if conn, exists := h.connections[connID]; exists {
						select {
						case conn.Send <- msg.Data:
						default:
							log.Printf("connection %s buffer full, closing", connID)
							go h.Unregister(conn)
						}
					}
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection creates a connection bound to a conversation.
func (h *Hub) NewConnection(ws *websocket.Conn, conversationID string) *Connection {
	return &Connection{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		Conn:           ws,
		Send:           make(chan []byte, 256),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(conn *Connection) {
	h.register <- conn
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Broadcast sends data to every subscriber of a conversation.
func (h *Hub) Broadcast(conversationID string, data []byte) {
	h.broadcast <- &ConversationMessage{ConversationID: conversationID, Data: data}
}
