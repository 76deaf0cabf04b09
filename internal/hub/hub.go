// Package hub fans completed conversations out to spectator WebSocket
// connections.
package hub

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/xiaot623/agentmatch/internal/domain"
)

// TypeConvoCompleted is the message type pushed for each new feed entry.
const TypeConvoCompleted = "convo_completed"

// FeedMessage is the payload written to spectators.
type FeedMessage struct {
	Type  string          `json:"type"`
	Ts    int64           `json:"ts"`
	Entry domain.FeedItem `json:"entry"`
}

// Connection represents a single spectator connection.
type Connection struct {
	ID   string
	Conn *websocket.Conn
	Send chan []byte
	mu   sync.Mutex
}

// Hub manages all spectator connections.
type Hub struct {
	connections map[string]*Connection

	register   chan *Connection
	unregister chan *Connection
	broadcast  chan []byte
	done       chan struct{}

	mu sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[string]*Connection),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
		broadcast:   make(chan []byte, 256),
		done:        make(chan struct{}),
	}
}

// Run starts the hub's main loop. It returns when ctx is done, closing every
// connection's send channel.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, conn := range h.connections {
				delete(h.connections, id)
				close(conn.Send)
			}
			h.mu.Unlock()
			return

		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn.ID] = conn
			h.mu.Unlock()
			log.Printf("Spectator connected: %s", conn.ID)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn.ID]; ok {
				delete(h.connections, conn.ID)
				close(conn.Send)
			}
			h.mu.Unlock()
			log.Printf("Spectator disconnected: %s", conn.ID)

		case data := <-h.broadcast:
			h.mu.RLock()
			for id, conn := range h.connections {
				select {
				case conn.Send <- data:
				default:
					// Buffer full, close the connection
					log.Printf("Spectator %s buffer full, closing", id)
					go h.Unregister(conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// NewConnection wraps a WebSocket connection. It is not registered yet.
func (h *Hub) NewConnection(ws *websocket.Conn) *Connection {
	return &Connection{
		ID:   uuid.New().String(),
		Conn: ws,
		Send: make(chan []byte, 64),
	}
}

// Register registers a connection with the hub.
func (h *Hub) Register(conn *Connection) {
	select {
	case h.register <- conn:
	case <-h.done:
		close(conn.Send)
	}
}

// Unregister unregisters a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	select {
	case h.unregister <- conn:
	case <-h.done:
	}
}

// Broadcast queues a completed conversation for every spectator. It never
// blocks the caller; when the queue is full the entry is dropped.
func (h *Hub) Broadcast(entry *domain.FeedEntry) {
	data, err := json.Marshal(FeedMessage{
		Type:  TypeConvoCompleted,
		Ts:    time.Now().UnixMilli(),
		Entry: domain.NewFeedItem(entry),
	})
	if err != nil {
		log.Printf("WARN: failed to marshal feed message: %v", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		log.Printf("WARN: spectator broadcast queue full, dropping %s", entry.ConvoID)
	}
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// WriteMessage writes a message to the connection with proper locking.
func (c *Connection) WriteMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteMessage(messageType, data)
}

// Close closes the connection.
func (c *Connection) Close() error {
	return c.Conn.Close()
}
