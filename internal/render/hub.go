package render

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	hubClientBuffer = 64
	hubWriteWait    = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // served on the local network only
	},
}

type hubClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub is a Sink that broadcasts every event as JSON to connected websocket
// clients. A client that cannot keep up is disconnected.
type Hub struct {
	mu      sync.RWMutex
	clients map[*hubClient]bool
	// greet, when set, is sent to each client right after it connects.
	greet func() any
}

// NewHub returns a hub with no clients. greet may be nil.
func NewHub(greet func() any) *Hub {
	return &Hub{clients: make(map[*hubClient]bool), greet: greet}
}

// ServeHTTP upgrades the request and registers the client until it goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v", err)
		return
	}
	c := &hubClient{conn: conn, send: make(chan []byte, hubClientBuffer)}

	if h.greet != nil {
		if msg, err := json.Marshal(h.greet()); err == nil {
			c.send <- msg
		}
	}

	h.mu.Lock()
	h.clients[c] = true
	h.mu.Unlock()

	go c.writeLoop()

	// reads only detect the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.remove(c)
}

func (c *hubClient) writeLoop() {
	defer c.conn.Close()
	for msg := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(hubWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (h *Hub) remove(c *hubClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
}

// Handle implements Sink.
func (h *Hub) Handle(e Event) {
	msg, err := json.Marshal(e)
	if err != nil {
		logf("failed to encode %s event: %v", e.Type, err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			delete(h.clients, c)
			close(c.send)
			log.Printf("dropped slow websocket client %s", c.conn.RemoteAddr())
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		delete(h.clients, c)
		close(c.send)
	}
}
