package dashboard

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/diogoviannaaraujo/panoptic/internal/auth"
)

// eventHub pushes dashboard events (camera create/update/delete) to every
// connected operator. Adapted from the teacher's
// gorilla/websocket signaling connection, repurposed from WebRTC offer/
// answer exchange to a one-way broadcast feed.
type eventHub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

func newEventHub() *eventHub {
	return &eventHub{clients: make(map[*websocket.Conn]struct{})}
}

func (h *eventHub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = struct{}{}
}

func (h *eventHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, conn)
	conn.Close()
}

type event struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

func (h *eventHub) broadcast(eventType string, payload interface{}) {
	msg := event{Type: eventType, Payload: payload, Timestamp: time.Now()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		if err := conn.WriteJSON(msg); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin:       func(r *http.Request) bool { return true },
	EnableCompression: true,
}

// handleEventSocket upgrades an authenticated request to a websocket and
// keeps it registered until the client disconnects. The connection is
// read-only from the client's perspective; incoming frames are drained and
// discarded so the connection stays alive through proxies that expect
// bidirectional traffic.
func (s *Server) handleEventSocket(c *gin.Context) {
	tokenString := bearerToken(c)
	if tokenString == "" {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}
	if _, err := auth.ParseToken(s.jwt.Secret, tokenString); err != nil {
		c.AbortWithStatus(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	s.events.add(conn)
	defer s.events.remove(conn)

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
