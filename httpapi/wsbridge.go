package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// wsHub fans a broadcast stream out to every connected websocket client.
// Slow clients are disconnected rather than allowed to back up the hub.
type wsHub struct {
	logger    *log.Logger
	broadcast chan []byte

	mu      sync.Mutex
	clients map[*websocket.Conn]chan []byte
}

func newWSHub(logger *log.Logger) *wsHub {
	return &wsHub{
		logger:    logger,
		broadcast: make(chan []byte, 64),
		clients:   make(map[*websocket.Conn]chan []byte),
	}
}

func (h *wsHub) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for conn := range h.clients {
				conn.Close()
			}
			h.clients = make(map[*websocket.Conn]chan []byte)
			h.mu.Unlock()
			return
		case msg := <-h.broadcast:
			h.mu.Lock()
			for conn, send := range h.clients {
				select {
				case send <- msg:
				default:
					// Client can't keep up; drop it.
					close(send)
					delete(h.clients, conn)
					conn.Close()
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *wsHub) add(conn *websocket.Conn) chan []byte {
	send := make(chan []byte, 16)
	h.mu.Lock()
	h.clients[conn] = send
	h.mu.Unlock()
	return send
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if send, ok := h.clients[conn]; ok {
		close(send)
		delete(h.clients, conn)
	}
	h.mu.Unlock()
	conn.Close()
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWS upgrades the connection and streams status snapshots until the
// client goes away.
func (s *Server) handleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Logger.Printf("httpapi: websocket upgrade failed: %v", err)
		return
	}
	send := s.hub.add(conn)

	// Reader goroutine: only there to notice the close.
	go func() {
		defer s.hub.remove(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			s.hub.remove(conn)
			return
		}
	}
}

// broadcastLoop pushes a status snapshot to every client every few
// seconds, matching the dashboard's refresh cadence.
func (s *Server) broadcastLoop(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := s.Planner.Snapshot()
			msg, err := json.Marshal(snap)
			if err != nil {
				s.Logger.Printf("httpapi: encoding snapshot: %v", err)
				continue
			}
			select {
			case s.hub.broadcast <- msg:
			default:
			}
		}
	}
}
