package websocket

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// Client represents one subscribed websocket connection.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int
}

// Hub is the subscription registry plus broadcast fanout. Attach, detach and
// enumeration all run on the hub loop goroutine, so the client set needs no
// locking. Delivery is best-effort: a subscriber whose send buffer is full is
// dropped and detached, never waited on.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte
	clients    map[*Client]bool
}

// NewHub creates and starts a new Hub loop.
func NewHub() *Hub {
	h := &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 64),
		clients:    make(map[*Client]bool),
	}
	go h.run()
	return h
}

func (h *Hub) run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case payload := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- payload:
				default:
					// Slow subscriber: drop the message and detach.
					// The client converges via its next snapshot fetch.
					slog.Warn("dropping slow websocket subscriber", "userId", c.userID)
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues a payload for delivery to every attached subscriber.
// It never blocks the caller on subscriber progress; if the hub queue itself
// is full the payload is dropped and logged.
func (h *Hub) Broadcast(payload []byte) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- payload:
	default:
		slog.Error("broadcast queue full, dropping notification")
	}
}

// writeWait bounds a single frame write. pongWait is how long a subscriber
// may stay silent before it is presumed dead; the hub pings at pingPeriod so
// a healthy peer always answers inside that window. Vars so tests can shrink
// the intervals.
const writeWait = 10 * time.Second

var (
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ServeWS upgrades the HTTP connection to a websocket and attaches it to the
// hub. The caller must authenticate first and set userId in the gin context.
func ServeWS(h *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetInt("userId")
		if userID == 0 {
			c.AbortWithStatus(http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			slog.Error("websocket upgrade failed", "err", err)
			return
		}
		client := &Client{hub: h, conn: conn, send: make(chan []byte, 256), userID: userID}
		h.register <- client

		// Reader goroutine: the push channel is one-way, so inbound frames
		// only feed liveness (pong handling and close detection).
		go func() {
			defer func() {
				h.unregister <- client
				_ = conn.Close()
			}()
			conn.SetReadLimit(1024)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()

		// Writer loop (same goroutine). Pings keep idle connections
		// inside the peer's read deadline; a peer that stops answering
		// them trips ours.
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		defer conn.Close()
		for {
			select {
			case msg, ok := <-client.send:
				if !ok {
					return
				}
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	}
}
