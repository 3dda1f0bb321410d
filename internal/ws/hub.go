// Package ws pushes notifications to connected profiles over websockets.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 32
)

// Message is the frame clients receive.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type delivery struct {
	profileIDs []uint
	payload    []byte
}

// Hub owns the set of connected clients. Only Run touches the map.
type Hub struct {
	clients    map[uint]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	deliver    chan delivery
	done       chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[uint]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		deliver:    make(chan delivery, 256),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, set := range h.clients {
				for c := range set {
					close(c.send)
				}
			}
			h.clients = map[uint]map[*Client]bool{}
			return
		case c := <-h.register:
			if h.clients[c.profileID] == nil {
				h.clients[c.profileID] = make(map[*Client]bool)
			}
			h.clients[c.profileID][c] = true
		case c := <-h.unregister:
			h.remove(c)
		case d := <-h.deliver:
			for _, id := range d.profileIDs {
				for c := range h.clients[id] {
					select {
					case c.send <- d.payload:
					default:
						// Slow reader.
						h.remove(c)
					}
				}
			}
		}
	}
}

func (h *Hub) remove(c *Client) {
	set, ok := h.clients[c.profileID]
	if !ok || !set[c] {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.profileID)
	}
}

// Notify queues msg for every connection of the given profiles. It drops the message rather
// than block a request when the hub is saturated.
func (h *Hub) Notify(profileIDs []uint, msg Message) {
	if len(profileIDs) == 0 {
		return
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		slog.Error("Error marshalling WS message", "error", err)
		return
	}
	select {
	case h.deliver <- delivery{profileIDs: profileIDs, payload: payload}:
	default:
		slog.Warn("WS hub saturated, dropping notification", "type", msg.Type)
	}
}

// Client is one websocket connection of a profile.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	profileID uint
	send      chan []byte
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWs upgrades the request and attaches the connection to profileID. The caller has already
// authenticated the request.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request, profileID uint) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Websocket upgrade failed", "error", err)
		return
	}
	c := &Client{hub: hub, conn: conn, profileID: profileID, send: make(chan []byte, sendBuffer)}
	select {
	case hub.register <- c:
	case <-hub.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump only handles control frames; clients never send data.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Debug("Websocket closed", "profile_id", c.profileID, "error", err)
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
