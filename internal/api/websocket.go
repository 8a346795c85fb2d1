package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/wellsgz/netpulse/internal/logging"
	"github.com/wellsgz/netpulse/internal/monitor"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096

	clientBuffer = 256
)

// Server message types
const (
	MessageProbeResult  = "probe_result"
	MessageEvent        = "event"
	MessageSubscribed   = "subscribed"
	MessageUnsubscribed = "unsubscribed"
	MessageError        = "error"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ClientMessage represents a message from client to server
type ClientMessage struct {
	Type    string   `json:"type"`    // "subscribe" or "unsubscribe"
	Targets []string `json:"targets"` // Target names or ["all"]
}

// ServerMessage represents a message from server to client
type ServerMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

// Hub relays monitor updates to subscribed WebSocket clients
type Hub struct {
	engine Engine

	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client

	done     chan struct{}
	stopOnce sync.Once

	// guards clients for ClientCount; Run is the only writer
	mu sync.RWMutex
}

// NewHub creates a hub fed by engine
func NewHub(engine Engine) *Hub {
	return &Hub{
		engine:     engine,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop; it returns after Stop
func (h *Hub) Run() {
	updates := h.engine.Subscribe()
	defer h.engine.Unsubscribe(updates)

	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			h.mu.Unlock()
			logging.Info("WebSocket", "hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			logging.Debug("WebSocket", "client connected", zap.Int("total", total))

		case client := <-h.unregister:
			h.remove(client)

		case u, ok := <-updates:
			if !ok {
				// Monitor stopped; keep serving connected clients until Stop
				updates = nil
				continue
			}
			h.dispatch(u)
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		close(client.send)
	}
	total := len(h.clients)
	h.mu.Unlock()

	if ok {
		logging.Debug("WebSocket", "client disconnected", zap.Int("total", total))
	}
}

// dispatch sends an update, and its event if any, to every client subscribed to the target
func (h *Hub) dispatch(u monitor.Update) {
	messages := []ServerMessage{{Type: MessageProbeResult, Data: u}}
	if u.Event != nil {
		messages = append(messages, ServerMessage{Type: MessageEvent, Data: u.Event})
	}

	var slow []*Client
	h.mu.RLock()
	for client := range h.clients {
		if !client.isSubscribed(u.Target) {
			continue
		}
		for _, msg := range messages {
			select {
			case client.send <- msg:
			default:
				slow = append(slow, client)
			}
		}
	}
	h.mu.RUnlock()

	for _, client := range slow {
		logging.Warn("WebSocket", "dropping slow client")
		h.remove(client)
	}
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Stop signals the hub to shut down. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Client represents a WebSocket client
type Client struct {
	hub  *Hub
	conn *websocket.Conn

	// send is closed by the hub
	send chan ServerMessage
	// replies carries acks and errors from readPump; never closed
	replies chan ServerMessage

	// Subscribed targets; nothing is delivered until the client subscribes
	targets    map[string]bool
	allTargets bool
	mu         sync.RWMutex
}

// isSubscribed checks if client is subscribed to a target
func (c *Client) isSubscribed(target string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.allTargets {
		return true
	}
	return c.targets[target]
}

// subscribe adds targets to subscription
func (c *Client) subscribe(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range targets {
		if t == "all" {
			c.allTargets = true
			continue
		}
		c.targets[t] = true
	}
}

// unsubscribe removes targets from subscription
func (c *Client) unsubscribe(targets []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, t := range targets {
		if t == "all" {
			c.allTargets = false
			c.targets = make(map[string]bool)
			return
		}
		delete(c.targets, t)
	}
}

// readPump handles subscription requests until the connection closes
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error("WebSocket", "read error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(ServerMessage{Type: MessageError, Data: "Invalid message format"})
			continue
		}

		switch msg.Type {
		case "subscribe":
			c.subscribe(msg.Targets)
			c.reply(ServerMessage{Type: MessageSubscribed, Data: msg.Targets})
		case "unsubscribe":
			c.unsubscribe(msg.Targets)
			c.reply(ServerMessage{Type: MessageUnsubscribed, Data: msg.Targets})
		default:
			c.reply(ServerMessage{Type: MessageError, Data: "Unknown message type: " + msg.Type})
		}
	}
}

func (c *Client) reply(msg ServerMessage) {
	select {
	case c.replies <- msg:
	default:
	}
}

// writePump pumps messages from the hub to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			message ServerMessage
			ok      bool
		)
		select {
		case message, ok = <-c.send:
			if !ok {
				// Hub closed the channel
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
		case message = <-c.replies:
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			continue
		}

		data, err := json.Marshal(message)
		if err != nil {
			logging.Error("WebSocket", "marshal error", err)
			continue
		}
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
}

// ServeWebSocket handles WebSocket requests from clients
func ServeWebSocket(hub *Hub) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logging.Error("WebSocket", "upgrade error", err)
			return
		}

		client := &Client{
			hub:     hub,
			conn:    conn,
			send:    make(chan ServerMessage, clientBuffer),
			replies: make(chan ServerMessage, 8),
			targets: make(map[string]bool),
		}

		select {
		case hub.register <- client:
		case <-hub.done:
			conn.Close()
			return
		}

		go client.writePump()
		go client.readPump()
	}
}
