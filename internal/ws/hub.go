package ws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Authorizer decides whether userID may subscribe to channel.
type Authorizer func(ctx context.Context, userID, channel string) bool

// Hub fans form events out to the admin connections subscribed to them.
type Hub struct {
	mu        sync.RWMutex
	conns     map[*Conn]bool
	subs      map[string]map[*Conn]bool // channel -> connections
	publish   chan Event
	log       *zap.Logger
	authorize Authorizer
}

// Conn is one authenticated admin socket.
type Conn struct {
	ws     *websocket.Conn
	send   chan []byte
	hub    *Hub
	userID string
	subs   map[string]bool // subscribed channels
	ctx    context.Context
}

// Event represents a message to be published
type Event struct {
	Channel string
	Message map[string]interface{}
}

// NewHub creates a new WebSocket hub
func NewHub(log *zap.Logger) *Hub {
	return &Hub{
		conns:   make(map[*Conn]bool),
		subs:    make(map[string]map[*Conn]bool),
		publish: make(chan Event, 256),
		log:     log,
	}
}

// SetAuthorizer restricts subscriptions; without one every channel is open.
func (h *Hub) SetAuthorizer(a Authorizer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.authorize = a
}

// Run starts the hub's event loop and returns once ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-h.publish:
			h.deliver(event)
		}
	}
}

func (h *Hub) deliver(event Event) {
	msg, err := json.Marshal(eventMessage{Type: "event", Channel: event.Channel, Data: event.Message})
	if err != nil {
		h.log.Warn("Failed to encode event", zap.String("channel", event.Channel), zap.Error(err))
		return
	}

	h.mu.RLock()
	var slow []*Conn
	for conn := range h.subs[event.Channel] {
		select {
		case conn.send <- msg:
		default:
			slow = append(slow, conn)
		}
	}
	h.mu.RUnlock()

	for _, conn := range slow {
		h.log.Warn("Dropping slow WebSocket connection", zap.String("user_id", conn.userID))
		h.unregister(conn)
	}
}

func (h *Hub) Register(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

// unregister closes conn's queue and drops its subscriptions; safe to repeat.
func (h *Hub) unregister(conn *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; ok {
		delete(h.conns, conn)
		close(conn.send)
		for channel := range conn.subs {
			if subs := h.subs[channel]; subs != nil {
				delete(subs, conn)
				if len(subs) == 0 {
					delete(h.subs, channel)
				}
			}
		}
	}
}

// Subscribe adds a connection to a channel
func (h *Hub) Subscribe(conn *Conn, channel string) bool {
	h.mu.RLock()
	authorize := h.authorize
	h.mu.RUnlock()
	if authorize != nil && !authorize(conn.ctx, conn.userID, channel) {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[conn]; !ok {
		return false
	}
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*Conn]bool)
	}
	h.subs[channel][conn] = true
	conn.subs[channel] = true
	return true
}

// Unsubscribe removes a connection from a channel
func (h *Hub) Unsubscribe(conn *Conn, channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs := h.subs[channel]; subs != nil {
		delete(subs, conn)
		if len(subs) == 0 {
			delete(h.subs, channel)
		}
	}
	delete(conn.subs, channel)
}

// Subscribers returns the number of connections subscribed to channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[channel])
}

// Publish sends an event to all subscribers of a channel
func (h *Hub) Publish(channel string, message map[string]interface{}) {
	select {
	case h.publish <- Event{Channel: channel, Message: message}:
	default:
		h.log.Warn("Hub publish channel full, dropping event", zap.String("channel", channel))
	}
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = pongWait * 9 / 10
	maxMessageSize = 4096
)

// clientMessage is what an admin client sends: subscribe, unsubscribe or ping.
type clientMessage struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
}

type ackMessage struct {
	Type    string `json:"type"`
	Ack     string `json:"ack"`
	Channel string `json:"channel,omitempty"`
}

type eventMessage struct {
	Type    string                 `json:"type"`
	Channel string                 `json:"channel"`
	Data    map[string]interface{} `json:"data"`
}

func NewConn(ctx context.Context, ws *websocket.Conn, hub *Hub, userID string) *Conn {
	return &Conn{
		ws:     ws,
		send:   make(chan []byte, 256),
		hub:    hub,
		userID: userID,
		subs:   make(map[string]bool),
		ctx:    ctx,
	}
}

// ReadPump consumes client messages until the socket closes, then
// unregisters the connection.
func (c *Conn) ReadPump() {
	defer func() {
		c.hub.unregister(c)
		c.ws.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg clientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				c.hub.log.Warn("Ignoring malformed client message", zap.String("user_id", c.userID), zap.Error(err))
				continue
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Error("WebSocket error", zap.String("user_id", c.userID), zap.Error(err))
			}
			return
		}
		c.handleMessage(msg)
	}
}

// WritePump drains the send queue and keeps the connection alive with pings.
func (c *Conn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Conn) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		if msg.Channel == "" {
			return
		}
		ack := "subscribed"
		if !c.hub.Subscribe(c, msg.Channel) {
			ack = "forbidden"
		}
		c.reply(ack, msg.Channel)
	case "unsubscribe":
		if msg.Channel != "" {
			c.hub.Unsubscribe(c, msg.Channel)
			c.reply("unsubscribed", msg.Channel)
		}
	case "ping":
		c.reply("pong", "")
	default:
		c.hub.log.Warn("Unknown message type", zap.String("type", msg.Type))
	}
}

// reply queues an ack unless the connection is already gone.
func (c *Conn) reply(ack, channel string) {
	msg, _ := json.Marshal(ackMessage{Type: "ack", Ack: ack, Channel: channel})

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if _, ok := c.hub.conns[c]; !ok {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}
