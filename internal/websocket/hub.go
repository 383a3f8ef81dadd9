package syncws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	websocket "github.com/gofiber/contrib/websocket"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/internal/services"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 70 * time.Second
	maxMessageSize = 4096
)

// Hub fans committed session events out to connected dashboards. Each client
// only receives sessions its actor may see, redacted for its role.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan models.SessionEvent
	direct     chan directMessage
	done       chan struct{}
	closeOnce  sync.Once
	log        *logger.Logger
}

type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	actor  models.Actor
	send   chan []byte
	mu     sync.RWMutex
	filter Subscription
}

// Subscription is the advisory narrowing a dashboard may request. Server-side
// visibility always applies on top of it.
type Subscription struct {
	TrainerID *int64 `json:"trainer_id,omitempty"`
	ClientID  *int64 `json:"user_id,omitempty"`
}

func (s Subscription) matches(session *models.Session) bool {
	if s.TrainerID != nil && !session.HasTrainer(*s.TrainerID) {
		return false
	}
	if s.ClientID != nil && !session.HasClient(*s.ClientID) {
		return false
	}
	return true
}

type inboundMessage struct {
	Type      string `json:"type"`
	TrainerID *int64 `json:"trainer_id,omitempty"`
	ClientID  *int64 `json:"user_id,omitempty"`
}

// directMessage is a frame for one client, written by Run so it never races
// the close of the client's send channel.
type directMessage struct {
	client  *Client
	payload []byte
}

type outboundError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewHub(log *logger.Logger) *Hub {
	if log == nil {
		log = logger.Discard()
	}
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan models.SessionEvent, 256),
		direct:     make(chan directMessage, 16),
		done:       make(chan struct{}),
		log:        log,
	}
}

func NewClient(hub *Hub, conn *websocket.Conn, actor models.Actor) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		actor: actor,
		send:  make(chan []byte, 64),
	}
}

func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = struct{}{}
		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
		case event := <-h.broadcast:
			h.deliver(event)
		case msg := <-h.direct:
			if _, ok := h.clients[msg.client]; ok {
				h.send(msg.client, msg.payload)
			}
		case <-h.done:
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			return
		}
	}
}

// Close stops Run and disconnects every client.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		close(client.send)
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Publish queues event for fan-out. It satisfies services.EventPublisher.
func (h *Hub) Publish(ctx context.Context, event models.SessionEvent) {
	select {
	case h.broadcast <- event:
	case <-h.done:
	case <-ctx.Done():
		h.log.Warn("session event dropped", "event_id", event.ID, "error", ctx.Err())
	}
}

// deliver sends each client the copy its actor may see. A client that saw
// the previous row but not the new one gets a revoked tombstone instead.
func (h *Hub) deliver(event models.SessionEvent) {
	encoded := make(map[string][]byte, 3)
	encode := func(key string, out models.SessionEvent) ([]byte, bool) {
		if payload, ok := encoded[key]; ok {
			return payload, true
		}
		out.Previous = nil
		payload, err := json.Marshal(out)
		if err != nil {
			h.log.Error("encode session event", "event_id", event.ID, "error", err)
			return nil, false
		}
		encoded[key] = payload
		return payload, true
	}

	for client := range h.clients {
		var (
			payload []byte
			ok      bool
		)
		switch {
		case client.sees(&event.Session):
			if client.actor.Role == models.RoleClient || client.actor.Role == models.RoleAnonymous {
				out := event
				out.Session = services.Redact(client.actor, event.Session)
				payload, ok = encode("redacted", out)
			} else {
				payload, ok = encode("full", event)
			}
		case event.Previous != nil && client.sees(event.Previous):
			payload, ok = encode("revoked", event.Tombstone())
		default:
			continue
		}
		if !ok {
			return
		}
		h.send(client, payload)
	}
}

// send queues payload for client, dropping the client when its buffer is full.
func (h *Hub) send(client *Client, payload []byte) {
	select {
	case client.send <- payload:
	default:
		// Slow consumer; it re-seeds from a list query on reconnect.
		delete(h.clients, client)
		close(client.send)
		h.log.Warn("dropping slow sync client", "actor_id", client.actor.ID, "role", client.actor.Role.String())
	}
}

func (c *Client) sees(session *models.Session) bool {
	return services.Visible(c.actor, session) && c.subscription().matches(session)
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.filter
}

func (c *Client) subscribe(sub Subscription) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.filter = sub
}

func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
	})

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.handleInbound(payload)
	}
}

func (c *Client) handleInbound(payload []byte) {
	var incoming inboundMessage
	if err := json.Unmarshal(payload, &incoming); err != nil {
		c.writeError("invalid message payload")
		return
	}

	switch incoming.Type {
	case "subscribe":
		c.subscribe(Subscription{TrainerID: incoming.TrainerID, ClientID: incoming.ClientID})
	case "unsubscribe":
		c.subscribe(Subscription{})
	default:
		c.writeError("unsupported message type")
	}
}

func (c *Client) WritePump() {
	defer func() {
		_ = c.conn.Close()
	}()

	for payload := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
	}
	_ = c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
		time.Now().Add(writeWait),
	)
}

func (c *Client) writeError(message string) {
	payload, err := json.Marshal(outboundError{Type: "error", Message: message})
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: payload}:
	case <-c.hub.done:
	}
}
