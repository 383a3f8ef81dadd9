// Package syncclient is the dashboard side of the session event stream. A
// Channel owns one WebSocket connection and keeps it alive with capped
// exponential backoff until its attempt budget runs out.
package syncclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/saeid-a/StudioScheduleBack/internal/models"
	"github.com/saeid-a/StudioScheduleBack/pkg/logger"
)

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBackingOff
	// StateExhausted is terminal until Reconnect is called.
	StateExhausted
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBackingOff:
		return "backing_off"
	case StateExhausted:
		return "exhausted"
	default:
		return "disconnected"
	}
}

const (
	DefaultInitialBackoff = time.Second
	DefaultMaxBackoff     = 30 * time.Second
	DefaultMaxAttempts    = 10
	DefaultPingInterval   = 30 * time.Second

	writeWait       = 10 * time.Second
	maxPendingSends = 64
)

type Config struct {
	// URL is the ws:// or wss:// endpoint, e.g. ws://host/api/v1/ws.
	URL   string
	Token string

	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	MaxAttempts    int
	PingInterval   time.Duration

	Dialer *websocket.Dialer
	Log    *logger.Logger
}

func (c *Config) withDefaults() {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.PingInterval <= 0 {
		c.PingInterval = DefaultPingInterval
	}
	if c.Dialer == nil {
		c.Dialer = websocket.DefaultDialer
	}
	if c.Log == nil {
		c.Log = logger.Discard()
	}
}

// Subscription narrows the stream to one trainer and/or client. The server
// still applies the caller's visibility on top of it.
type Subscription struct {
	TrainerID *int64 `json:"trainer_id,omitempty"`
	ClientID  *int64 `json:"user_id,omitempty"`
}

type EventHandler func(models.SessionEvent)

// StatusHandler observes state changes. It runs with the channel locked and
// must not call back into the Channel.
type StatusHandler func(State)

type Channel struct {
	cfg      Config
	onEvent  EventHandler
	onStatus StatusHandler

	mu           sync.Mutex
	state        State
	attempts     int
	generation   int
	conn         *websocket.Conn
	timer        *time.Timer
	subscription *Subscription
	pending      [][]byte

	writeMu sync.Mutex
}

func New(cfg Config, onEvent EventHandler, onStatus StatusHandler) (*Channel, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("sync url is required")
	}
	if _, err := url.Parse(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid sync url: %w", err)
	}
	if onEvent == nil {
		onEvent = func(models.SessionEvent) {}
	}
	if onStatus == nil {
		onStatus = func(State) {}
	}
	cfg.withDefaults()
	return &Channel{cfg: cfg, onEvent: onEvent, onStatus: onStatus}, nil
}

// Backoff returns the delay before reconnect attempt n (1-based): initial
// doubled per attempt and capped at max.
func Backoff(attempt int, initial, max time.Duration) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connect starts the connection loop. It is a no-op unless the channel is
// disconnected; use Reconnect after exhaustion.
func (c *Channel) Connect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateDisconnected {
		return
	}
	c.startLocked()
}

// Reconnect drops any current connection and starts over with a fresh
// attempt budget.
func (c *Channel) Reconnect() {
	c.mu.Lock()
	conn := c.detachLocked()
	c.startLocked()
	c.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
}

// Disconnect closes with a normal-closure frame. The channel will not
// reconnect on its own afterwards.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	conn := c.detachLocked()
	c.setStateLocked(StateDisconnected)
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnect"),
			time.Now().Add(writeWait),
		)
		c.writeMu.Unlock()
		_ = conn.Close()
	}
}

// Subscribe records the subscription and sends it now if connected. It is
// re-sent after every reconnect.
func (c *Channel) Subscribe(sub Subscription) error {
	c.mu.Lock()
	c.subscription = &sub
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	// A failed write surfaces as a dropped connection; the reconnect re-sends.
	_ = c.subscribeOn(conn, sub)
	return nil
}

// Send writes msg as JSON, queueing it while offline. The oldest queued
// message is dropped once the queue is full.
func (c *Channel) Send(msg any) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	c.mu.Lock()
	conn := c.conn
	if conn == nil {
		c.enqueueLocked(payload)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	if err := c.write(conn, payload); err != nil {
		c.mu.Lock()
		c.enqueueLocked(payload)
		c.mu.Unlock()
	}
	return nil
}

func (c *Channel) enqueueLocked(payload []byte) {
	if len(c.pending) >= maxPendingSends {
		c.pending = c.pending[1:]
	}
	c.pending = append(c.pending, payload)
}

func (c *Channel) startLocked() {
	c.attempts = 0
	c.generation++
	c.setStateLocked(StateConnecting)
	go c.dial(c.generation)
}

// detachLocked invalidates the current generation so stale goroutines and
// timers become no-ops, and returns the live connection, if any.
func (c *Channel) detachLocked() *websocket.Conn {
	c.generation++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	return conn
}

func (c *Channel) setStateLocked(state State) {
	if c.state == state {
		return
	}
	c.state = state
	c.onStatus(state)
}

func (c *Channel) dial(generation int) {
	target, err := c.dialURL()
	if err != nil {
		c.cfg.Log.Error("invalid sync url", "error", err)
		c.retry(generation)
		return
	}

	header := http.Header{}
	if c.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+c.cfg.Token)
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.Dialer.HandshakeTimeout+writeWait)
	defer cancel()

	conn, resp, err := c.cfg.Dialer.DialContext(ctx, target, header)
	if err != nil {
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		c.cfg.Log.Warn("sync dial failed", "error", err, "status", status)
		c.retry(generation)
		return
	}

	c.mu.Lock()
	if generation != c.generation {
		c.mu.Unlock()
		_ = conn.Close()
		return
	}
	c.conn = conn
	c.attempts = 0
	sub := c.subscription
	pending := c.pending
	c.pending = nil
	c.setStateLocked(StateConnected)
	c.mu.Unlock()

	c.cfg.Log.Info("sync channel connected", "url", c.cfg.URL)

	if sub != nil {
		_ = c.subscribeOn(conn, *sub)
	}
	for i, payload := range pending {
		if err := c.write(conn, payload); err != nil {
			c.mu.Lock()
			c.pending = append(pending[i:], c.pending...)
			c.mu.Unlock()
			break
		}
	}

	done := make(chan struct{})
	go c.pingLoop(conn, done)
	c.readLoop(conn, generation)
	close(done)
}

func (c *Channel) subscribeOn(conn *websocket.Conn, sub Subscription) error {
	payload, err := json.Marshal(struct {
		Type string `json:"type"`
		Subscription
	}{Type: "subscribe", Subscription: sub})
	if err != nil {
		return err
	}
	return c.write(conn, payload)
}

func (c *Channel) dialURL() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	if c.cfg.Token != "" {
		query := u.Query()
		query.Set("token", c.cfg.Token)
		u.RawQuery = query.Encode()
	}
	return u.String(), nil
}

func (c *Channel) readLoop(conn *websocket.Conn, generation int) {
	readWait := 2*c.cfg.PingInterval + writeWait
	_ = conn.SetReadDeadline(time.Now().Add(readWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if errors.As(err, &closeErr) && closeErr.Code == websocket.CloseNormalClosure {
				c.closed(generation)
				return
			}
			c.cfg.Log.Warn("sync channel dropped", "error", err)
			c.retry(generation)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(readWait))
		c.dispatch(payload)
	}
}

func (c *Channel) dispatch(payload []byte) {
	var event models.SessionEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		c.cfg.Log.Warn("undecodable sync message", "error", err)
		return
	}
	if event.Session.ID == 0 {
		// Server notices such as {"type":"error"} carry no snapshot.
		c.cfg.Log.Debug("sync notice", "type", event.Type, "payload", string(payload))
		return
	}
	c.onEvent(event)
}

func (c *Channel) pingLoop(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Channel) write(conn *websocket.Conn, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, payload)
}

// closed handles a server-initiated normal closure: no reconnect.
func (c *Channel) closed(generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.setStateLocked(StateDisconnected)
}

// retry schedules the next dial, or gives up once the budget is spent.
func (c *Channel) retry(generation int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if generation != c.generation {
		return
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}

	c.attempts++
	if c.attempts > c.cfg.MaxAttempts {
		c.cfg.Log.Error("sync reconnect budget exhausted", "attempts", c.cfg.MaxAttempts)
		c.setStateLocked(StateExhausted)
		return
	}

	delay := Backoff(c.attempts, c.cfg.InitialBackoff, c.cfg.MaxBackoff)
	c.setStateLocked(StateBackingOff)
	c.cfg.Log.Info("sync reconnect scheduled", "attempt", c.attempts, "delay", delay.String())

	c.timer = time.AfterFunc(delay, func() {
		c.mu.Lock()
		if generation != c.generation {
			c.mu.Unlock()
			return
		}
		c.timer = nil
		c.setStateLocked(StateConnecting)
		c.mu.Unlock()
		c.dial(generation)
	})
}
