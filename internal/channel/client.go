// Package channel owns the push-channel connection: one duplex,
// auto-reconnecting websocket that delivers named events from the
// server and carries fire-and-forget announcements back.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/okineo/ripple/internal/logging"
	"github.com/okineo/ripple/internal/models"
)

// ErrNotConnected is returned by EmitSync when no connection is up.
var ErrNotConnected = errors.New("channel not connected")

// EventHandler is invoked for each delivered envelope matching a
// subscription. Handlers run on the read loop: they execute to
// completion before the next queued event is dispatched.
type EventHandler func(env *models.Envelope)

// StateHandler is invoked when the underlying connection goes up or down.
type StateHandler func(connected bool)

// Config contains push-channel settings.
type Config struct {
	// URL is the websocket endpoint (ws:// or wss://).
	URL string

	// MinBackoff is the initial reconnect delay. Default: 500ms.
	MinBackoff time.Duration

	// MaxBackoff caps the reconnect delay. Default: 30s.
	MaxBackoff time.Duration

	// WriteTimeout bounds a single frame write. Default: 10s.
	WriteTimeout time.Duration

	// SendBuffer is the outbound queue size. Default: 32.
	SendBuffer int
}

// DefaultConfig returns sensible defaults for the given endpoint.
func DefaultConfig(url string) Config {
	return Config{
		URL:          url,
		MinBackoff:   500 * time.Millisecond,
		MaxBackoff:   30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   32,
	}
}

func (c *Config) applyDefaults() {
	def := DefaultConfig(c.URL)
	if c.MinBackoff <= 0 {
		c.MinBackoff = def.MinBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = def.MaxBackoff
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = def.SendBuffer
	}
}

// subscription is one registered event handler.
type subscription struct {
	id      string
	event   models.EventName
	handler EventHandler
}

// Client is the push-channel client. One Client owns at most one
// logical connection; reconnection is transparent and subscriptions
// survive it.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	dialer *websocket.Dialer

	// writeMu serializes frame writes between the write pump and
	// EmitSync; gorilla connections support one writer at a time.
	writeMu sync.Mutex

	mu        sync.RWMutex
	running   bool
	connected bool
	identity  string
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	conn      *websocket.Conn

	subs      map[models.EventName]map[string]*subscription
	stateSubs map[string]StateHandler

	send chan models.Envelope
}

// New creates a push-channel client. Connect must be called before
// events are delivered.
func New(cfg Config) *Client {
	cfg.applyDefaults()
	return &Client{
		cfg:       cfg,
		logger:    logging.Component("channel"),
		dialer:    &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		subs:      make(map[models.EventName]map[string]*subscription),
		stateSubs: make(map[string]StateHandler),
		send:      make(chan models.Envelope, cfg.SendBuffer),
	}
}

// Connect establishes the logical connection and starts the reconnect
// loop. Calling Connect while already running is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go c.runLoop(runCtx)
	return nil
}

// Disconnect tears down the connection and releases every handler
// registered through this client instance.
func (c *Client) Disconnect() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	c.identity = ""
	cancel := c.cancel
	conn := c.conn
	c.mu.Unlock()

	cancel()
	if conn != nil {
		_ = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.subs = make(map[models.EventName]map[string]*subscription)
	c.stateSubs = make(map[string]StateHandler)
	c.mu.Unlock()
}

// Identify binds the connection to userID. The announcement is sent
// now if connected and re-sent automatically after every reconnect,
// since the server does not preserve presence across a drop.
func (c *Client) Identify(userID string) {
	c.mu.Lock()
	c.identity = userID
	connected := c.connected
	c.mu.Unlock()

	if connected && userID != "" {
		c.Emit(models.EventAddUser, userID)
	}
}

// Identity returns the currently bound user ID, if any.
func (c *Client) Identity() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// IsConnected reports whether the underlying connection is up.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// On registers a handler for the named event and returns a disposer.
// Handlers survive reconnects; they are released by the disposer or by
// Disconnect.
func (c *Client) On(event models.EventName, handler EventHandler) func() {
	sub := &subscription{id: uuid.NewString(), event: event, handler: handler}

	c.mu.Lock()
	if c.subs[event] == nil {
		c.subs[event] = make(map[string]*subscription)
	}
	c.subs[event][sub.id] = sub
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if handlers, ok := c.subs[event]; ok {
			delete(handlers, sub.id)
			if len(handlers) == 0 {
				delete(c.subs, event)
			}
		}
	}
}

// OnConnectionChange registers a handler for connection up/down
// transitions and returns a disposer.
func (c *Client) OnConnectionChange(handler StateHandler) func() {
	id := uuid.NewString()
	c.mu.Lock()
	c.stateSubs[id] = handler
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.stateSubs, id)
	}
}

// Emit queues a fire-and-forget message. Messages queued while the
// connection is down are dropped once the buffer fills; control
// traffic is re-derivable, so nothing blocks on a dead link.
func (c *Client) Emit(event models.EventName, payload any) {
	env := models.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			c.logger.Error().Err(err).Str("event", string(event)).Msg("failed to marshal payload")
			return
		}
		env.Payload = data
	}

	select {
	case c.send <- env:
	default:
		c.logger.Debug().Str("event", string(event)).Msg("send buffer full, dropping message")
	}
}

// EmitSync writes one message to the wire before returning, bypassing
// the outbound queue. Use it for announcements that must leave before
// the connection is torn down; Emit queues and cannot guarantee the
// write pump is still draining by then.
func (c *Client) EmitSync(event models.EventName, payload any) error {
	env := models.Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		env.Payload = data
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}

	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// runLoop dials, pumps, and redials with exponential backoff until the
// run context is cancelled.
func (c *Client) runLoop(ctx context.Context) {
	defer c.wg.Done()

	backoff := c.cfg.MinBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := c.dialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().Err(err).Dur("retry_in", backoff).Msg("dial failed")
			if !sleepWithContext(ctx, backoff) {
				return
			}
			backoff = min(backoff*2, c.cfg.MaxBackoff)
			continue
		}

		backoff = c.cfg.MinBackoff
		c.handleConnection(ctx, conn)

		if ctx.Err() != nil {
			return
		}
		c.logger.Info().Dur("retry_in", backoff).Msg("connection lost, reconnecting")
		if !sleepWithContext(ctx, backoff) {
			return
		}
	}
}

// handleConnection services one physical connection until it drops.
func (c *Client) handleConnection(ctx context.Context, conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.connected = true
	identity := c.identity
	c.mu.Unlock()

	c.logger.Debug().Str("url", c.cfg.URL).Msg("connected")
	c.notifyState(true)

	// Server-side presence does not survive a drop; re-announce.
	if identity != "" {
		c.Emit(models.EventAddUser, identity)
	}

	writeCtx, stopWriter := context.WithCancel(ctx)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writePump(writeCtx, conn)
	}()

	c.readPump(conn)

	stopWriter()
	_ = conn.Close()
	<-writerDone

	c.mu.Lock()
	c.conn = nil
	c.connected = false
	c.mu.Unlock()
	c.notifyState(false)
}

// readPump decodes envelopes and dispatches them in arrival order.
// Delivery for a single event name is FIFO; a handler runs to
// completion before the next envelope is processed.
func (c *Client) readPump(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}
		c.dispatch(&env)
	}
}

func (c *Client) dispatch(env *models.Envelope) {
	c.mu.RLock()
	handlers := make([]EventHandler, 0, len(c.subs[env.Event]))
	for _, sub := range c.subs[env.Event] {
		handlers = append(handlers, sub.handler)
	}
	c.mu.RUnlock()

	// Invoke outside the lock so handlers may subscribe/unsubscribe.
	for _, handler := range handlers {
		handler(env)
	}
}

func (c *Client) writePump(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-c.send:
			data, err := json.Marshal(env)
			if err != nil {
				c.logger.Error().Err(err).Msg("failed to marshal envelope")
				continue
			}
			c.writeMu.Lock()
			_ = conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err = conn.WriteMessage(websocket.TextMessage, data)
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *Client) notifyState(connected bool) {
	c.mu.RLock()
	handlers := make([]StateHandler, 0, len(c.stateSubs))
	for _, handler := range c.stateSubs {
		handlers = append(handlers, handler)
	}
	c.mu.RUnlock()

	for _, handler := range handlers {
		handler(connected)
	}
}

// sleepWithContext waits for d, returning false if ctx ended first.
func sleepWithContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
