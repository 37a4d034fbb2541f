package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/telemetry"
)

// State is the connection stage.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// Handler receives the raw JSON payload of one message.
type Handler func(payload json.RawMessage)

// SubscriptionInfo describes an active subscription.
type SubscriptionInfo struct {
	Key   string `json:"key"`
	Topic string `json:"topic"`
}

type subscription struct {
	key     string
	topic   string
	subID   string
	handler Handler
}

// Config configures a Channel.
type Config struct {
	Transport Transport
	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
}

// Channel is the RealtimeChannel. It never reconnects on its own: after a transport drop the
// caller decides when to Connect again.
type Channel struct {
	transport Transport
	logger    zerolog.Logger
	metrics   *telemetry.Metrics

	mu         sync.Mutex
	state      State
	conn       Conn
	generation uint64
	subs       map[string]*subscription
	bySubID    map[string]*subscription

	// handlerMu is held for reading while a handler runs. Disconnect takes it for writing after
	// teardown, so no handler is running once Disconnect returns.
	handlerMu sync.RWMutex

	listenersMu  sync.RWMutex
	onConnect    []func()
	onDisconnect []func(error)
}

// NewChannel creates a disconnected Channel.
func NewChannel(cfg Config) (*Channel, error) {
	if cfg.Transport == nil {
		return nil, errors.New("realtime: transport is required")
	}
	return &Channel{
		transport: cfg.Transport,
		logger:    cfg.Logger.With().Str("component", "realtime").Logger(),
		metrics:   cfg.Metrics,
		state:     StateDisconnected,
		subs:      make(map[string]*subscription),
		bySubID:   make(map[string]*subscription),
	}, nil
}

// OnConnect registers fn to run after each successful handshake.
func (c *Channel) OnConnect(fn func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.onConnect = append(c.onConnect, fn)
}

// OnDisconnect registers fn to run when the connection ends. err is nil for Disconnect.
func (c *Channel) OnDisconnect(fn func(err error)) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// State returns the connection stage.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscriptions lists active subscriptions sorted by key.
func (c *Channel) Subscriptions() []SubscriptionInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]SubscriptionInfo, 0, len(c.subs))
	for _, s := range c.subs {
		out = append(out, SubscriptionInfo{Key: s.key, Topic: s.topic})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Connect opens the bus connection. It is a no-op while connecting or connected.
func (c *Channel) Connect(ctx context.Context, token, userID string) error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		c.logger.Debug().Str("state", string(c.State())).Msg("connect ignored")
		return nil
	}
	c.state = StateConnecting
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	conn, err := c.transport.Dial(ctx, Credentials{Token: token, UserID: userID})

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return ErrConnectAborted
	}
	if err != nil {
		c.state = StateDisconnected
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("realtime connect failed")
		return fmt.Errorf("realtime connect: %w", err)
	}
	c.state = StateConnected
	c.conn = conn
	c.mu.Unlock()

	go c.dispatch(gen, conn)

	c.logger.Info().Str("user_id", userID).Msg("realtime connected")
	c.listenersMu.RLock()
	listeners := append([]func(){}, c.onConnect...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn()
	}
	return nil
}

// Subscribe registers handler for topic under the topic as key.
func (c *Channel) Subscribe(topic string, handler Handler) (string, error) {
	return c.SubscribeKey(topic, topic, handler)
}

// SubscribeKey registers handler for topic under key. A subscription already held under key is
// replaced once the new transport subscription succeeds; on failure the old one stays active.
// Subscribing while not connected fails immediately; nothing is queued.
func (c *Channel) SubscribeKey(key, topic string, handler Handler) (string, error) {
	if topic == "" {
		return "", ErrEmptyTopic
	}
	if key == "" {
		key = topic
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		c.logger.Warn().Str("topic", topic).Msg("subscribe while not connected")
		return "", ErrNotConnected
	}

	subID, err := c.conn.Subscribe(topic)
	if err != nil {
		return "", fmt.Errorf("subscribe %s: %w", topic, err)
	}
	if old, ok := c.subs[key]; ok {
		c.removeLocked(old)
		c.logger.Debug().Str("key", key).Msg("replacing subscription")
	}
	s := &subscription{key: key, topic: topic, subID: subID, handler: handler}
	c.subs[key] = s
	c.bySubID[subID] = s

	c.logger.Info().Str("key", key).Str("topic", topic).Msg("subscribed")
	return key, nil
}

// Unsubscribe removes the subscription held under key. Unknown keys are ignored.
func (c *Channel) Unsubscribe(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.subs[key]; ok {
		c.removeLocked(s)
	}
}

func (c *Channel) removeLocked(s *subscription) {
	delete(c.subs, s.key)
	delete(c.bySubID, s.subID)
	if c.conn != nil {
		if err := c.conn.Unsubscribe(s.subID); err != nil {
			c.logger.Debug().Err(err).Str("key", s.key).Msg("transport unsubscribe failed")
		}
	}
}

// Disconnect closes the transport and drops every subscription. When it returns no handler is
// running and none will run for the closed connection. Handlers must not call it synchronously.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	if c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	conn := c.teardownLocked()
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("close realtime transport")
		}
	}
	// Wait out a handler that passed the generation check before teardown.
	c.handlerMu.Lock()
	c.handlerMu.Unlock() //nolint:staticcheck // barrier
	c.logger.Info().Msg("realtime disconnected")
	c.notifyDisconnect(nil)
}

// teardownLocked resets to disconnected and returns the connection to close.
func (c *Channel) teardownLocked() Conn {
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.generation++
	c.subs = make(map[string]*subscription)
	c.bySubID = make(map[string]*subscription)
	return conn
}

func (c *Channel) notifyDisconnect(err error) {
	c.listenersMu.RLock()
	listeners := append([]func(error){}, c.onDisconnect...)
	c.listenersMu.RUnlock()
	for _, fn := range listeners {
		fn(err)
	}
}

// dispatch delivers messages of one connection serially.
func (c *Channel) dispatch(gen uint64, conn Conn) {
	for {
		select {
		case msg, ok := <-conn.Messages():
			if !ok {
				c.dropped(gen, conn)
				return
			}
			c.deliver(gen, msg)
		case <-conn.Done():
			c.dropped(gen, conn)
			return
		}
	}
}

func (c *Channel) deliver(gen uint64, msg Message) {
	c.handlerMu.RLock()
	defer c.handlerMu.RUnlock()

	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	s := c.bySubID[msg.SubscriptionID]
	c.mu.Unlock()

	if s == nil {
		c.metrics.RealtimeDropped(context.Background(), "unrouted")
		c.logger.Debug().Str("topic", msg.Topic).Msg("message for unknown subscription")
		return
	}
	if !json.Valid(msg.Body) {
		c.metrics.RealtimeDropped(context.Background(), "malformed")
		c.logger.Warn().Str("topic", msg.Topic).Int("bytes", len(msg.Body)).Msg("dropping malformed realtime payload")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("topic", s.topic).Msg("realtime handler panicked")
		}
	}()
	c.metrics.RealtimeMessage(context.Background())
	s.handler(json.RawMessage(msg.Body))
}

// dropped handles a connection that ended without Disconnect.
func (c *Channel) dropped(gen uint64, conn Conn) {
	c.mu.Lock()
	if gen != c.generation {
		c.mu.Unlock()
		return
	}
	c.teardownLocked()
	c.mu.Unlock()

	err := conn.Err()
	c.logger.Warn().Err(err).Msg("realtime connection lost")
	_ = conn.Close()
	c.notifyDisconnect(err)
}
