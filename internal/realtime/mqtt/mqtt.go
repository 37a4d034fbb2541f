// Package mqtt carries realtime topics over an MQTT broker.
package mqtt

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/realtime"
)

const (
	DefaultQoS            byte = 1
	defaultConnectTimeout      = 10 * time.Second
	messageBuffer              = 64
	disconnectQuiesceMs        = 250
)

// Config describes the broker.
type Config struct {
	BrokerURL      string // tcp://, ssl://, ws:// or wss://
	ClientIDPrefix string
	QoS            byte
	ConnectTimeout time.Duration
	Logger         zerolog.Logger
}

// Transport dials MQTT connections. Username carries the user id, password the access token.
type Transport struct {
	cfg Config
}

// NewTransport validates cfg.
func NewTransport(cfg Config) (*Transport, error) {
	u, err := url.Parse(cfg.BrokerURL)
	if err != nil {
		return nil, fmt.Errorf("mqtt: parse broker url: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return nil, fmt.Errorf("mqtt: unsupported broker scheme %q", u.Scheme)
	}
	if cfg.ClientIDPrefix == "" {
		cfg.ClientIDPrefix = "zonewatch"
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt: invalid qos %d", cfg.QoS)
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	return &Transport{cfg: cfg}, nil
}

// Dial connects to the broker. Reconnection is left to the caller.
func (t *Transport) Dial(ctx context.Context, creds realtime.Credentials) (realtime.Conn, error) {
	c := &conn{
		qos:      t.cfg.QoS,
		logger:   t.cfg.Logger.With().Str("transport", "mqtt").Logger(),
		router:   newRouter(),
		messages: make(chan realtime.Message, messageBuffer),
		done:     make(chan struct{}),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(t.cfg.BrokerURL).
		SetClientID(t.cfg.ClientIDPrefix + "-" + uuid.NewString()[:8]).
		SetUsername(creds.UserID).
		SetPassword(creds.Token).
		SetCleanSession(true).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(t.cfg.ConnectTimeout).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			c.fail(fmt.Errorf("mqtt connection lost: %w", err))
		})

	c.client = pahomqtt.NewClient(opts)
	tok := c.client.Connect()
	select {
	case <-tok.Done():
	case <-ctx.Done():
		c.client.Disconnect(0)
		return nil, fmt.Errorf("%w: %w", realtime.ErrConnectAborted, ctx.Err())
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}
	return c, nil
}

type conn struct {
	client pahomqtt.Client
	qos    byte
	logger zerolog.Logger
	router *router

	messages  chan realtime.Message
	done      chan struct{}
	closeOnce sync.Once

	mu  sync.Mutex
	err error
}

func (c *conn) Messages() <-chan realtime.Message { return c.messages }
func (c *conn) Done() <-chan struct{}             { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe registers topic. Several ids may share one broker subscription; an id on a topic
// whose broker subscribe is still pending waits for it and fails with it.
func (c *conn) Subscribe(topic string) (string, error) {
	if topic == "" {
		return "", realtime.ErrEmptyTopic
	}
	select {
	case <-c.done:
		return "", realtime.ErrNotConnected
	default:
	}

	id := uuid.NewString()
	rt, first := c.router.add(topic, id)
	if !first {
		return id, c.await(topic, id, rt)
	}

	tok := c.client.Subscribe(topic, c.qos, func(_ pahomqtt.Client, m pahomqtt.Message) {
		c.forward(topic, m)
	})
	var err error
	switch {
	case !tok.WaitTimeout(defaultConnectTimeout):
		err = fmt.Errorf("mqtt subscribe %s: timed out", topic)
	case tok.Error() != nil:
		err = fmt.Errorf("mqtt subscribe %s: %w", topic, tok.Error())
	}
	c.router.settle(topic, rt, err)
	if err != nil {
		return "", err
	}
	return id, nil
}

// await blocks until the broker subscribe behind rt settles.
func (c *conn) await(topic, id string, rt *route) error {
	select {
	case <-rt.ready:
		return rt.err
	case <-c.done:
		c.router.remove(id)
		return realtime.ErrNotConnected
	case <-time.After(defaultConnectTimeout):
		c.router.remove(id)
		return fmt.Errorf("mqtt subscribe %s: timed out", topic)
	}
}

func (c *conn) Unsubscribe(id string) error {
	topic, last := c.router.remove(id)
	if !last {
		return nil
	}
	select {
	case <-c.done:
		return realtime.ErrNotConnected
	default:
	}
	tok := c.client.Unsubscribe(topic)
	if !tok.WaitTimeout(defaultConnectTimeout) {
		return fmt.Errorf("mqtt unsubscribe %s: timed out", topic)
	}
	return tok.Error()
}

func (c *conn) forward(filter string, m pahomqtt.Message) {
	for _, id := range c.router.ids(filter) {
		msg := realtime.Message{SubscriptionID: id, Topic: m.Topic(), Body: m.Payload()}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		c.client.Disconnect(disconnectQuiesceMs)
		close(c.done)
	})
	return nil
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.logger.Warn().Err(err).Msg("broker connection dropped")
	c.closeOnce.Do(func() { close(c.done) })
}

// router maps topic filters to the subscription ids sharing them.
type router struct {
	mu      sync.Mutex
	byTopic map[string]*route
	byID    map[string]string
}

// route is one broker subscription. ready is closed once the broker answered; err is set before.
type route struct {
	ids   []string
	ready chan struct{}
	err   error
}

func newRouter() *router {
	return &router{byTopic: map[string]*route{}, byID: map[string]string{}}
}

// add registers id on topic and reports whether it created the route.
func (r *router) add(topic, id string) (*route, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byTopic[topic]
	if !ok {
		rt = &route{ready: make(chan struct{})}
		r.byTopic[topic] = rt
	}
	rt.ids = append(rt.ids, id)
	r.byID[id] = topic
	return rt, !ok
}

// settle records the broker answer for rt. On failure every id on the route is dropped.
func (r *router) settle(topic string, rt *route, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		for _, id := range rt.ids {
			delete(r.byID, id)
		}
		rt.ids = nil
		if r.byTopic[topic] == rt {
			delete(r.byTopic, topic)
		}
	}
	rt.err = err
	close(rt.ready)
}

// remove reports the topic of id and whether it was its last subscriber.
func (r *router) remove(id string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	topic, ok := r.byID[id]
	if !ok {
		return "", false
	}
	delete(r.byID, id)
	rt := r.byTopic[topic]
	for i, v := range rt.ids {
		if v == id {
			rt.ids = append(rt.ids[:i], rt.ids[i+1:]...)
			break
		}
	}
	if len(rt.ids) == 0 {
		delete(r.byTopic, topic)
		return topic, true
	}
	return topic, false
}

func (r *router) ids(topic string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	rt, ok := r.byTopic[topic]
	if !ok {
		return nil
	}
	return append([]string(nil), rt.ids...)
}

var _ realtime.Transport = (*Transport)(nil)
