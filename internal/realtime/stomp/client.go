package stomp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zonewatch/zonewatch/internal/realtime"
)

// Subprotocol is the WebSocket subprotocol offered for STOMP 1.2.
const Subprotocol = "v12.stomp"

const (
	defaultHeartBeat   = 10 * time.Second
	defaultDialTimeout = 10 * time.Second
	writeTimeout       = 5 * time.Second
	messageBuffer      = 64
)

// ErrServerError wraps an ERROR frame from the broker.
var ErrServerError = errors.New("stomp: server error")

// Config configures the transport.
type Config struct {
	// URL is the broker endpoint, e.g. wss://api.example.com/ws.
	URL string
	// Host is sent in the CONNECT frame; defaults to the URL host.
	Host string
	// HeartBeat is the interval offered in both directions. Negative disables heart-beats.
	HeartBeat   time.Duration
	DialTimeout time.Duration
	Dialer      *websocket.Dialer
	Logger      zerolog.Logger
}

// Transport dials STOMP-over-WebSocket connections.
type Transport struct {
	cfg  Config
	host string
}

var _ realtime.Transport = (*Transport)(nil)

// NewTransport creates a Transport.
func NewTransport(cfg Config) (*Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		return nil, fmt.Errorf("stomp: invalid websocket URL %q", cfg.URL)
	}
	if cfg.HeartBeat == 0 {
		cfg.HeartBeat = defaultHeartBeat
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.Dialer == nil {
		d := *websocket.DefaultDialer
		cfg.Dialer = &d
	}
	host := cfg.Host
	if host == "" {
		host = u.Hostname()
	}
	cfg.Logger = cfg.Logger.With().Str("component", "stomp").Logger()
	return &Transport{cfg: cfg, host: host}, nil
}

// Dial opens the WebSocket and completes the CONNECT handshake. The token is sent only in the
// CONNECT frame.
func (t *Transport) Dial(ctx context.Context, creds realtime.Credentials) (realtime.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.DialTimeout)
	defer cancel()

	dialer := *t.cfg.Dialer
	dialer.Subprotocols = []string{Subprotocol, "v11.stomp"}

	ws, resp, err := dialer.DialContext(ctx, t.cfg.URL, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	hb := "0,0"
	if t.cfg.HeartBeat > 0 {
		ms := strconv.FormatInt(t.cfg.HeartBeat.Milliseconds(), 10)
		hb = ms + "," + ms
	}
	connect := NewFrame(CmdConnect,
		"accept-version", "1.2",
		"host", t.host,
		"heart-beat", hb,
		"login", creds.UserID,
		"passcode", creds.Token,
		"Authorization", "Bearer "+creds.Token,
	)

	if deadline, ok := ctx.Deadline(); ok {
		_ = ws.SetWriteDeadline(deadline)
		_ = ws.SetReadDeadline(deadline)
	}
	if err := ws.WriteMessage(websocket.TextMessage, connect.Marshal()); err != nil {
		ws.Close()
		return nil, fmt.Errorf("send CONNECT: %w", err)
	}

	connected, err := awaitConnected(ws)
	if err != nil {
		ws.Close()
		return nil, err
	}
	_ = ws.SetReadDeadline(time.Time{})
	_ = ws.SetWriteDeadline(time.Time{})

	c := newConn(ws, t.cfg.Logger)
	c.startHeartBeats(t.cfg.HeartBeat, connected.Get("heart-beat"))
	go c.readLoop()

	t.cfg.Logger.Debug().Str("server", connected.Get("server")).Str("version", connected.Get("version")).Msg("stomp session established")
	return c, nil
}

func awaitConnected(ws *websocket.Conn) (*Frame, error) {
	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		frames, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("await CONNECTED: %w", err)
		}
		for _, f := range frames {
			switch f.Command {
			case CmdConnected:
				return f, nil
			case CmdError:
				return nil, fmt.Errorf("%w: %s", ErrServerError, errorText(f))
			}
		}
	}
}

func errorText(f *Frame) string {
	if msg := f.Get("message"); msg != "" {
		return msg
	}
	return string(f.Body)
}

// conn is one STOMP session.
type conn struct {
	ws     *websocket.Conn
	logger zerolog.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	topics map[string]string
	err    error

	messages  chan realtime.Message
	done      chan struct{}
	closing   atomic.Bool
	closeOnce sync.Once
	readDone  chan struct{}
	readLimit time.Duration
}

func newConn(ws *websocket.Conn, logger zerolog.Logger) *conn {
	return &conn{
		ws:       ws,
		logger:   logger,
		topics:   make(map[string]string),
		messages: make(chan realtime.Message, messageBuffer),
		done:     make(chan struct{}),
		readDone: make(chan struct{}),
	}
}

func (c *conn) Messages() <-chan realtime.Message { return c.messages }
func (c *conn) Done() <-chan struct{}             { return c.done }

func (c *conn) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Subscribe sends SUBSCRIBE with a fresh subscription id.
func (c *conn) Subscribe(topic string) (string, error) {
	id := uuid.NewString()
	if err := c.write(NewFrame(CmdSubscribe, "id", id, "destination", topic, "ack", "auto")); err != nil {
		return "", err
	}
	c.mu.Lock()
	c.topics[id] = topic
	c.mu.Unlock()
	return id, nil
}

// Unsubscribe sends UNSUBSCRIBE for id.
func (c *conn) Unsubscribe(id string) error {
	c.mu.Lock()
	_, ok := c.topics[id]
	delete(c.topics, id)
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return c.write(NewFrame(CmdUnsubscribe, "id", id))
}

// Close sends DISCONNECT and closes the socket.
func (c *conn) Close() error {
	var err error
	c.closing.Store(true)
	c.closeOnce.Do(func() {
		select {
		case <-c.readDone:
		default:
			_ = c.write(NewFrame(CmdDisconnect, "receipt", uuid.NewString()))
			_ = c.writeControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		}
		err = c.ws.Close()
		close(c.done)
	})
	return err
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	if c.err == nil {
		c.err = err
	}
	c.mu.Unlock()
	c.closeOnce.Do(func() {
		_ = c.ws.Close()
		close(c.done)
	})
}

func (c *conn) write(f *Frame) error {
	return c.writeRaw(f.Marshal())
}

func (c *conn) writeRaw(b []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("stomp write: %w", err)
	}
	return nil
}

func (c *conn) writeControl(kind int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteControl(kind, data, time.Now().Add(writeTimeout))
}

// startHeartBeats negotiates intervals per STOMP 1.2: the client sends every max(cx, sy) and
// expects traffic at least every max(cy, sx).
func (c *conn) startHeartBeats(offered time.Duration, serverHB string) {
	if offered <= 0 {
		return
	}
	sx, sy := parseHeartBeat(serverHB)
	ms := int(offered.Milliseconds())

	if sy > 0 {
		send := time.Duration(max(ms, sy)) * time.Millisecond
		go c.sendHeartBeats(send)
	}
	if sx > 0 {
		// Allow for network jitter before declaring the server gone.
		c.readLimit = 3 * time.Duration(max(ms, sx)) * time.Millisecond
	}
}

func (c *conn) sendHeartBeats(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.writeRaw([]byte("\n")); err != nil {
				c.fail(err)
				return
			}
		}
	}
}

func (c *conn) readLoop() {
	defer close(c.readDone)
	for {
		if c.readLimit > 0 {
			_ = c.ws.SetReadDeadline(time.Now().Add(c.readLimit))
		}
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if !c.closing.Load() {
				c.fail(fmt.Errorf("stomp read: %w", err))
			}
			return
		}

		frames, err := Parse(data)
		if err != nil {
			c.logger.Warn().Err(err).Msg("dropping unparsable stomp frame")
		}
		for _, f := range frames {
			switch f.Command {
			case CmdMessage:
				msg := realtime.Message{
					SubscriptionID: f.Get("subscription"),
					Topic:          f.Get("destination"),
					Body:           f.Body,
				}
				select {
				case c.messages <- msg:
				case <-c.done:
					return
				}
			case CmdError:
				c.fail(fmt.Errorf("%w: %s", ErrServerError, errorText(f)))
				return
			case CmdReceipt:
			default:
				c.logger.Debug().Str("command", f.Command).Msg("ignoring stomp frame")
			}
		}
	}
}
