package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"collab-app/internal/models"
)

// State is the connection lifecycle state.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	// StateError is terminal: reconnection retries were exhausted or hit a
	// fatal rejection. Distinct from StateDisconnected, which a clean Close
	// also produces.
	StateError
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateError:
		return "error"
	default:
		return "disconnected"
	}
}

// ErrAuthFailed marks a rejected credential. Fatal for the connection
// attempt: the client never retries it.
var ErrAuthFailed = errors.New("authentication failed")

var errClientClosed = errors.New("client closed")

type Config struct {
	// URL of the websocket endpoint, e.g. ws://host:8080/ws.
	URL   string
	Token string

	// MaxRetries bounds the reconnect attempts after a transport failure.
	MaxRetries        uint64
	HeartbeatInterval time.Duration
	PongWait          time.Duration
	HandshakeTimeout  time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxRetries == 0 {
		out.MaxRetries = 5
	}
	if out.HeartbeatInterval == 0 {
		out.HeartbeatInterval = 30 * time.Second
	}
	if out.PongWait == 0 {
		out.PongWait = 40 * time.Second
	}
	if out.HandshakeTimeout == 0 {
		out.HandshakeTimeout = 10 * time.Second
	}
	return out
}

// Client manages one connection to the collaboration server: dialing,
// authentication, heartbeat, and bounded reconnection with exponential
// backoff. Transport failures are retried automatically; exhausting the
// retries is reported through OnStateChange but never panics or blocks.
type Client struct {
	cfg Config

	mu      sync.Mutex
	writeMu sync.Mutex
	conn    *websocket.Conn
	state   State
	closed  bool

	onEvent func(models.Event)
	onState func(State, error)
}

func New(cfg Config) *Client {
	return &Client{
		cfg:   cfg.withDefaults(),
		state: StateDisconnected,
	}
}

// OnEvent registers the inbound event callback. Call before Connect.
func (c *Client) OnEvent(fn func(models.Event)) {
	c.onEvent = fn
}

// OnStateChange registers the lifecycle callback. The error is non-nil for
// failure transitions (reconnecting, terminal disconnect). Call before
// Connect.
func (c *Client) OnStateChange(fn func(State, error)) {
	c.onState = fn
}

// Connect dials and authenticates. An authentication rejection returns
// ErrAuthFailed and is not retried; a transport error on the initial dial is
// returned as-is for the caller to decide.
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateConnecting, nil)

	conn, err := c.dial(ctx)
	if err != nil {
		c.setState(StateDisconnected, err)
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	go c.readLoop(conn)
	go c.heartbeat(conn)
	return nil
}

// Send enqueues an event to the server.
func (c *Client) Send(ev models.Event) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if conn == nil || state != StateConnected {
		return fmt.Errorf("not connected (state %s)", state)
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Close shuts the connection down for good; no reconnect follows.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.writeMu.Lock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		conn.Close()
	}
	c.setState(StateDisconnected, nil)
	return nil
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	endpoint, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, err
	}
	if c.cfg.Token != "" {
		q := endpoint.Query()
		q.Set("token", c.cfg.Token)
		endpoint.RawQuery = q.Encode()
	}

	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
		}
		return nil, err
	}
	return conn, nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			if c.isClosed() {
				return
			}
			// Heartbeat expiry surfaces here as a read deadline error and
			// takes the same path as any other transport failure.
			c.reconnect(err)
			return
		}

		var ev models.Event
		if err := json.Unmarshal(message, &ev); err != nil {
			continue
		}
		if c.onEvent != nil {
			c.onEvent(ev)
		}
	}
}

func (c *Client) heartbeat(conn *websocket.Conn) {
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		current := c.conn
		c.mu.Unlock()
		if current != conn {
			return
		}
		c.writeMu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		c.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// reconnect retries the dial with exponential backoff, up to MaxRetries.
// Auth rejections abort immediately; exhaustion lands in the terminal
// StateError with the final dial error. A Close during retries ends in
// StateDisconnected instead, like any other Close.
func (c *Client) reconnect(cause error) {
	c.setState(StateReconnecting, cause)

	var conn *websocket.Conn
	operation := func() error {
		if c.isClosed() {
			return backoff.Permanent(errClientClosed)
		}
		var err error
		conn, err = c.dial(context.Background())
		if errors.Is(err, ErrAuthFailed) {
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.cfg.MaxRetries)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, errClientClosed) {
			c.setState(StateDisconnected, nil)
		} else {
			c.setState(StateError, err)
		}
		return
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected, nil)

	go c.readLoop(conn)
	go c.heartbeat(conn)
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State, err error) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s, err)
	}
}
