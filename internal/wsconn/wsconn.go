// Package wsconn wraps a coder/websocket connection with a read loop,
// keepalive pings, serialized writes and observable state. It serves both
// sides: Accept for server handlers and Dial for clients.
package wsconn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/fd1az/pricestream/internal/apperror"
)

// State represents the connection state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateClosed       State = "closed"
)

// Config holds connection settings.
type Config struct {
	URL            string
	Name           string
	PingInterval   time.Duration // 0 disables pings
	WriteTimeout   time.Duration
	MaxMessageSize int64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig(url, name string) Config {
	return Config{
		URL:            url,
		Name:           name,
		PingInterval:   30 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
	}
}

// MessageHandler receives every inbound text or binary frame.
type MessageHandler func(ctx context.Context, msg []byte)

// StateHandler is notified on every state transition.
type StateHandler func(state State, err error)

// Conn is one WebSocket connection.
type Conn struct {
	config Config

	mu        sync.RWMutex
	conn      *websocket.Conn
	state     State
	onMessage MessageHandler
	onState   StateHandler

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// New creates an unconnected client Conn. Call Connect before Run.
func New(cfg Config) (*Conn, error) {
	if cfg.Name == "" {
		return nil, errors.New("wsconn: name is required")
	}
	return &Conn{
		config: cfg,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}, nil
}

// Accept upgrades an HTTP request and returns a connected Conn.
func Accept(w http.ResponseWriter, r *http.Request, cfg Config, opts *websocket.AcceptOptions) (*Conn, error) {
	ws, err := websocket.Accept(w, r, opts)
	if err != nil {
		return nil, apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext("accept"))
	}

	c, err := New(cfg)
	if err != nil {
		ws.Close(websocket.StatusInternalError, "")
		return nil, err
	}
	c.attach(ws)
	return c, nil
}

// Dial connects a client Conn to cfg.URL.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	c, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}

// Connect dials the configured URL.
func (c *Conn) Connect(ctx context.Context) error {
	if c.State() == StateClosed {
		return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}
	c.setState(StateConnecting, nil)

	ws, _, err := websocket.Dial(ctx, c.config.URL, nil)
	if err != nil {
		appErr := apperror.New(apperror.CodeWebSocketConnectionError,
			apperror.WithCause(err),
			apperror.WithContext(fmt.Sprintf("dial %s", c.config.URL)))
		c.setState(StateDisconnected, appErr)
		return appErr
	}

	c.attach(ws)
	return nil
}

func (c *Conn) attach(ws *websocket.Conn) {
	if c.config.MaxMessageSize > 0 {
		ws.SetReadLimit(c.config.MaxMessageSize)
	}
	c.mu.Lock()
	c.conn = ws
	c.mu.Unlock()
	c.setState(StateConnected, nil)
}

// OnMessage registers the inbound message handler.
func (c *Conn) OnMessage(fn MessageHandler) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// OnStateChange registers the state transition handler.
func (c *Conn) OnStateChange(fn StateHandler) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// Run reads frames until the connection fails, the peer closes it or ctx
// ends. Pings are sent from a separate goroutine while Run is active.
func (c *Conn) Run(ctx context.Context) error {
	c.mu.RLock()
	ws := c.conn
	handler := c.onMessage
	c.mu.RUnlock()

	if ws == nil {
		return apperror.New(apperror.CodeWebSocketConnectionError, apperror.WithContext("not connected"))
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if c.config.PingInterval > 0 {
		go c.keepalive(ctx, ws)
	}

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			c.closeWith(websocket.StatusNormalClosure, "", err)
			if isNormalClose(err) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if handler != nil {
			handler(ctx, data)
		}
	}
}

func (c *Conn) keepalive(ctx context.Context, ws *websocket.Conn) {
	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, c.writeTimeout())
			err := ws.Ping(pingCtx)
			cancel()
			if err != nil {
				c.closeWith(websocket.StatusPolicyViolation, "ping timeout", err)
				return
			}
		}
	}
}

// Send writes a text frame. Writes are serialized.
func (c *Conn) Send(ctx context.Context, msg []byte) error {
	c.mu.RLock()
	ws := c.conn
	state := c.state
	c.mu.RUnlock()

	if ws == nil || state != StateConnected {
		return apperror.New(apperror.CodeWebSocketClosed, apperror.WithContext(c.config.Name))
	}

	ctx, cancel := context.WithTimeout(ctx, c.writeTimeout())
	defer cancel()

	c.writeMu.Lock()
	err := ws.Write(ctx, websocket.MessageText, msg)
	c.writeMu.Unlock()

	if err != nil {
		return apperror.New(apperror.CodeWebSocketSendError,
			apperror.WithCause(err),
			apperror.WithContext(c.config.Name))
	}
	return nil
}

// SendJSON encodes v and sends it as a text frame.
func (c *Conn) SendJSON(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("wsconn: marshal: %w", err)
	}
	return c.Send(ctx, data)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the connection is usable.
func (c *Conn) IsConnected() bool {
	return c.State() == StateConnected
}

// Close closes the connection with a normal status. Safe to call twice.
func (c *Conn) Close() error {
	c.closeWith(websocket.StatusNormalClosure, "", nil)
	return nil
}

// CloseWithReason closes the connection with the given status and reason.
func (c *Conn) CloseWithReason(code websocket.StatusCode, reason string) {
	c.closeWith(code, reason, nil)
}

func (c *Conn) closeWith(code websocket.StatusCode, reason string, cause error) {
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.RLock()
		ws := c.conn
		c.mu.RUnlock()
		if ws != nil {
			ws.Close(code, reason)
		}
		c.setState(StateClosed, cause)
	})
}

func (c *Conn) setState(state State, err error) {
	c.mu.Lock()
	c.state = state
	fn := c.onState
	c.mu.Unlock()

	if fn != nil {
		fn(state, err)
	}
}

func (c *Conn) writeTimeout() time.Duration {
	if c.config.WriteTimeout <= 0 {
		return 10 * time.Second
	}
	return c.config.WriteTimeout
}

func isNormalClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
