package chat

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/quantdeck/assistant/internal/config"
	"github.com/quantdeck/assistant/internal/logging"
	"github.com/quantdeck/assistant/internal/monitoring"
)

var (
	// ErrNotConnected is returned when a frame is submitted on a closed channel.
	ErrNotConnected = errors.New("channel is not connected")
	// ErrConnectTimeout is returned when the connection ack does not arrive in time.
	ErrConnectTimeout = errors.New("timed out waiting for connection ack")
)

// Channel is the duplex transport to the conversation gateway. It owns one
// websocket connection at a time, forwards every inbound frame to the
// dispatcher, and transparently re-dials on unexpected closure, reusing the
// last known session id and model so the conversation resumes.
//
// Frames on one connection arrive in order; across a reconnect no ordering
// holds, which is why the reconnect hook exists (the reconciler uses it to
// request a history snapshot).
type Channel struct {
	cfg        config.ChatConfig
	baseURL    string
	dialer     *websocket.Dialer
	dispatcher *Dispatcher
	log        *logging.Logger
	metrics    *monitoring.Metrics

	onReconnected func()
	onStateChange func(ConnState)

	mu           sync.Mutex
	conn         *websocket.Conn
	state        ConnState
	sessionID    string
	model        string
	intentional  bool
	reconnecting bool
	ackCh        chan string

	writeMu sync.Mutex
}

// NewChannel creates a channel pointed at the gateway's websocket base URL.
func NewChannel(baseURL string, cfg config.ChatConfig, dispatcher *Dispatcher, log *logging.Logger, metrics *monitoring.Metrics) *Channel {
	if log == nil {
		log = logging.NewNop()
	}
	return &Channel{
		cfg:        cfg,
		baseURL:    strings.TrimRight(baseURL, "/"),
		dialer:     websocket.DefaultDialer,
		dispatcher: dispatcher,
		log:        log.Named("channel"),
		metrics:    metrics,
	}
}

// SetOnReconnected registers a hook invoked after a successful automatic
// reconnect. Must be set before Connect.
func (c *Channel) SetOnReconnected(fn func()) {
	c.onReconnected = fn
}

// SetOnStateChange registers a hook invoked on channel-driven state
// transitions: the ack that opens a connection, the reconnect window, and
// terminal loss. Caller-initiated transitions (Connect, Disconnect) are
// already visible to the caller. Must be set before Connect.
func (c *Channel) SetOnStateChange(fn func(ConnState)) {
	c.onStateChange = fn
}

// Connect establishes the duplex channel and blocks until the gateway's
// connection ack delivers the authoritative session id. An empty sessionID
// asks the gateway to create a new session.
func (c *Channel) Connect(ctx context.Context, sessionID, model string) (string, error) {
	c.mu.Lock()
	if c.state == StateConnected {
		sid := c.sessionID
		c.mu.Unlock()
		return sid, nil
	}
	c.state = StateConnecting
	c.sessionID = sessionID
	c.model = model
	c.intentional = false
	c.mu.Unlock()
	c.metrics.SetConnectionState(1)

	ack, err := c.dial(ctx, sessionID, model)
	if err != nil {
		c.markDisconnected()
		return "", err
	}

	assigned, err := c.awaitAck(ctx, ack)
	if err != nil {
		c.teardown()
		return "", err
	}
	return assigned, nil
}

// Send serializes and transmits one frame. Returns ErrNotConnected (and
// logs) when the channel is closed; callers that need guaranteed delivery
// must check IsConnected first.
func (c *Channel) Send(frame any) error {
	c.mu.Lock()
	conn := c.conn
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || conn == nil {
		c.log.Warn("dropping outbound frame, channel not connected")
		return ErrNotConnected
	}

	data, err := sonic.Marshal(frame)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return conn.WriteMessage(websocket.TextMessage, data)
}

// Disconnect marks closure as intentional and tears down the connection,
// suppressing auto-reconnect.
func (c *Channel) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.metrics.SetConnectionState(0)

	if conn != nil {
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
}

// IsConnected reports whether the channel is open.
func (c *Channel) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected
}

// State returns the current connection state.
func (c *Channel) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SessionID returns the last known session id, or "" before first connect.
func (c *Channel) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// endpoint builds the websocket URL: session id as a path segment (omitted
// for create-on-first-message), model as a query parameter.
func (c *Channel) endpoint(sessionID, model string) string {
	endpoint := c.baseURL + "/ws/chat"
	if sessionID != "" {
		endpoint += "/" + url.PathEscape(sessionID)
	}
	if model != "" {
		endpoint += "?model=" + url.QueryEscape(model)
	}
	return endpoint
}

// dial opens the websocket and starts the reader. The returned channel
// receives the session id once the gateway acks the connection.
func (c *Channel) dial(ctx context.Context, sessionID, model string) (chan string, error) {
	endpoint := c.endpoint(sessionID, model)
	conn, _, err := c.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	ack := make(chan string, 1)
	c.mu.Lock()
	c.conn = conn
	c.ackCh = ack
	c.mu.Unlock()

	go c.readLoop(conn)
	return ack, nil
}

// awaitAck blocks until the connection ack arrives or the attempt expires.
func (c *Channel) awaitAck(ctx context.Context, ack chan string) (string, error) {
	timeout := c.cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	select {
	case sid := <-ack:
		return sid, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(timeout):
		return "", ErrConnectTimeout
	}
}

// readLoop delivers inbound frames sequentially until the connection dies.
// Handler callbacks run on this goroutine, preserving arrival order.
func (c *Channel) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		ev, perr := ParseEvent(raw)
		if perr != nil {
			c.log.Warn("dropping undecodable frame", zap.Error(perr))
			c.metrics.ObserveDrop("decode")
			continue
		}

		if ev.Type == EventConnection {
			c.mu.Lock()
			c.sessionID = ev.SessionID
			c.state = StateConnected
			ack := c.ackCh
			c.ackCh = nil
			c.mu.Unlock()
			c.metrics.SetConnectionState(2)
			c.notifyState(StateConnected)
			if ack != nil {
				ack <- ev.SessionID
			}
		}

		c.dispatcher.DispatchEvent(ev)
	}
}

// handleReadError tears down after a read failure and, unless the closure
// was caller-initiated, drives the bounded reconnect loop.
func (c *Channel) handleReadError(err error) {
	c.mu.Lock()
	intentional := c.intentional
	reconnecting := c.reconnecting
	c.conn = nil
	c.state = StateDisconnected
	sessionID := c.sessionID
	model := c.model
	c.mu.Unlock()
	c.metrics.SetConnectionState(0)

	if intentional || reconnecting {
		c.log.Debug("channel closed", zap.Error(err))
		return
	}

	c.log.Warn("unexpected channel closure", zap.Error(err))
	c.reconnect(sessionID, model)
}

// reconnect retries up to the configured ceiling with a fixed delay between
// attempts. Exhaustion leaves the channel disconnected and surfaces an
// error event to the dispatcher.
func (c *Channel) reconnect(sessionID, model string) {
	c.mu.Lock()
	c.reconnecting = true
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)
	defer func() {
		c.mu.Lock()
		c.reconnecting = false
		c.mu.Unlock()
	}()

	for attempt := 1; attempt <= c.cfg.MaxReconnectAttempts; attempt++ {
		time.Sleep(c.cfg.ReconnectDelay)

		c.mu.Lock()
		if c.intentional {
			c.mu.Unlock()
			return
		}
		c.state = StateConnecting
		c.mu.Unlock()
		c.metrics.SetConnectionState(1)
		c.metrics.ObserveReconnect()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.ConnectTimeout)
		ack, err := c.dial(ctx, sessionID, model)
		if err == nil {
			_, err = c.awaitAck(ctx, ack)
			if err == nil {
				cancel()
				c.log.Info("reconnected",
					zap.String("session_id", sessionID),
					zap.Int("attempt", attempt))
				if c.onReconnected != nil {
					c.onReconnected()
				}
				return
			}
			c.closeCurrent()
		}
		cancel()

		c.log.Warn("reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", c.cfg.MaxReconnectAttempts),
			zap.Error(err))
	}

	c.markDisconnected()
	c.log.Error("reconnect attempts exhausted", zap.String("session_id", sessionID))
	c.dispatcher.DispatchEvent(Event{
		Type:    EventError,
		Message: "connection lost: reconnect attempts exhausted",
	})
}

// teardown closes the current connection without triggering reconnect.
func (c *Channel) teardown() {
	c.mu.Lock()
	c.intentional = true
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.metrics.SetConnectionState(0)

	if conn != nil {
		_ = conn.Close()
	}
}

// closeCurrent drops the live connection without marking the closure
// intentional. Used between reconnect attempts; the reconnecting guard
// keeps the dying reader from starting a second retry loop.
func (c *Channel) closeCurrent() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.state = StateDisconnected
	c.mu.Unlock()
	c.metrics.SetConnectionState(0)

	if conn != nil {
		_ = conn.Close()
	}
}

func (c *Channel) markDisconnected() {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.metrics.SetConnectionState(0)
	c.notifyState(StateDisconnected)
}

// notifyState reports a channel-driven transition to the registered observer.
// Called without c.mu held.
func (c *Channel) notifyState(state ConnState) {
	if c.onStateChange != nil {
		c.onStateChange(state)
	}
}
