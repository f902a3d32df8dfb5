// Package channel is the persistent, authenticated session channel to the
// interview backend.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"interviewcoach/internal/domain"
	"interviewcoach/internal/ports"
)

const (
	writeTimeout = 10 * time.Second
	dialTimeout  = 10 * time.Second
)

var (
	ErrNotConnected       = errors.New("session channel not connected")
	ErrConnectionLost     = errors.New("session channel connection lost")
	ErrReconnectExhausted = errors.New("session channel reconnect attempts exhausted")
	ErrNoToken            = errors.New("no auth token available")
)

// Options configures a Client.
type Options struct {
	BaseURL              string
	SessionID            string
	Tokens               ports.TokenSource
	HeartbeatInterval    time.Duration
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	AuthSendAttempts     int
	AuthSendInterval     time.Duration
	Dialer               *websocket.Dialer
}

// StateListener observes channel state. err is ErrConnectionLost on an
// unintentional drop and ErrReconnectExhausted once reconnecting gives up.
type StateListener func(status domain.ChannelStatus, err error)

// Client owns one WebSocket connection per session id, reconnecting
// transparently until closed.
type Client struct {
	opts Options
	log  logrus.FieldLogger
	now  func() time.Time

	mu             sync.Mutex
	writeMu        sync.Mutex
	conn           *websocket.Conn
	state          domain.ConnState
	authenticated  bool
	attempt        int
	intentional    bool
	handlers       map[string]Handler
	listener       StateListener
	reconnectTimer *time.Timer
	stopHeartbeat  context.CancelFunc
	// warnedClosed limits the not-open warning to one per outage.
	warnedClosed bool
}

func NewClient(opts Options, log logrus.FieldLogger) *Client {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.ReconnectDelay < 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	if opts.MaxReconnectAttempts < 0 {
		opts.MaxReconnectAttempts = 5
	}
	if opts.AuthSendAttempts <= 0 {
		opts.AuthSendAttempts = 10
	}
	if opts.AuthSendInterval <= 0 {
		opts.AuthSendInterval = 100 * time.Millisecond
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	return &Client{
		opts:     opts,
		log:      log.WithFields(logrus.Fields{"component": "channel", "session": opts.SessionID}),
		now:      time.Now,
		state:    domain.ConnClosed,
		handlers: map[string]Handler{},
	}
}

// URL is the session endpoint.
func (c *Client) URL() string {
	return strings.TrimRight(c.opts.BaseURL, "/") + "/ws/interview/" + url.PathEscape(c.opts.SessionID)
}

// On registers the handler for one message type, replacing any previous
// one. Use Wildcard to observe every message.
func (c *Client) On(messageType string, handler Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[messageType] = handler
}

func (c *Client) Off(messageType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.handlers, messageType)
}

func (c *Client) OnStateChange(listener StateListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = listener
}

// Status snapshots the channel state.
func (c *Client) Status() domain.ChannelStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statusLocked()
}

func (c *Client) statusLocked() domain.ChannelStatus {
	return domain.ChannelStatus{
		State:            c.state,
		Authenticated:    c.authenticated,
		ReconnectAttempt: c.attempt,
	}
}

// Connect opens the channel, authenticates and starts the heartbeat. An
// initial dial failure is returned; later drops reconnect in the
// background.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.intentional = false
	c.attempt = 0
	c.mu.Unlock()

	return c.open(ctx)
}

func (c *Client) open(ctx context.Context) error {
	c.setState(domain.ConnConnecting, nil)

	target := c.URL()
	c.log.WithField("url", target).Info("connecting session channel")

	conn, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		c.setState(domain.ConnClosed, nil)
		return fmt.Errorf("failed to connect session channel: %w", err)
	}

	heartbeatCtx, cancel := context.WithCancel(context.Background())

	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		cancel()
		_ = conn.Close()
		return ErrNotConnected
	}
	c.conn = conn
	c.state = domain.ConnOpen
	c.authenticated = false
	c.attempt = 0
	c.warnedClosed = false
	c.stopHeartbeat = cancel
	status := c.statusLocked()
	listener := c.listener
	c.mu.Unlock()

	c.log.Info("session channel open")
	if listener != nil {
		listener(status, nil)
	}

	go c.readLoop(conn)
	go c.heartbeat(heartbeatCtx, conn)

	if err := c.authenticate(ctx, conn); err != nil {
		c.log.WithError(err).Error("failed to authenticate session channel")
	}
	return nil
}

// authenticate sends the auth message, retrying until the token is
// available and the send succeeds.
func (c *Client) authenticate(ctx context.Context, conn *websocket.Conn) error {
	var lastErr error
	for attempt := 1; attempt <= c.opts.AuthSendAttempts; attempt++ {
		lastErr = c.sendAuth(ctx, conn)
		if lastErr == nil {
			return nil
		}
		if !c.isCurrent(conn) {
			return lastErr
		}
		c.log.WithError(lastErr).WithField("attempt", attempt).Debug("auth not sent, retrying")

		timer := time.NewTimer(c.opts.AuthSendInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}

func (c *Client) sendAuth(ctx context.Context, conn *websocket.Conn) error {
	if c.opts.Tokens == nil {
		return ErrNoToken
	}
	token, err := c.opts.Tokens.Token(ctx)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return ErrNoToken
	}
	return c.writeTo(conn, AuthMessage{Type: TypeAuth, Token: token})
}

func (c *Client) isCurrent(conn *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn == conn && c.state == domain.ConnOpen
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.handleDrop(conn, err)
			return
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.log.WithError(err).Warn("dropping unparseable channel message")
			continue
		}

		if env.Type == TypeAuthSuccess {
			c.markAuthenticated(conn)
		}
		c.dispatch(Message{Type: env.Type, Raw: json.RawMessage(data)})
	}
}

func (c *Client) markAuthenticated(conn *websocket.Conn) {
	c.mu.Lock()
	if c.conn != conn || c.state != domain.ConnOpen {
		c.mu.Unlock()
		return
	}
	c.authenticated = true
	status := c.statusLocked()
	listener := c.listener
	c.mu.Unlock()

	c.log.Info("session channel authenticated")
	if listener != nil {
		listener(status, nil)
	}
}

func (c *Client) dispatch(msg Message) {
	c.mu.Lock()
	handler := c.handlers[msg.Type]
	wildcard := c.handlers[Wildcard]
	c.mu.Unlock()

	if handler != nil {
		handler(msg)
	}
	if wildcard != nil {
		wildcard(msg)
	}
}

func (c *Client) handleDrop(conn *websocket.Conn, cause error) {
	c.mu.Lock()
	if c.conn != conn {
		c.mu.Unlock()
		return
	}
	c.conn = nil
	c.authenticated = false
	c.state = domain.ConnClosed
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
		c.stopHeartbeat = nil
	}
	c.mu.Unlock()
	_ = conn.Close()

	c.log.WithError(cause).Warn("session channel closed")
	c.scheduleReconnect()
}

func (c *Client) scheduleReconnect() {
	c.mu.Lock()
	if c.intentional {
		status := c.statusLocked()
		listener := c.listener
		c.mu.Unlock()
		if listener != nil {
			listener(status, nil)
		}
		return
	}
	if c.attempt >= c.opts.MaxReconnectAttempts {
		status := c.statusLocked()
		listener := c.listener
		c.mu.Unlock()
		c.log.WithField("attempts", status.ReconnectAttempt).Error("giving up on session channel")
		if listener != nil {
			listener(status, ErrReconnectExhausted)
		}
		return
	}
	c.attempt++
	attempt := c.attempt
	c.reconnectTimer = time.AfterFunc(c.opts.ReconnectDelay, c.reconnect)
	status := c.statusLocked()
	listener := c.listener
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"attempt": attempt,
		"max":     c.opts.MaxReconnectAttempts,
	}).Info("reconnecting session channel")
	if listener != nil {
		listener(status, ErrConnectionLost)
	}
}

func (c *Client) reconnect() {
	c.mu.Lock()
	if c.intentional {
		c.mu.Unlock()
		return
	}
	c.reconnectTimer = nil
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()
	if err := c.open(ctx); err != nil {
		if errors.Is(err, ErrNotConnected) {
			return
		}
		c.log.WithError(err).Warn("reconnect attempt failed")
		c.scheduleReconnect()
	}
}

func (c *Client) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !c.isCurrent(conn) {
				return
			}
			if err := c.Ping(); err != nil {
				c.log.WithError(err).Debug("heartbeat ping failed")
			}
		}
	}
}

// Close ends the session channel without reconnecting and drops all
// handlers.
func (c *Client) Close() error {
	c.mu.Lock()
	c.intentional = true
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	if c.stopHeartbeat != nil {
		c.stopHeartbeat()
		c.stopHeartbeat = nil
	}
	conn := c.conn
	c.conn = nil
	c.authenticated = false
	c.state = domain.ConnClosing
	c.handlers = map[string]Handler{}
	c.mu.Unlock()

	var err error
	if conn != nil {
		c.writeMu.Lock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "Client closing connection"),
			time.Now().Add(writeTimeout))
		c.writeMu.Unlock()
		err = conn.Close()
	}

	c.setState(domain.ConnClosed, nil)
	c.log.Info("session channel closed by client")
	return err
}

func (c *Client) setState(state domain.ConnState, err error) {
	c.mu.Lock()
	c.state = state
	if state != domain.ConnOpen {
		c.authenticated = false
	}
	status := c.statusLocked()
	listener := c.listener
	c.mu.Unlock()

	if listener != nil {
		listener(status, err)
	}
}

// Send writes one JSON message. It returns ErrNotConnected without
// side effects when the channel is not open.
func (c *Client) Send(v any) error {
	c.mu.Lock()
	conn := c.conn
	open := c.state == domain.ConnOpen
	warn := false
	if conn == nil || !open {
		warn = !c.warnedClosed
		c.warnedClosed = true
	}
	c.mu.Unlock()

	if conn == nil || !open {
		if warn {
			c.log.Warn("channel not open, message not sent")
		} else {
			c.log.Debug("channel not open, message not sent")
		}
		return ErrNotConnected
	}
	return c.writeTo(conn, v)
}

func (c *Client) writeTo(conn *websocket.Conn, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return fmt.Errorf("failed to write channel message: %w", err)
	}
	return nil
}

func (c *Client) timestamp() int64 {
	return c.now().UnixMilli()
}

func (c *Client) SendVideoFrame(mimeType string, data []byte) error {
	return c.Send(VideoFrameMessage{
		Type:      TypeVideoFrame,
		Data:      DataURL(mimeType, data),
		Timestamp: c.timestamp(),
	})
}

// SendAudioChunk sends one audio segment with the live transcript, which
// is omitted as null when empty.
func (c *Client) SendAudioChunk(mimeType string, data []byte, transcript string) error {
	msg := AudioChunkMessage{
		Type:      TypeAudioChunk,
		Data:      DataURL(mimeType, data),
		Timestamp: c.timestamp(),
	}
	if transcript != "" {
		msg.Transcript = &transcript
	}
	return c.Send(msg)
}

// SendAnswer submits an answer. duration is in seconds.
func (c *Client) SendAnswer(question string, answer string, duration float64) error {
	return c.Send(AnswerMessage{
		Type:     TypeAnswer,
		Question: question,
		Answer:   answer,
		Duration: duration,
	})
}

func (c *Client) EndSession() error {
	return c.Send(EndSessionMessage{Type: TypeEndSession})
}

func (c *Client) Ping() error {
	return c.Send(PingMessage{Type: TypePing, Timestamp: c.timestamp()})
}
