package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamhub/streamhub/pkg/types"
)

const (
	handshakeTimeout   = 10 * time.Second
	writeTimeout       = 10 * time.Second
	defaultEventBuffer = 256
)

var (
	// ErrNotConnected is returned by operations while no socket is open.
	ErrNotConnected = errors.New("client: not connected")
	// ErrAuthenticate wraps a negative authenticate_result.
	ErrAuthenticate = errors.New("client: authentication rejected")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("client: closed")
)

// Option configures a Client.
type Option func(*Client)

// WithHeader sets HTTP headers sent on every dial, e.g. Origin.
func WithHeader(h http.Header) Option {
	return func(c *Client) { c.header = h.Clone() }
}

// WithDialer replaces the default websocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) { c.dialer = d }
}

// WithBackoff sets the reconnect backoff bounds. The defaults are 1s and 60s.
func WithBackoff(initial, limit time.Duration) Option {
	return func(c *Client) {
		c.backoffInitial = initial
		c.backoffMax = limit
	}
}

// WithEventBuffer sets the capacity of the Events channel.
func WithEventBuffer(n int) Option {
	return func(c *Client) { c.eventBuffer = n }
}

// Client is a relay session for one user. It is safe for concurrent use.
type Client struct {
	url            string
	header         http.Header
	dialer         *websocket.Dialer
	backoffInitial time.Duration
	backoffMax     time.Duration
	eventBuffer    int

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	events chan types.Envelope

	writeMu sync.Mutex // one writer per socket

	mu            sync.Mutex
	conn          *websocket.Conn
	started       bool
	userID        string
	status        Status
	user          *types.User
	online        map[string]struct{}
	notifications []types.Notification
	joined        map[string]struct{}
	subs          map[int]func(State)
	nextSub       int

	pubMu sync.Mutex // orders subscriber callbacks
}

// New returns a Client for the relay endpoint url (ws:// or wss://).
// Nothing is dialled until Connect.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:            url,
		dialer:         websocket.DefaultDialer,
		backoffInitial: defaultBackoffInitial,
		backoffMax:     defaultBackoffMax,
		eventBuffer:    defaultEventBuffer,
		done:           make(chan struct{}),
		status:         StatusDisconnected,
		online:         make(map[string]struct{}),
		joined:         make(map[string]struct{}),
		subs:           make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.events = make(chan types.Envelope, c.eventBuffer)
	return c
}

// Connect dials the relay and authenticates as userID. It returns once the
// relay has accepted or rejected the user; afterwards the client keeps the
// session alive in the background until Close.
func (c *Client) Connect(ctx context.Context, userID string) error {
	c.mu.Lock()
	switch {
	case c.status == StatusClosed:
		c.mu.Unlock()
		return ErrClosed
	case c.started:
		c.mu.Unlock()
		return fmt.Errorf("client: already connected as %q", c.userID)
	}
	c.userID = userID
	c.status = StatusConnecting
	c.mu.Unlock()
	c.publish()

	conn, err := c.dial(ctx)
	if err != nil {
		c.setStatus(StatusDisconnected)
		return err
	}

	c.mu.Lock()
	c.started = true
	c.mu.Unlock()
	go c.run(conn)
	return nil
}

// Close stops reconnecting and closes the socket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return nil
	}
	c.status = StatusClosed
	conn, started := c.conn, c.started
	c.conn = nil
	c.mu.Unlock()

	c.cancel()
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
	}
	if started {
		<-c.done
	}
	c.publish()
	return nil
}

// UserID returns the user the client authenticates as.
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// State returns a snapshot of the session.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Subscribe registers fn to be called with a fresh snapshot after every state
// change. Calls are serialized. The returned func removes the subscription.
func (c *Client) Subscribe(fn func(State)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// Events delivers every inbound envelope after it has been applied to the
// session. When the channel is full new events are dropped.
func (c *Client) Events() <-chan types.Envelope {
	return c.events
}

// --- operations ---------------------------------------------------------------

// FollowUser follows targetID. The outcome arrives as a follow_result event.
func (c *Client) FollowUser(targetID string) error {
	return c.send(types.TypeFollow, types.FollowRequest{FollowerID: c.UserID(), FollowingID: targetID})
}

// UnfollowUser removes the follow edge to targetID.
func (c *Client) UnfollowUser(targetID string) error {
	return c.send(types.TypeUnfollow, types.FollowRequest{FollowerID: c.UserID(), FollowingID: targetID})
}

// JoinStream joins streamID. Joined streams are rejoined after a reconnect.
func (c *Client) JoinStream(streamID string) error {
	if err := c.send(types.TypeJoinStream, types.StreamRequest{StreamID: streamID, UserID: c.UserID()}); err != nil {
		return err
	}
	c.mu.Lock()
	c.joined[streamID] = struct{}{}
	c.mu.Unlock()
	return nil
}

// LeaveStream leaves streamID.
func (c *Client) LeaveStream(streamID string) error {
	c.mu.Lock()
	delete(c.joined, streamID)
	c.mu.Unlock()
	return c.send(types.TypeLeaveStream, types.StreamRequest{StreamID: streamID, UserID: c.UserID()})
}

// SendChatMessage posts a chat message to streamID.
func (c *Client) SendChatMessage(streamID, content string) error {
	return c.send(types.TypeChatMessage, types.ChatRequest{
		StreamID: streamID,
		UserID:   c.UserID(),
		Message:  content,
		Kind:     types.MessageChat,
	})
}

// MarkNotificationAsRead marks one inbox entry read. The local copy is
// updated when the relay confirms.
func (c *Client) MarkNotificationAsRead(notificationID string) error {
	return c.send(types.TypeNotificationRead, types.NotificationReadRequest{NotificationID: notificationID})
}

// --- connection lifecycle -------------------------------------------------------

// run reads from conn and reconnects whenever it drops, until Close.
func (c *Client) run(conn *websocket.Conn) {
	defer close(c.done)
	for {
		c.readLoop(conn)
		if c.ctx.Err() != nil {
			return
		}
		c.setStatus(StatusReconnecting)

		conn = c.reconnect()
		if conn == nil {
			return
		}
	}
}

func (c *Client) reconnect() *websocket.Conn {
	bo := newBackoff(c.backoffInitial, c.backoffMax)
	for attempt := 1; ; attempt++ {
		wait := bo.next()
		slog.Info("client: reconnecting", "user", c.UserID(), "attempt", attempt, "wait", wait)
		select {
		case <-c.ctx.Done():
			return nil
		case <-time.After(wait):
		}

		conn, err := c.dial(c.ctx)
		if err != nil {
			slog.Warn("client: reconnect failed", "user", c.UserID(), "attempt", attempt, "err", err)
			continue
		}
		c.rejoin(conn)
		return conn
	}
}

// dial opens a socket, authenticates and installs it as the current one.
func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.url, c.header)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", c.url, err)
	}
	res, err := c.handshake(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		conn.Close()
		return nil, ErrClosed
	}
	c.conn = conn
	c.authenticated(res)
	c.mu.Unlock()

	slog.Debug("client: authenticated", "user", c.UserID(), "online", len(res.Online))
	c.publish()
	return conn, nil
}

// handshake sends authenticate and waits for its result.
func (c *Client) handshake(conn *websocket.Conn) (types.AuthenticateResult, error) {
	var res types.AuthenticateResult

	env, err := types.NewEnvelope(types.TypeAuthenticate, types.AuthenticateRequest{UserID: c.UserID()})
	if err != nil {
		return res, err
	}
	if err := c.write(conn, env); err != nil {
		return res, err
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return res, fmt.Errorf("client: read authenticate result: %w", err)
		}
		var in types.Envelope
		if err := json.Unmarshal(raw, &in); err != nil || in.Type != types.TypeAuthenticateResult {
			continue
		}
		if err := in.Decode(&res); err != nil {
			return res, err
		}
		if !res.Success {
			if res.Error != nil {
				return res, fmt.Errorf("%w: %s: %s", ErrAuthenticate, res.Error.Kind, res.Error.Message)
			}
			return res, ErrAuthenticate
		}
		_ = conn.SetReadDeadline(time.Time{})
		return res, nil
	}
}

func (c *Client) rejoin(conn *websocket.Conn) {
	c.mu.Lock()
	streams := make([]string, 0, len(c.joined))
	for id := range c.joined {
		streams = append(streams, id)
	}
	userID := c.userID
	c.mu.Unlock()

	for _, id := range streams {
		env, err := types.NewEnvelope(types.TypeJoinStream, types.StreamRequest{StreamID: id, UserID: userID})
		if err != nil {
			continue
		}
		if err := c.write(conn, env); err != nil {
			slog.Warn("client: rejoin failed", "stream", id, "err", err)
			return
		}
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer func() {
		c.mu.Lock()
		if c.conn == conn {
			c.conn = nil
		}
		c.mu.Unlock()
		conn.Close()
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil {
				slog.Warn("client: connection lost", "user", c.UserID(), "err", err)
			}
			return
		}
		var env types.Envelope
		if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
			slog.Debug("client: dropping malformed frame", "bytes", len(raw))
			continue
		}

		c.mu.Lock()
		changed := c.apply(env)
		c.mu.Unlock()
		if changed {
			c.publish()
		}

		select {
		case c.events <- env:
		default:
			slog.Debug("client: event buffer full, dropped", "type", env.Type)
		}
	}
}

func (c *Client) send(typ string, data interface{}) error {
	env, err := types.NewEnvelope(typ, data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	conn, status := c.conn, c.status
	c.mu.Unlock()
	if status == StatusClosed {
		return ErrClosed
	}
	if conn == nil {
		return ErrNotConnected
	}
	return c.write(conn, env)
}

func (c *Client) write(conn *websocket.Conn, env types.Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("client: marshal %s: %w", env.Type, err)
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("client: send %s: %w", env.Type, err)
	}
	return nil
}

func (c *Client) setStatus(s Status) {
	c.mu.Lock()
	if c.status == StatusClosed {
		c.mu.Unlock()
		return
	}
	c.status = s
	c.mu.Unlock()
	c.publish()
}

// publish sends the current snapshot to every subscriber.
func (c *Client) publish() {
	c.pubMu.Lock()
	defer c.pubMu.Unlock()

	c.mu.Lock()
	s := c.snapshot()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(s)
	}
}
