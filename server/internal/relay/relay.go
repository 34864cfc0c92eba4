package relay

import (
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/membership"
	"github.com/streamhub/streamhub/server/internal/presence"
	"github.com/streamhub/streamhub/server/internal/store"
)

// DefaultMaxMessageLength is the chat message limit in runes.
const DefaultMaxMessageLength = 500

// Notifier receives every notification the relay stores. Notify must not block.
type Notifier interface {
	Notify(n types.Notification)
}

// Observer receives protocol counters. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	Received(envelopeType string)
	Dropped(reason string)
	SlowConsumer()
}

type noopObserver struct{}

func (noopObserver) Received(string) {}
func (noopObserver) Dropped(string)  {}
func (noopObserver) SlowConsumer()   {}

// Option configures a Relay.
type Option func(*Relay)

// WithNotifier forwards stored notifications to n.
func WithNotifier(n Notifier) Option {
	return func(r *Relay) { r.notifier = n }
}

// WithObserver reports protocol counters to o.
func WithObserver(o Observer) Option {
	return func(r *Relay) { r.observer = o }
}

// WithMaxMessageLength sets the chat message limit in runes.
func WithMaxMessageLength(n int) Option {
	return func(r *Relay) { r.SetMaxMessageLength(n) }
}

// Relay is the dispatch loop shared by every connection.
type Relay struct {
	store    *store.Store
	presence *presence.Tracker[Connection]
	viewers  *membership.Registry
	notifier Notifier
	observer Observer
	maxChat  atomic.Int64

	mu       sync.RWMutex
	sessions map[string]*session

	// presenceMu serializes online/offline transitions so a disconnect and a
	// re-authenticate of the same user cannot interleave their store writes.
	presenceMu sync.Mutex

	// streamLocks serializes append+fan-out per stream so every viewer sees
	// a stream's messages in history order.
	streamLocks sync.Map // stream id -> *sync.Mutex
}

// New creates a Relay over st. The relay owns the presence tracker and the
// membership registry; the registry writes viewer counts back into st.
func New(st *store.Store, opts ...Option) *Relay {
	r := &Relay{
		store:    st,
		presence: presence.New[Connection](),
		viewers:  membership.New(st),
		observer: noopObserver{},
		sessions: make(map[string]*session),
	}
	r.maxChat.Store(DefaultMaxMessageLength)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetMaxMessageLength changes the chat message limit. Non-positive values
// restore the default. Safe to call while serving.
func (r *Relay) SetMaxMessageLength(n int) {
	if n <= 0 {
		n = DefaultMaxMessageLength
	}
	r.maxChat.Store(int64(n))
}

// Store returns the entity store the relay mutates.
func (r *Relay) Store() *store.Store {
	return r.store
}

// Connect registers a new connection in the Unauthenticated state.
func (r *Relay) Connect(c Connection) {
	r.mu.Lock()
	r.sessions[c.ID()] = &session{conn: c, state: StateUnauthenticated}
	total := len(r.sessions)
	r.mu.Unlock()
	slog.Debug("relay: connection opened", "conn", c.ID(), "connections", total)
}

// Dispatch decodes one inbound frame from c and runs its handler. It must be
// called sequentially per connection.
func (r *Relay) Dispatch(c Connection, raw []byte) {
	var env types.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || env.Type == "" {
		slog.Warn("relay: dropping malformed frame", "conn", c.ID(), "err", err, "bytes", len(raw))
		r.observer.Dropped("malformed")
		return
	}

	h, ok := handlers[env.Type]
	if !ok {
		slog.Warn("relay: dropping unknown envelope type", "conn", c.ID(), "type", env.Type)
		r.observer.Dropped("unknown_type")
		return
	}

	state, userID := r.stateOf(c)
	if state == StateClosed {
		return
	}
	r.observer.Received(env.Type)

	if env.Type != types.TypeAuthenticate && state != StateAuthenticated {
		r.fail(c, env.Type, ErrUnauthenticated)
		return
	}
	if err := h(r, c, userID, env); err != nil {
		slog.Debug("relay: request failed", "conn", c.ID(), "type", env.Type, "user", userID, "err", err)
		r.fail(c, env.Type, err)
	}
}

// Disconnect tears down c: it leaves the presence map, goes offline, leaves
// every stream, and tells the affected viewers and online followers. A
// connection evicted by a newer login only drops its session; its streams
// were left when it was evicted.
func (r *Relay) Disconnect(c Connection) {
	r.mu.Lock()
	_, known := r.sessions[c.ID()]
	delete(r.sessions, c.ID())
	total := len(r.sessions)
	r.mu.Unlock()
	if !known {
		return
	}

	r.presenceMu.Lock()
	userID, bound := r.presence.Unregister(c)
	var changes []membership.Change
	if bound {
		if _, err := r.store.SetOnline(userID, false); err != nil {
			slog.Warn("relay: could not mark user offline", "user", userID, "err", err)
		}
		changes = r.viewers.LeaveAll(userID)
	}
	r.presenceMu.Unlock()

	slog.Info("relay: connection closed", "conn", c.ID(), "user", userID, "connections", total)
	if !bound {
		return
	}

	who := r.profile(userID)
	for _, ch := range changes {
		r.roomcast(ch.StreamID, types.TypeViewerLeft, types.ViewerEvent{StreamID: ch.StreamID, Count: ch.Count, User: who})
	}
	r.toOnlineFollowers(userID, types.TypePresenceChanged, types.PresenceChanged{UserID: userID, IsOnline: false})
}

// ConnectionCount returns the number of open connections.
func (r *Relay) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// OnlineUsers returns the ids of users with an authenticated connection.
func (r *Relay) OnlineUsers() []string {
	return r.presence.Online()
}

// IsOnline reports whether userID has an authenticated connection.
func (r *Relay) IsOnline(userID string) bool {
	return r.presence.IsOnline(userID)
}

// ViewersOf returns the users watching streamID.
func (r *Relay) ViewersOf(streamID string) []string {
	return r.viewers.ViewersOf(streamID)
}

// ViewerCounts returns the viewer count of every stream that has had viewers.
func (r *Relay) ViewerCounts() map[string]int {
	return r.viewers.Counts()
}

// StateOf returns the protocol state of c.
func (r *Relay) StateOf(c Connection) State {
	s, _ := r.stateOf(c)
	return s
}

func (r *Relay) stateOf(c Connection) (State, string) {
	r.mu.RLock()
	sess, ok := r.sessions[c.ID()]
	state := StateClosed
	if ok {
		state = sess.state
	}
	r.mu.RUnlock()
	if state != StateAuthenticated {
		return state, ""
	}
	// A connection that lost its user to a newer login is finished even if
	// its session has not been marked yet.
	userID, ok := r.presence.UserFor(c)
	if !ok {
		return StateClosed, ""
	}
	return state, userID
}

func (r *Relay) setState(c Connection, state State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if sess, ok := r.sessions[c.ID()]; ok {
		sess.state = state
	}
}

func (r *Relay) streamLock(streamID string) *sync.Mutex {
	mu, _ := r.streamLocks.LoadOrStore(streamID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}
