package ws

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/relay"
)

// writeTimeout is the deadline for a single write to a client.
const writeTimeout = 10 * time.Second

// Socket is the part of a WebSocket connection a Peer drives. Both
// *gorilla/websocket.Conn and the fiber contrib connection satisfy it.
type Socket interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	SetReadLimit(limit int64)
	Close() error
}

// Dispatcher is the relay side of a peer.
type Dispatcher interface {
	Connect(c relay.Connection)
	Dispatch(c relay.Connection, raw []byte)
	Disconnect(c relay.Connection)
}

// Observer counts frames the transport drops. Nil is allowed.
type Observer interface {
	Dropped(reason string)
}

// Peer is one served socket. It implements relay.Connection.
type Peer struct {
	id      string
	sock    Socket
	opts    Options
	limiter *rate.Limiter
	obs     Observer

	send chan []byte
	done chan struct{}
	once sync.Once
}

// NewPeer wraps sock. Zero fields of opts take their defaults.
func NewPeer(sock Socket, opts Options, obs Observer) *Peer {
	opts = opts.withDefaults()
	p := &Peer{
		id:   uuid.NewString(),
		sock: sock,
		opts: opts,
		obs:  obs,
		send: make(chan []byte, opts.SendQueue),
		done: make(chan struct{}),
	}
	if opts.RatePerSecond > 0 {
		p.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.RateBurst)
	}
	return p
}

// ID returns the peer's connection id.
func (p *Peer) ID() string { return p.id }

// Send enqueues env without blocking.
func (p *Peer) Send(env types.Envelope) error {
	select {
	case <-p.done:
		return relay.ErrConnectionClosed
	default:
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("ws: encode %q: %w", env.Type, err)
	}
	select {
	case p.send <- data:
		return nil
	default:
		return relay.ErrSendQueueFull
	}
}

// Close asks the writer to send a close frame and shut the socket. It does
// not wait and may be called repeatedly.
func (p *Peer) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Serve runs the peer against d until the socket closes. It calls Connect
// before the first Dispatch and Disconnect after the last.
func (p *Peer) Serve(d Dispatcher) {
	d.Connect(p)
	defer d.Disconnect(p)

	written := make(chan struct{})
	go func() {
		defer close(written)
		p.writePump()
	}()

	p.readPump(d)
	p.Close()
	<-written
}

// readPump forwards text frames to d until a read fails. The read deadline
// is pushed forward by every pong.
func (p *Peer) readPump(d Dispatcher) {
	p.sock.SetReadLimit(p.opts.MaxFrameBytes)
	p.sock.SetReadDeadline(time.Now().Add(p.opts.PongWait)) //nolint:errcheck
	p.sock.SetPongHandler(func(string) error {
		return p.sock.SetReadDeadline(time.Now().Add(p.opts.PongWait))
	})

	for {
		typ, data, err := p.sock.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Debug("ws: read failed", "conn", p.id, "err", err)
			}
			return
		}
		if typ != websocket.TextMessage {
			p.drop("binary")
			continue
		}
		if p.limiter != nil && !p.limiter.Allow() {
			p.drop("rate_limited")
			continue
		}
		d.Dispatch(p, data)
	}
}

// writePump drains the send queue and pings the client. It closes the
// socket on return, which also ends readPump.
func (p *Peer) writePump() {
	ticker := time.NewTicker(p.opts.PongWait * 9 / 10)
	defer func() {
		ticker.Stop()
		p.sock.Close()
	}()

	for {
		select {
		case msg := <-p.send:
			p.sock.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := p.sock.WriteMessage(websocket.TextMessage, msg); err != nil {
				slog.Debug("ws: write failed", "conn", p.id, "err", err)
				return
			}

		case <-ticker.C:
			p.sock.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			if err := p.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-p.done:
			p.sock.SetWriteDeadline(time.Now().Add(writeTimeout)) //nolint:errcheck
			_ = p.sock.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func (p *Peer) drop(reason string) {
	slog.Debug("ws: dropping inbound frame", "conn", p.id, "reason", reason)
	if p.obs != nil {
		p.obs.Dropped(reason)
	}
}
