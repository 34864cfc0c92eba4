//go:generate mockgen -destination=mock_connection_test.go -package=${GOPACKAGE} -source=connection.go

package relay

import (
	"errors"

	"github.com/streamhub/streamhub/pkg/types"
)

// Errors a Connection returns from Send.
var (
	// ErrSendQueueFull means the peer is not draining its queue. The relay
	// closes such connections.
	ErrSendQueueFull = errors.New("relay: send queue full")
	// ErrConnectionClosed means the connection is already shutting down.
	ErrConnectionClosed = errors.New("relay: connection closed")
)

// Connection is a transport-level connection as seen by the relay.
//
// Send must not block: it enqueues env for delivery and returns
// ErrSendQueueFull when the bounded queue is full. Close may be called more
// than once and from any goroutine.
type Connection interface {
	ID() string
	Send(env types.Envelope) error
	Close() error
}

// State is the protocol state of a connection.
type State int

// Connection states.
const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "closed"
	}
}

type session struct {
	conn  Connection
	state State
}
