package relay

import (
	"errors"
	"log/slog"

	"github.com/streamhub/streamhub/pkg/types"
)

// fail reports err to c as a failed result for the inbound type.
func (r *Relay) fail(c Connection, inbound string, err error) {
	r.unicast(c, types.ResultType(inbound), types.Result{
		Success: false,
		Action:  inbound,
		Error:   &types.ErrorBody{Kind: kindOf(err), Message: err.Error()},
	})
}

func (r *Relay) unicast(c Connection, typ string, data interface{}) {
	env, ok := r.envelope(typ, data)
	if ok {
		r.deliver(c, env)
	}
}

// sendTo delivers to userID if the user is online.
func (r *Relay) sendTo(userID, typ string, data interface{}) {
	c, ok := r.presence.ConnectionFor(userID)
	if !ok {
		return
	}
	r.unicast(c, typ, data)
}

// roomcast delivers to every current viewer of streamID.
func (r *Relay) roomcast(streamID, typ string, data interface{}) {
	env, ok := r.envelope(typ, data)
	if !ok {
		return
	}
	for _, userID := range r.viewers.ViewersOf(streamID) {
		if c, ok := r.presence.ConnectionFor(userID); ok {
			r.deliver(c, env)
		}
	}
}

// toOnlineFollowers delivers to every online follower of userID.
func (r *Relay) toOnlineFollowers(userID, typ string, data interface{}) {
	followers := r.store.FollowersOf(userID)
	if len(followers) == 0 {
		return
	}
	env, ok := r.envelope(typ, data)
	if !ok {
		return
	}
	for _, u := range followers {
		if c, ok := r.presence.ConnectionFor(u.ID); ok {
			r.deliver(c, env)
		}
	}
}

func (r *Relay) envelope(typ string, data interface{}) (types.Envelope, bool) {
	env, err := types.NewEnvelope(typ, data)
	if err != nil {
		slog.Error("relay: encode envelope", "type", typ, "err", err)
		return types.Envelope{}, false
	}
	return env, true
}

// deliver enqueues env on c. A connection that cannot take it is closed; the
// transport then runs the normal disconnect path.
func (r *Relay) deliver(c Connection, env types.Envelope) {
	err := c.Send(env)
	if err == nil || errors.Is(err, ErrConnectionClosed) {
		return
	}
	r.observer.SlowConsumer()
	slog.Warn("relay: closing slow connection", "conn", c.ID(), "type", env.Type, "err", err)
	r.setState(c, StateClosed)
	if err := c.Close(); err != nil {
		slog.Debug("relay: close slow connection", "conn", c.ID(), "err", err)
	}
}
