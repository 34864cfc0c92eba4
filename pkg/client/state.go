package client

import (
	"sort"

	"github.com/streamhub/streamhub/pkg/types"
)

// Status is the client's connection state.
type Status string

// Connection states.
const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

// State is a snapshot of the client's view of its session.
type State struct {
	Status Status
	User   *types.User
	// Online holds the ids of followed users that are online, sorted. It is
	// seeded by authenticate and follow results and kept current by
	// presence events.
	Online []string
	// Notifications is newest first.
	Notifications []types.Notification
	Unread        int
}

// IsOnline reports whether userID is in the online set.
func (s State) IsOnline(userID string) bool {
	i := sort.SearchStrings(s.Online, userID)
	return i < len(s.Online) && s.Online[i] == userID
}

// apply folds one inbound envelope into the session. It reports whether the
// visible state changed. Callers hold c.mu.
func (c *Client) apply(env types.Envelope) bool {
	switch env.Type {
	case types.TypePresenceChanged:
		var p types.PresenceChanged
		if env.Decode(&p) != nil {
			return false
		}
		if p.IsOnline {
			c.online[p.UserID] = struct{}{}
		} else {
			delete(c.online, p.UserID)
		}
		return true

	case types.TypeFollowResult:
		var res types.FollowResult
		if env.Decode(&res) != nil || !res.Success || res.FollowingID == "" {
			return false
		}
		switch {
		case res.Action == types.TypeFollow && res.FollowingOnline:
			c.online[res.FollowingID] = struct{}{}
		case res.Action == types.TypeUnfollow:
			delete(c.online, res.FollowingID)
		default:
			return false
		}
		return true

	case types.TypeNotification:
		var n types.Notification
		if env.Decode(&n) != nil {
			return false
		}
		c.notifications = append([]types.Notification{n}, c.notifications...)
		return true

	case types.TypeNotificationReadResult:
		var res types.NotificationReadResult
		if env.Decode(&res) != nil || !res.Success {
			return false
		}
		for i := range c.notifications {
			if c.notifications[i].ID == res.NotificationID {
				c.notifications[i].Read = true
				return true
			}
		}
	}
	return false
}

// authenticated replaces the session with a fresh authenticate_result.
// Callers hold c.mu.
func (c *Client) authenticated(res types.AuthenticateResult) {
	c.user = res.User
	c.online = make(map[string]struct{}, len(res.Online))
	for _, id := range res.Online {
		c.online[id] = struct{}{}
	}
	c.notifications = append([]types.Notification(nil), res.Notifications...)
	c.status = StatusConnected
}

// snapshot copies the session. Callers hold c.mu.
func (c *Client) snapshot() State {
	s := State{Status: c.status}
	if c.user != nil {
		u := *c.user
		s.User = &u
	}
	s.Online = make([]string, 0, len(c.online))
	for id := range c.online {
		s.Online = append(s.Online, id)
	}
	sort.Strings(s.Online)
	s.Notifications = append([]types.Notification(nil), c.notifications...)
	for _, n := range s.Notifications {
		if !n.Read {
			s.Unread++
		}
	}
	return s
}
