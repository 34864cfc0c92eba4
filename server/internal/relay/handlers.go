package relay

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/streamhub/streamhub/pkg/types"
	"github.com/streamhub/streamhub/server/internal/membership"
	"github.com/streamhub/streamhub/server/internal/store"
)

// handlerFunc runs one inbound operation. userID is the authenticated
// identity of c, empty before authenticate. A returned error is reported to
// c as a failed <type>_result.
type handlerFunc func(r *Relay, c Connection, userID string, env types.Envelope) error

var handlers = map[string]handlerFunc{
	types.TypeAuthenticate:     (*Relay).authenticate,
	types.TypeFollow:           (*Relay).follow,
	types.TypeUnfollow:         (*Relay).unfollow,
	types.TypeJoinStream:       (*Relay).joinStream,
	types.TypeLeaveStream:      (*Relay).leaveStream,
	types.TypeChatMessage:      (*Relay).chatMessage,
	types.TypeNotificationRead: (*Relay).notificationRead,
}

func decode(env types.Envelope, v interface{}) error {
	if err := env.Decode(v); err != nil {
		return fmt.Errorf("%v: %w", err, store.ErrInvalidOperation)
	}
	return nil
}

func (r *Relay) authenticate(c Connection, userID string, env types.Envelope) error {
	if userID != "" {
		return invalidf("connection already authenticated as %q", userID)
	}
	var req types.AuthenticateRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if req.UserID == "" {
		return invalidf("user_id is required")
	}
	if _, ok := r.store.GetUser(req.UserID); !ok {
		return fmt.Errorf("user %q: %w", req.UserID, store.ErrNotFound)
	}

	// The previous connection of the user is closed before the presence map
	// moves, so no frame on it can run without an identity. Its streams are
	// left here too: its own disconnect will no longer be bound to the user.
	r.presenceMu.Lock()
	if prev, ok := r.presence.ConnectionFor(req.UserID); ok && prev.ID() != c.ID() {
		r.setState(prev, StateClosed)
	}
	stale, evicted := r.presence.Register(c, req.UserID)
	var left []membership.Change
	if evicted {
		left = r.viewers.LeaveAll(req.UserID)
	}
	user, err := r.store.SetOnline(req.UserID, true)
	r.setState(c, StateAuthenticated)
	r.presenceMu.Unlock()
	if err != nil {
		return err
	}

	if evicted && stale.ID() != c.ID() {
		if err := stale.Close(); err != nil {
			slog.Debug("relay: closing evicted connection", "conn", stale.ID(), "err", err)
		}
		slog.Info("relay: connection evicted by newer login", "user", req.UserID, "stale", stale.ID(), "conn", c.ID())
	}
	who := r.profile(req.UserID)
	for _, ch := range left {
		r.roomcast(ch.StreamID, types.TypeViewerLeft, types.ViewerEvent{StreamID: ch.StreamID, Count: ch.Count, User: who})
	}

	var online []string
	for _, u := range r.store.FollowingOf(req.UserID) {
		if r.presence.IsOnline(u.ID) {
			online = append(online, u.ID)
		}
	}
	r.unicast(c, types.TypeAuthenticateResult, types.AuthenticateResult{
		Result:        types.Result{Success: true, Action: types.TypeAuthenticate},
		User:          &user,
		Notifications: r.store.Notifications(req.UserID),
		Online:        online,
	})
	slog.Info("relay: user authenticated", "user", req.UserID, "conn", c.ID())

	if !evicted {
		r.toOnlineFollowers(req.UserID, types.TypePresenceChanged, types.PresenceChanged{UserID: req.UserID, IsOnline: true})
	}
	return nil
}

func followTarget(env types.Envelope, userID string) (string, error) {
	var req types.FollowRequest
	if err := decode(env, &req); err != nil {
		return "", err
	}
	if req.FollowingID == "" {
		return "", invalidf("following_id is required")
	}
	if req.FollowerID != "" && req.FollowerID != userID {
		return "", invalidf("follower_id %q does not match connection user %q", req.FollowerID, userID)
	}
	return req.FollowingID, nil
}

func (r *Relay) follow(c Connection, userID string, env types.Envelope) error {
	target, err := followTarget(env, userID)
	if err != nil {
		return err
	}
	if _, err := r.store.Follow(userID, target); err != nil {
		return err
	}

	r.unicast(c, types.TypeFollowResult, types.FollowResult{
		Result:          types.Result{Success: true, Action: types.TypeFollow},
		FollowerID:      userID,
		FollowingID:     target,
		FollowingOnline: r.presence.IsOnline(target),
	})

	follower, _ := r.store.GetUser(userID)
	payload, _ := json.Marshal(map[string]string{"follower_id": userID})
	n, err := r.store.AddNotification(target, types.Notification{
		Kind:    types.NotifyFollow,
		Title:   "New follower",
		Body:    fmt.Sprintf("%s started following you", displayName(follower)),
		Payload: payload,
	})
	if err != nil {
		slog.Warn("relay: could not store follow notification", "user", target, "err", err)
		return nil
	}
	if r.notifier != nil {
		r.notifier.Notify(n)
	}

	r.sendTo(target, types.TypeNewFollower, types.NewFollower{
		Follower:     follower.Profile(),
		FollowingID:  target,
		Notification: n,
	})
	r.sendTo(target, types.TypeNotification, n)
	return nil
}

func (r *Relay) unfollow(c Connection, userID string, env types.Envelope) error {
	target, err := followTarget(env, userID)
	if err != nil {
		return err
	}
	removed := r.store.Unfollow(userID, target)
	r.unicast(c, types.TypeFollowResult, types.FollowResult{
		Result:      types.Result{Success: removed, Action: types.TypeUnfollow},
		FollowerID:  userID,
		FollowingID: target,
	})
	return nil
}

func (r *Relay) streamRequest(env types.Envelope, userID string) (types.Stream, error) {
	var req types.StreamRequest
	if err := decode(env, &req); err != nil {
		return types.Stream{}, err
	}
	if req.StreamID == "" {
		return types.Stream{}, invalidf("stream_id is required")
	}
	if req.UserID != "" && req.UserID != userID {
		return types.Stream{}, invalidf("user_id %q does not match connection user %q", req.UserID, userID)
	}
	st, ok := r.store.GetStream(req.StreamID)
	if !ok {
		return types.Stream{}, fmt.Errorf("stream %q: %w", req.StreamID, store.ErrNotFound)
	}
	return st, nil
}

func (r *Relay) joinStream(c Connection, userID string, env types.Envelope) error {
	st, err := r.streamRequest(env, userID)
	if err != nil {
		return err
	}

	// History and the membership change are taken under the stream lock so
	// the joiner sees every message exactly once: either in the history or
	// as a later new_message. A repeated join gets only the count.
	mu := r.streamLock(st.ID)
	mu.Lock()
	count, changed := r.viewers.Join(st.ID, userID)
	if changed {
		r.unicast(c, types.TypeChatHistory, types.ChatHistory{StreamID: st.ID, Messages: r.store.Messages(st.ID)})
	}
	mu.Unlock()

	if !changed {
		r.unicast(c, types.TypeStreamViewerCount, types.ViewerEvent{StreamID: st.ID, Count: count})
		return nil
	}
	r.roomcast(st.ID, types.TypeViewerJoined, types.ViewerEvent{StreamID: st.ID, Count: count, User: r.profile(userID)})
	return nil
}

func (r *Relay) leaveStream(c Connection, userID string, env types.Envelope) error {
	st, err := r.streamRequest(env, userID)
	if err != nil {
		return err
	}
	count, changed := r.viewers.Leave(st.ID, userID)
	r.unicast(c, types.TypeStreamViewerCount, types.ViewerEvent{StreamID: st.ID, Count: count})
	if changed {
		r.roomcast(st.ID, types.TypeViewerLeft, types.ViewerEvent{StreamID: st.ID, Count: count, User: r.profile(userID)})
	}
	return nil
}

func (r *Relay) chatMessage(c Connection, userID string, env types.Envelope) error {
	var req types.ChatRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if req.StreamID == "" {
		return invalidf("stream_id is required")
	}
	if req.UserID != "" && req.UserID != userID {
		return invalidf("user_id %q does not match connection user %q", req.UserID, userID)
	}
	if _, ok := r.store.GetStream(req.StreamID); !ok {
		return fmt.Errorf("stream %q: %w", req.StreamID, store.ErrNotFound)
	}

	content := strings.TrimSpace(req.Message)
	if content == "" {
		return invalidf("message is empty")
	}
	if limit := int(r.maxChat.Load()); utf8.RuneCountInString(content) > limit {
		return invalidf("message exceeds %d characters", limit)
	}
	switch req.Kind {
	case "":
		req.Kind = types.MessageChat
	case types.MessageChat, types.MessageGift:
	default:
		return invalidf("message type %q not allowed", req.Kind)
	}

	author, ok := r.store.GetUser(userID)
	if !ok {
		return fmt.Errorf("user %q: %w", userID, store.ErrNotFound)
	}

	mu := r.streamLock(req.StreamID)
	mu.Lock()
	defer mu.Unlock()
	if !r.viewers.IsViewer(req.StreamID, userID) {
		return invalidf("user %q has not joined stream %q", userID, req.StreamID)
	}
	msg, err := r.store.AppendMessage(req.StreamID, types.Message{
		AuthorID:     author.ID,
		AuthorHandle: author.Handle,
		AuthorName:   author.DisplayName,
		AuthorAvatar: author.Avatar,
		Content:      content,
		Kind:         req.Kind,
	})
	if err != nil {
		return err
	}
	r.roomcast(req.StreamID, types.TypeNewMessage, msg)
	return nil
}

func (r *Relay) notificationRead(c Connection, userID string, env types.Envelope) error {
	var req types.NotificationReadRequest
	if err := decode(env, &req); err != nil {
		return err
	}
	if req.NotificationID == "" {
		return invalidf("notification_id is required")
	}
	if !r.store.MarkNotificationRead(userID, req.NotificationID) {
		return fmt.Errorf("notification %q: %w", req.NotificationID, store.ErrNotFound)
	}
	r.unicast(c, types.TypeNotificationReadResult, types.NotificationReadResult{
		Result:         types.Result{Success: true, Action: types.TypeNotificationRead},
		NotificationID: req.NotificationID,
	})
	return nil
}

func (r *Relay) profile(userID string) *types.Profile {
	u, ok := r.store.GetUser(userID)
	if !ok {
		return nil
	}
	p := u.Profile()
	return &p
}

func displayName(u types.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Handle
}
