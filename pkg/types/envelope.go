package types

import (
	"encoding/json"
	"fmt"
)

// Envelope is the JSON frame exchanged in both directions:
//
//	{ "type": "chat_message", "data": { ... } }
type Envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals data into an Envelope of the given type.
func NewEnvelope(typ string, data interface{}) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("envelope %q: marshal data: %w", typ, err)
	}
	return Envelope{Type: typ, Data: raw}, nil
}

// Decode unmarshals the envelope data into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("envelope %q: missing data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("envelope %q: decode data: %w", e.Type, err)
	}
	return nil
}

// Inbound envelope types (client -> relay).
const (
	TypeAuthenticate     = "authenticate"
	TypeFollow           = "follow"
	TypeUnfollow         = "unfollow"
	TypeJoinStream       = "join_stream"
	TypeLeaveStream      = "leave_stream"
	TypeChatMessage      = "chat_message"
	TypeNotificationRead = "notification_read"
)

// Outbound envelope types (relay -> client).
const (
	TypeAuthenticateResult     = "authenticate_result"
	TypeFollowResult           = "follow_result"
	TypeJoinStreamResult       = "join_stream_result"
	TypeLeaveStreamResult      = "leave_stream_result"
	TypeChatMessageResult      = "chat_message_result"
	TypeNotificationReadResult = "notification_read_result"
	TypePresenceChanged        = "presence_changed"
	TypeNewFollower            = "new_follower"
	TypeViewerJoined           = "viewer_joined"
	TypeViewerLeft             = "viewer_left"
	TypeStreamViewerCount      = "stream_viewer_count"
	TypeNewMessage             = "new_message"
	TypeChatHistory            = "chat_history"
	TypeNotification           = "notification"
)

// ResultType returns the negative-result envelope type for an inbound type.
// Follow and unfollow share follow_result.
func ResultType(inbound string) string {
	if inbound == TypeUnfollow {
		return TypeFollowResult
	}
	return inbound + "_result"
}

// ErrorKind is the failure taxonomy reported in result envelopes.
type ErrorKind string

// Error kinds.
const (
	KindUnauthenticated  ErrorKind = "Unauthenticated"
	KindNotFound         ErrorKind = "NotFound"
	KindInvalidOperation ErrorKind = "InvalidOperation"
	KindConflict         ErrorKind = "Conflict"
)

// ErrorBody describes why an operation failed.
type ErrorBody struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// --- inbound payloads -------------------------------------------------------

// AuthenticateRequest binds the connection to a user.
type AuthenticateRequest struct {
	UserID string `json:"user_id"`
}

// FollowRequest is the payload of follow and unfollow. FollowerID may be
// omitted; it defaults to the authenticated identity.
type FollowRequest struct {
	FollowerID  string `json:"follower_id,omitempty"`
	FollowingID string `json:"following_id"`
}

// StreamRequest is the payload of join_stream and leave_stream.
type StreamRequest struct {
	StreamID string `json:"stream_id"`
	UserID   string `json:"user_id,omitempty"`
}

// ChatRequest is the payload of chat_message.
type ChatRequest struct {
	StreamID string      `json:"stream_id"`
	UserID   string      `json:"user_id,omitempty"`
	Message  string      `json:"message"`
	Kind     MessageKind `json:"type,omitempty"`
}

// NotificationReadRequest is the payload of notification_read.
type NotificationReadRequest struct {
	NotificationID string `json:"notification_id"`
}

// --- outbound payloads ------------------------------------------------------

// Result is the generic outcome payload of *_result envelopes.
type Result struct {
	Success bool       `json:"success"`
	Action  string     `json:"action"`
	Error   *ErrorBody `json:"error,omitempty"`
}

// AuthenticateResult acknowledges authenticate.
type AuthenticateResult struct {
	Result
	User          *User          `json:"user,omitempty"`
	Notifications []Notification `json:"notifications,omitempty"`
	// Online lists followed users that are currently connected.
	Online []string `json:"online,omitempty"`
}

// FollowResult acknowledges follow and unfollow. FollowingOnline reports
// whether the followed user was connected when the follow succeeded.
type FollowResult struct {
	Result
	FollowerID      string `json:"follower_id,omitempty"`
	FollowingID     string `json:"following_id,omitempty"`
	FollowingOnline bool   `json:"following_online,omitempty"`
}

// NotificationReadResult acknowledges notification_read.
type NotificationReadResult struct {
	Result
	NotificationID string `json:"notification_id,omitempty"`
}

// PresenceChanged announces a user going online or offline.
type PresenceChanged struct {
	UserID   string `json:"user_id"`
	IsOnline bool   `json:"is_online"`
}

// NewFollower tells a user that someone followed them.
type NewFollower struct {
	Follower     Profile      `json:"follower"`
	FollowingID  string       `json:"following_id"`
	Notification Notification `json:"notification"`
}

// ViewerEvent carries an updated viewer count, with the user who caused it
// when there is one.
type ViewerEvent struct {
	StreamID string   `json:"stream_id"`
	Count    int      `json:"count"`
	User     *Profile `json:"user,omitempty"`
}

// ChatHistory is sent once to a viewer when it joins a stream.
type ChatHistory struct {
	StreamID string    `json:"stream_id"`
	Messages []Message `json:"messages"`
}
