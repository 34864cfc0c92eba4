package types

import (
	"encoding/json"
	"time"
)

// User is a registered account as exposed to clients.
type User struct {
	ID             string    `json:"id" yaml:"id"`
	Handle         string    `json:"handle" yaml:"handle"`
	DisplayName    string    `json:"display_name" yaml:"display_name"`
	Avatar         string    `json:"avatar,omitempty" yaml:"avatar"`
	Verified       bool      `json:"verified" yaml:"verified"`
	Online         bool      `json:"online" yaml:"-"`
	FollowerCount  int       `json:"follower_count" yaml:"-"`
	FollowingCount int       `json:"following_count" yaml:"-"`
	Bio            string    `json:"bio,omitempty" yaml:"bio"`
	Location       string    `json:"location,omitempty" yaml:"location"`
	Website        string    `json:"website,omitempty" yaml:"website"`
	JoinedAt       time.Time `json:"joined_at" yaml:"joined_at"`
}

// Profile is the public subset of a User attached to events such as
// new_follower and viewer_joined.
type Profile struct {
	ID          string `json:"id"`
	Handle      string `json:"handle"`
	DisplayName string `json:"display_name"`
	Avatar      string `json:"avatar,omitempty"`
	Verified    bool   `json:"verified"`
}

// Profile returns the public fields of u.
func (u User) Profile() Profile {
	return Profile{
		ID:          u.ID,
		Handle:      u.Handle,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
		Verified:    u.Verified,
	}
}

// Follow is a directed follow edge.
type Follow struct {
	FollowerID  string    `json:"follower_id"`
	FollowingID string    `json:"following_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Stream is a live or scheduled broadcast.
type Stream struct {
	ID          string    `json:"id" yaml:"id"`
	OwnerID     string    `json:"owner_id" yaml:"owner_id"`
	Title       string    `json:"title" yaml:"title"`
	Description string    `json:"description,omitempty" yaml:"description"`
	Category    string    `json:"category,omitempty" yaml:"category"`
	Live        bool      `json:"is_live" yaml:"is_live"`
	ViewerCount int       `json:"viewer_count" yaml:"-"`
	StartedAt   time.Time `json:"started_at" yaml:"started_at"`
	Thumbnail   string    `json:"thumbnail,omitempty" yaml:"thumbnail"`
}

// MessageKind classifies a stream chat message.
type MessageKind string

// Message kinds.
const (
	MessageChat   MessageKind = "chat"
	MessageSystem MessageKind = "system"
	MessageGift   MessageKind = "gift"
)

// Message is one stream chat entry. AuthorHandle and AuthorName are copied
// from the author at send time and are not updated afterwards.
type Message struct {
	ID           string      `json:"id"`
	StreamID     string      `json:"stream_id"`
	AuthorID     string      `json:"user_id"`
	AuthorHandle string      `json:"username"`
	AuthorName   string      `json:"display_name,omitempty"`
	AuthorAvatar string      `json:"avatar,omitempty"`
	Content      string      `json:"message"`
	Kind         MessageKind `json:"type"`
	SentAt       time.Time   `json:"timestamp"`
}

// NotificationKind classifies a Notification.
type NotificationKind string

// Notification kinds.
const (
	NotifyFollow      NotificationKind = "follow"
	NotifyStreamStart NotificationKind = "stream_start"
	NotifyMessage     NotificationKind = "message"
	NotifyGift        NotificationKind = "gift"
)

// Notification is an inbox entry for one recipient.
type Notification struct {
	ID          string           `json:"id"`
	RecipientID string           `json:"user_id"`
	Kind        NotificationKind `json:"type"`
	Title       string           `json:"title"`
	Body        string           `json:"message"`
	Payload     json.RawMessage  `json:"data,omitempty"`
	Read        bool             `json:"read"`
	CreatedAt   time.Time        `json:"created_at"`
}
