package api

import "github.com/streamhub/streamhub/pkg/types"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status      string `json:"status"`
	Users       int    `json:"users"`
	OnlineUsers int    `json:"online_users"`
	Connections int    `json:"connections"`
	Streams     int    `json:"streams"`
	LiveStreams int    `json:"live_streams"`
}

// NotificationsResponse is the payload for GET /api/v1/users/{id}/notifications.
type NotificationsResponse struct {
	UserID        string               `json:"user_id"`
	Unread        int                  `json:"unread"`
	Notifications []types.Notification `json:"notifications"`
}

// MessagesResponse is the payload for GET /api/v1/streams/{id}/messages.
type MessagesResponse struct {
	StreamID string          `json:"stream_id"`
	Messages []types.Message `json:"messages"`
}

// ViewersResponse is the payload for GET /api/v1/streams/{id}/viewers.
type ViewersResponse struct {
	StreamID string          `json:"stream_id"`
	Count    int             `json:"count"`
	Viewers  []types.Profile `json:"viewers"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
