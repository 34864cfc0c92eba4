// Package api implements the read-only HTTP REST API for streamhub-server.
//
// New(store, live, mw...) returns an http.Handler (a chi router) that serves:
//
//	GET /api/v1/health                      status plus user, connection and stream counts
//	GET /api/v1/users                       all users
//	GET /api/v1/users/{id}                  one user; 404 if unknown
//	GET /api/v1/users/{id}/followers        users following {id}
//	GET /api/v1/users/{id}/following        users {id} follows
//	GET /api/v1/users/{id}/notifications    inbox, newest first; ?unread=true filters
//	GET /api/v1/streams                     all streams, newest first; ?live=true filters
//	GET /api/v1/streams/live                live streams only
//	GET /api/v1/streams/{id}                one stream; 404 if unknown
//	GET /api/v1/streams/{id}/messages       retained chat history, oldest first
//	GET /api/v1/streams/{id}/viewers        current viewers
//
// The middlewares passed to New (the API key guard in production) wrap every
// route except health. Responses are JSON; errors are {"error": "..."}.
// Mutations happen only over the WebSocket relay.
package api
