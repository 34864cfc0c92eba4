// Package presence maps live connections to authenticated user ids.
//
// A user has at most one active connection. Registering a second connection
// for the same user evicts the first, and Register hands the evicted handle
// back so the caller can close it. Multi-device presence is not supported.
// A user is online exactly when a mapping for it exists.
package presence
