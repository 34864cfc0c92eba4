// Package store is the in-memory entity store behind the relay: users, follow
// edges, streams, per-stream chat history and per-user notifications.
//
// The store does no I/O. Every method takes the store-wide lock, and Follow and
// Unfollow update the edge set and both users' counters in the same critical
// section so no reader ever sees one without the other.
//
// Methods return copies; callers cannot mutate stored entities except through
// the store's own methods.
package store
