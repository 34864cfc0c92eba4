package membership

import (
	"log/slog"
	"sort"
	"sync"
)

// CountSink receives the authoritative viewer count after every change.
type CountSink interface {
	SetViewerCount(streamID string, count int) error
}

// Change is a stream whose viewer count changed, with the new count.
type Change struct {
	StreamID string
	Count    int
}

// Registry is a thread-safe set of viewers per stream.
type Registry struct {
	mu          sync.Mutex
	viewers     map[string]map[string]struct{} // stream id -> user ids
	userStreams map[string]map[string]struct{} // user id -> stream ids
	sink        CountSink
}

// New creates an empty Registry. sink may be nil.
func New(sink CountSink) *Registry {
	return &Registry{
		viewers:     make(map[string]map[string]struct{}),
		userStreams: make(map[string]map[string]struct{}),
		sink:        sink,
	}
}

// Join adds userID to the viewers of streamID and returns the viewer count.
// Joining twice is a no-op; changed reports whether the set grew.
func (r *Registry) Join(streamID, userID string) (count int, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.viewers[streamID]
	if !ok {
		set = make(map[string]struct{})
		r.viewers[streamID] = set
	}
	if _, ok := set[userID]; ok {
		return len(set), false
	}
	set[userID] = struct{}{}

	streams, ok := r.userStreams[userID]
	if !ok {
		streams = make(map[string]struct{})
		r.userStreams[userID] = streams
	}
	streams[streamID] = struct{}{}

	r.publish(streamID, len(set))
	return len(set), true
}

// Leave removes userID from the viewers of streamID and returns the viewer
// count. Leaving a stream one is not watching is a no-op.
func (r *Registry) Leave(streamID, userID string) (count int, changed bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.remove(streamID, userID) {
		return len(r.viewers[streamID]), false
	}
	count = len(r.viewers[streamID])
	r.publish(streamID, count)
	return count, true
}

// LeaveAll removes userID from every stream and returns one Change per stream
// it actually left, ordered by stream id.
func (r *Registry) LeaveAll(userID string) []Change {
	r.mu.Lock()
	defer r.mu.Unlock()

	streams := r.userStreams[userID]
	ids := make([]string, 0, len(streams))
	for id := range streams {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	changes := make([]Change, 0, len(ids))
	for _, streamID := range ids {
		if !r.remove(streamID, userID) {
			continue
		}
		count := len(r.viewers[streamID])
		r.publish(streamID, count)
		changes = append(changes, Change{StreamID: streamID, Count: count})
	}
	return changes
}

// ViewersOf returns the user ids watching streamID, sorted.
func (r *Registry) ViewersOf(streamID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.viewers[streamID]
	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// IsViewer reports whether userID is watching streamID.
func (r *Registry) IsViewer(streamID, userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.viewers[streamID][userID]
	return ok
}

// Count returns the number of viewers of streamID.
func (r *Registry) Count(streamID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.viewers[streamID])
}

// Counts returns the viewer count of every stream that has had a viewer.
func (r *Registry) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]int, len(r.viewers))
	for id, set := range r.viewers {
		out[id] = len(set)
	}
	return out
}

// remove deletes the membership; the caller holds r.mu.
func (r *Registry) remove(streamID, userID string) bool {
	set, ok := r.viewers[streamID]
	if !ok {
		return false
	}
	if _, ok := set[userID]; !ok {
		return false
	}
	delete(set, userID)
	if streams, ok := r.userStreams[userID]; ok {
		delete(streams, streamID)
		if len(streams) == 0 {
			delete(r.userStreams, userID)
		}
	}
	return true
}

// publish pushes count to the sink; the caller holds r.mu.
func (r *Registry) publish(streamID string, count int) {
	if r.sink == nil {
		return
	}
	if err := r.sink.SetViewerCount(streamID, count); err != nil {
		slog.Warn("membership: could not store viewer count", "stream", streamID, "count", count, "err", err)
	}
}
