package store

import (
	"fmt"
	"sort"

	"github.com/streamhub/streamhub/pkg/types"
)

// CreateStream registers a stream. Stream lifecycle is owned outside the
// relay; this is only used when seeding. The viewer count starts at zero.
func (s *Store) CreateStream(st types.Stream) (types.Stream, error) {
	if st.ID == "" {
		return types.Stream{}, fmt.Errorf("create stream: empty id: %w", ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.streams[st.ID]; ok {
		return types.Stream{}, fmt.Errorf("create stream %q: %w", st.ID, ErrConflict)
	}
	if _, ok := s.users[st.OwnerID]; !ok {
		return types.Stream{}, fmt.Errorf("stream %q owner %q: %w", st.ID, st.OwnerID, ErrNotFound)
	}
	st.ViewerCount = 0
	if st.StartedAt.IsZero() {
		st.StartedAt = s.now().UTC()
	}
	s.streams[st.ID] = &st
	return st, nil
}

// GetStream returns the stream with the given id.
func (s *Store) GetStream(id string) (types.Stream, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.streams[id]
	if !ok {
		return types.Stream{}, false
	}
	return *st, true
}

// ListStreams returns every stream ordered by start time, newest first.
func (s *Store) ListStreams() []types.Stream {
	return s.listStreams(func(types.Stream) bool { return true })
}

// ListLiveStreams returns the streams whose live flag is set, newest first.
func (s *Store) ListLiveStreams() []types.Stream {
	return s.listStreams(func(st types.Stream) bool { return st.Live })
}

// SetViewerCount stores the denormalized viewer count of a stream. The
// membership registry is the only caller; the count it passes is authoritative.
func (s *Store) SetViewerCount(streamID string, count int) error {
	if count < 0 {
		count = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streams[streamID]
	if !ok {
		return fmt.Errorf("stream %q: %w", streamID, ErrNotFound)
	}
	st.ViewerCount = count
	return nil
}

func (s *Store) listStreams(keep func(types.Stream) bool) []types.Stream {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Stream, 0, len(s.streams))
	for _, st := range s.streams {
		if keep(*st) {
			out = append(out, *st)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	return out
}
