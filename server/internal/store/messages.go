package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/streamhub/streamhub/pkg/types"
)

// AppendMessage adds msg to the stream's history, then trims the history to
// the retention cap by evicting the oldest entries. An empty ID or SentAt is
// filled in. The stored message is returned.
func (s *Store) AppendMessage(streamID string, msg types.Message) (types.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.streams[streamID]; !ok {
		return types.Message{}, fmt.Errorf("stream %q: %w", streamID, ErrNotFound)
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.SentAt.IsZero() {
		msg.SentAt = s.now().UTC()
	}
	if msg.Kind == "" {
		msg.Kind = types.MessageChat
	}
	msg.StreamID = streamID

	history := append(s.messages[streamID], msg)
	if over := len(history) - s.historyLimit; over > 0 {
		// Copy into a fresh slice so the evicted prefix can be collected.
		history = append([]types.Message(nil), history[over:]...)
	}
	s.messages[streamID] = history
	return msg, nil
}

// Messages returns the retained history of a stream, oldest first.
func (s *Store) Messages(streamID string) []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.messages[streamID]
	out := make([]types.Message, len(history))
	copy(out, history)
	return out
}
