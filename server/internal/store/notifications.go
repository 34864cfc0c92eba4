package store

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/streamhub/streamhub/pkg/types"
)

// AddNotification prepends n to the recipient's inbox so the newest entry is
// returned first. An empty ID or CreatedAt is filled in. The stored
// notification is returned.
func (s *Store) AddNotification(userID string, n types.Notification) (types.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return types.Notification{}, fmt.Errorf("recipient %q: %w", userID, ErrNotFound)
	}
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	n.RecipientID = userID
	n.Read = false

	inbox := s.notifications[userID]
	next := make([]types.Notification, 0, len(inbox)+1)
	next = append(next, n)
	next = append(next, inbox...)
	s.notifications[userID] = next
	return n, nil
}

// Notifications returns the user's inbox, newest first.
func (s *Store) Notifications(userID string) []types.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inbox := s.notifications[userID]
	out := make([]types.Notification, len(inbox))
	copy(out, inbox)
	return out
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Store) UnreadCount(userID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, x := range s.notifications[userID] {
		if !x.Read {
			n++
		}
	}
	return n
}

// MarkNotificationRead sets the read flag on one of the user's notifications.
// It reports false when the user has no notification with that id.
func (s *Store) MarkNotificationRead(userID, notificationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	inbox := s.notifications[userID]
	for i := range inbox {
		if inbox[i].ID == notificationID {
			inbox[i].Read = true
			return true
		}
	}
	return false
}
