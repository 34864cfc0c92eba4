package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/streamhub/streamhub/pkg/types"
)

// DefaultHistoryLimit is the number of chat messages retained per stream when
// New is given a non-positive limit.
const DefaultHistoryLimit = 100

type edge struct {
	follower  string
	following string
}

// Store is a thread-safe in-memory registry of users, follows, streams,
// messages and notifications.
type Store struct {
	mu            sync.RWMutex
	users         map[string]*types.User
	follows       map[edge]types.Follow
	streams       map[string]*types.Stream
	messages      map[string][]types.Message
	notifications map[string][]types.Notification
	historyLimit  int
	now           func() time.Time // injectable for deterministic tests
}

// New creates an empty Store that keeps at most historyLimit messages per stream.
func New(historyLimit int) *Store {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	return &Store{
		users:         make(map[string]*types.User),
		follows:       make(map[edge]types.Follow),
		streams:       make(map[string]*types.Stream),
		messages:      make(map[string][]types.Message),
		notifications: make(map[string][]types.Notification),
		historyLimit:  historyLimit,
		now:           time.Now,
	}
}

// HistoryLimit returns the per-stream message retention cap.
func (s *Store) HistoryLimit() int {
	return s.historyLimit
}

// UserPatch lists the user fields UpsertUser may change. Nil fields are left
// untouched. Follower and following counts are not patchable.
type UserPatch struct {
	Handle      *string
	DisplayName *string
	Avatar      *string
	Verified    *bool
	Online      *bool
	Bio         *string
	Location    *string
	Website     *string
}

// CreateUser registers a new user. It is used by seeding; the relay itself
// never creates users. Counts and the online flag are reset.
func (s *Store) CreateUser(u types.User) (types.User, error) {
	if u.ID == "" {
		return types.User{}, fmt.Errorf("create user: empty id: %w", ErrInvalidOperation)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[u.ID]; ok {
		return types.User{}, fmt.Errorf("create user %q: %w", u.ID, ErrConflict)
	}
	u.Online = false
	u.FollowerCount = 0
	u.FollowingCount = 0
	if u.JoinedAt.IsZero() {
		u.JoinedAt = s.now().UTC()
	}
	s.users[u.ID] = &u
	return u, nil
}

// GetUser returns the user with the given id.
func (s *Store) GetUser(id string) (types.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return types.User{}, false
	}
	return *u, true
}

// ListUsers returns all users ordered by id.
func (s *Store) ListUsers() []types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpsertUser merges patch into an existing user and returns the result.
// Unknown ids fail with ErrNotFound rather than creating a ghost user.
func (s *Store) UpsertUser(id string, patch UserPatch) (types.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return types.User{}, fmt.Errorf("user %q: %w", id, ErrNotFound)
	}
	setString(&u.Handle, patch.Handle)
	setString(&u.DisplayName, patch.DisplayName)
	setString(&u.Avatar, patch.Avatar)
	setString(&u.Bio, patch.Bio)
	setString(&u.Location, patch.Location)
	setString(&u.Website, patch.Website)
	if patch.Verified != nil {
		u.Verified = *patch.Verified
	}
	if patch.Online != nil {
		u.Online = *patch.Online
	}
	return *u, nil
}

// SetOnline is shorthand for UpsertUser with only the online flag set.
func (s *Store) SetOnline(id string, online bool) (types.User, error) {
	return s.UpsertUser(id, UserPatch{Online: &online})
}

// CountOnline returns the number of users whose online flag is set.
func (s *Store) CountOnline() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, u := range s.users {
		if u.Online {
			n++
		}
	}
	return n
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
