package store

import (
	"fmt"
	"sort"

	"github.com/streamhub/streamhub/pkg/types"
)

// Follow records that followerID follows followingID and bumps both users'
// counters in the same critical section as the edge insert.
//
// It fails with ErrInvalidOperation for a self-follow, ErrNotFound when either
// user is unknown and ErrConflict when the edge already exists. On failure no
// state changes.
func (s *Store) Follow(followerID, followingID string) (types.Follow, error) {
	if followerID == followingID {
		return types.Follow{}, fmt.Errorf("follow %q: cannot follow self: %w", followerID, ErrInvalidOperation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	follower, ok := s.users[followerID]
	if !ok {
		return types.Follow{}, fmt.Errorf("follower %q: %w", followerID, ErrNotFound)
	}
	following, ok := s.users[followingID]
	if !ok {
		return types.Follow{}, fmt.Errorf("user %q: %w", followingID, ErrNotFound)
	}

	key := edge{follower: followerID, following: followingID}
	if _, exists := s.follows[key]; exists {
		return types.Follow{}, fmt.Errorf("%q already follows %q: %w", followerID, followingID, ErrConflict)
	}

	f := types.Follow{
		FollowerID:  followerID,
		FollowingID: followingID,
		CreatedAt:   s.now().UTC(),
	}
	s.follows[key] = f
	follower.FollowingCount++
	following.FollowerCount++
	return f, nil
}

// Unfollow removes the edge followerID -> followingID. It reports false, not
// an error, when no such edge exists. Counters never drop below zero.
func (s *Store) Unfollow(followerID, followingID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := edge{follower: followerID, following: followingID}
	if _, exists := s.follows[key]; !exists {
		return false
	}
	delete(s.follows, key)

	if u, ok := s.users[followerID]; ok && u.FollowingCount > 0 {
		u.FollowingCount--
	}
	if u, ok := s.users[followingID]; ok && u.FollowerCount > 0 {
		u.FollowerCount--
	}
	return true
}

// IsFollowing reports whether a follows b.
func (s *Store) IsFollowing(a, b string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.follows[edge{follower: a, following: b}]
	return ok
}

// FollowersOf returns the users following id, oldest edge first.
// It scans every edge: O(edges).
func (s *Store) FollowersOf(id string) []types.User {
	return s.scan(func(e types.Follow) (string, bool) {
		return e.FollowerID, e.FollowingID == id
	})
}

// FollowingOf returns the users id follows, oldest edge first.
// It scans every edge: O(edges).
func (s *Store) FollowingOf(id string) []types.User {
	return s.scan(func(e types.Follow) (string, bool) {
		return e.FollowingID, e.FollowerID == id
	})
}

// CountFollows returns the number of follow edges.
func (s *Store) CountFollows() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.follows)
}

func (s *Store) scan(match func(types.Follow) (string, bool)) []types.User {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edges := make([]types.Follow, 0)
	for _, e := range s.follows {
		if _, ok := match(e); ok {
			edges = append(edges, e)
		}
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
			return edges[i].FollowerID+edges[i].FollowingID < edges[j].FollowerID+edges[j].FollowingID
		}
		return edges[i].CreatedAt.Before(edges[j].CreatedAt)
	})

	out := make([]types.User, 0, len(edges))
	for _, e := range edges {
		id, _ := match(e)
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out
}
