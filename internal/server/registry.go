// Package server tracks which connection belongs to which room via the
// Registry type, the single source of truth for "who is where".
package server

import (
	"sync"
	"time"

	"github.com/samber/lo"
)

// Member is one active participant: a connection's association with a
// display name and a room. The registry holds at most one Member per live
// connection; re-joining replaces the previous membership atomically.
type Member struct {
	client      *Client
	ID          string
	DisplayName string
	RoomCode    string
	JoinedAt    time.Time
}

// Registry is a flat membership table keyed by connection. Rooms have no
// standalone existence: a room is the set of members sharing a room code,
// recomputed on every query. All operations are serialized by one lock.
type Registry struct {
	mu      sync.RWMutex
	members map[*Client]*Member
}

// NewRegistry creates an empty membership registry.
func NewRegistry() *Registry {
	return &Registry{members: make(map[*Client]*Member)}
}

// Upsert records a membership for the client, replacing any existing entry
// for the same connection in a single step so no transient duplicate is
// ever observable. It never fails; the name and room code are taken as given.
func (r *Registry) Upsert(c *Client, displayName, roomCode string) *Member {
	member := &Member{
		client:      c,
		ID:          NewMemberID(),
		DisplayName: displayName,
		RoomCode:    roomCode,
		JoinedAt:    time.Now(),
	}

	r.mu.Lock()
	r.members[c] = member
	r.mu.Unlock()

	return member
}

// Find returns the current membership for a connection, or false if the
// connection never joined.
func (r *Registry) Find(c *Client) (*Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	member, ok := r.members[c]
	return member, ok
}

// Remove deletes and returns the membership for a connection. Removing a
// connection that never joined (or was already removed) is a no-op.
func (r *Registry) Remove(c *Client) (*Member, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	member, ok := r.members[c]
	if !ok {
		return nil, false
	}
	delete(r.members, c)
	return member, true
}

// MembersOf returns the current members of a room in no particular order.
// This is a live linear scan over the whole table; room sizes are expected
// to be small enough that no per-room index is worth maintaining.
func (r *Registry) MembersOf(roomCode string) []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Filter(lo.Values(r.members), func(m *Member, _ int) bool {
		return m.RoomCode == roomCode
	})
}

// CountOf returns the current occupancy of a room.
func (r *Registry) CountOf(roomCode string) int {
	return len(r.MembersOf(roomCode))
}
