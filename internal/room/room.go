package room

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRoomExists is returned when a room id is already taken. Ids are
	// random UUIDs, so this indicates a broken id source.
	ErrRoomExists = errors.New("room: id already exists")

	// ErrSameParticipant is returned when both participants are the same
	// session.
	ErrSameParticipant = errors.New("room: participants must be distinct")
)

// Room is a pairing of exactly two sessions.
type Room struct {
	ID           string    `json:"id"`
	Participants [2]string `json:"participants"`
	CreatedAt    time.Time `json:"created_at"`
}

// Has reports whether id is a participant of the room.
func (r *Room) Has(id string) bool {
	return r.Participants[0] == id || r.Participants[1] == id
}

// Peer returns the participant that is not id. ok is false if id is not in
// the room.
func (r *Room) Peer(id string) (peer string, ok bool) {
	switch id {
	case r.Participants[0]:
		return r.Participants[1], true
	case r.Participants[1]:
		return r.Participants[0], true
	}
	return "", false
}

// Manager manages two-party rooms.
type Manager struct {
	mu    sync.RWMutex
	rooms map[string]*Room
	order []string
	newID func() string
}

// NewManager creates a new room Manager.
func NewManager() *Manager {
	return &Manager{
		rooms: make(map[string]*Room),
		newID: func() string { return uuid.NewString() },
	}
}

// Create allocates a room with a fresh id for the two participants.
func (m *Manager) Create(participants [2]string) (*Room, error) {
	return m.CreateWithID(m.newID(), participants)
}

// CreateWithID stores a room under the given id.
func (m *Manager) CreateWithID(id string, participants [2]string) (*Room, error) {
	if participants[0] == participants[1] {
		return nil, fmt.Errorf("create room %s: %w", id, ErrSameParticipant)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; ok {
		return nil, fmt.Errorf("create room %s: %w", id, ErrRoomExists)
	}
	r := &Room{
		ID:           id,
		Participants: participants,
		CreatedAt:    time.Now().UTC(),
	}
	m.rooms[id] = r
	m.order = append(m.order, id)
	return r, nil
}

// Get returns a room by id.
func (m *Manager) Get(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[id]
	return r, ok
}

// FindByParticipant returns the room containing the session id. It scans
// rooms in creation order, so it is O(n) in the number of live rooms.
func (m *Manager) FindByParticipant(id string) (*Room, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rid := range m.order {
		if r := m.rooms[rid]; r.Has(id) {
			return r, true
		}
	}
	return nil, false
}

// List returns all live rooms in creation order.
func (m *Manager) List() []*Room {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Room, 0, len(m.order))
	for _, id := range m.order {
		result = append(result, m.rooms[id])
	}
	return result
}

// Len returns the number of live rooms.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.rooms)
}

// Delete removes a room by id. Deleting an unknown room is a no-op.
func (m *Manager) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rooms[id]; !ok {
		return
	}
	delete(m.rooms, id)
	for i, v := range m.order {
		if v == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
}
