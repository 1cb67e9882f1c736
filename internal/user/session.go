package user

import "time"

// Registry tracks connected sessions in registration order. It is not safe
// for concurrent use; the chat engine owns it from a single goroutine.
type Registry struct {
	sessions map[string]*Session
	order    []string
	now      func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		now:      time.Now,
	}
}

// Register inserts a session with matched=false, or overwrites the existing
// one for id. An overwritten session keeps its original scan position.
// replaced reports whether a prior session existed.
func (r *Registry) Register(id string, interests []string) (s *Session, replaced bool) {
	s = &Session{
		ID:           id,
		Interests:    normalizeInterests(interests),
		RegisteredAt: r.now(),
	}
	if _, replaced = r.sessions[id]; !replaced {
		r.order = append(r.order, id)
	}
	r.sessions[id] = s
	return s, replaced
}

// Unregister removes the session for id. It returns false if no such
// session was registered.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.sessions[id]; !ok {
		return false
	}
	delete(r.sessions, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the session for id.
func (r *Registry) Get(id string) (*Session, bool) {
	s, ok := r.sessions[id]
	return s, ok
}

// SetMatched updates the matched flag of a session. Unknown ids are ignored.
func (r *Registry) SetMatched(id string, matched bool) {
	if s, ok := r.sessions[id]; ok {
		s.Matched = matched
	}
}

// Each calls fn for every session in registration order until fn returns
// false.
func (r *Registry) Each(fn func(*Session) bool) {
	for _, id := range r.order {
		if !fn(r.sessions[id]) {
			return
		}
	}
}

// Len returns the number of registered sessions.
func (r *Registry) Len() int {
	return len(r.sessions)
}

// Waiting returns the number of sessions that are not in a room.
func (r *Registry) Waiting() int {
	n := 0
	for _, s := range r.sessions {
		if !s.Matched {
			n++
		}
	}
	return n
}
