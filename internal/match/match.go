// Package match pairs waiting sessions that share at least one interest.
//
// Matching is first-fit: the registry is scanned in registration order and
// the first unmatched session with a common interest wins, regardless of
// how many interests overlap. Each scan is O(n) in registered sessions.
package match

import (
	"fmt"

	"github.com/christopherjohns/chatmatch/internal/room"
	"github.com/christopherjohns/chatmatch/internal/user"
)

// Pairing is the outcome of a successful match.
type Pairing struct {
	Room      *room.Room
	Requester string
	Partner   string
	// Interests is the deduplicated union of both sessions' interests,
	// requester's first.
	Interests []string
}

// FindPartner returns the first unmatched session, other than id, that
// shares an interest with id. ok is false if id is unknown or nobody fits.
func FindPartner(reg *user.Registry, id string) (partner *user.Session, ok bool) {
	self, found := reg.Get(id)
	if !found {
		return nil, false
	}
	reg.Each(func(s *user.Session) bool {
		if s.ID == id || s.Matched {
			return true
		}
		if s.SharesInterest(self.Interests) {
			partner = s
			return false
		}
		return true
	})
	return partner, partner != nil
}

// Pair looks for a partner for id and, on success, marks both sessions
// matched and creates their room. The matched flags are checked and set in
// the same call, so as long as callers serialize access to reg no session
// can end up in two rooms.
//
// A requester that is already matched is never re-paired.
func Pair(reg *user.Registry, rooms *room.Manager, id string) (*Pairing, bool, error) {
	self, found := reg.Get(id)
	if !found || self.Matched {
		return nil, false, nil
	}
	partner, ok := FindPartner(reg, id)
	if !ok {
		return nil, false, nil
	}

	r, err := rooms.Create([2]string{id, partner.ID})
	if err != nil {
		return nil, false, fmt.Errorf("pair %s with %s: %w", id, partner.ID, err)
	}
	self.Matched = true
	partner.Matched = true

	return &Pairing{
		Room:      r,
		Requester: id,
		Partner:   partner.ID,
		Interests: Union(self.Interests, partner.Interests),
	}, true, nil
}

// Union returns the elements of a followed by those of b, with duplicates
// removed after their first occurrence.
func Union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, set := range [][]string{a, b} {
		for _, s := range set {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}
