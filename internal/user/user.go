package user

import "time"

// Session is a registered connection that is either waiting for a partner
// or currently paired in a room.
type Session struct {
	ID           string    `json:"id"`
	Interests    []string  `json:"interests"`
	Matched      bool      `json:"matched"`
	RegisteredAt time.Time `json:"registered_at"`
}

// SharesInterest reports whether s and other have at least one interest in
// common.
func (s *Session) SharesInterest(other []string) bool {
	for _, a := range s.Interests {
		for _, b := range other {
			if a == b {
				return true
			}
		}
	}
	return false
}

// normalizeInterests drops empty strings and duplicates, keeping the first
// occurrence of each interest.
func normalizeInterests(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if s == "" {
			continue
		}
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
