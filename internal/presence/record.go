// Package presence turns heterogeneous raw friend records into one Record
// shape, merges duplicates and orders the result for display.
package presence

import (
	"net/url"

	"friendsbar/internal/identity"
)

// DefaultAvatar is the placeholder shown when no avatar could be resolved.
var DefaultAvatar = "data:image/svg+xml;utf8," + url.PathEscape(
	`<svg xmlns="http://www.w3.org/2000/svg" width="64" height="64">`+
		`<rect width="100%" height="100%" fill="#2f4052"/>`+
		`<circle cx="32" cy="24" r="11" fill="#8aa0b3"/>`+
		`<rect x="14" y="40" width="36" height="16" rx="8" fill="#8aa0b3"/></svg>`)

// DefaultName is used when a record carries no usable display name.
const DefaultName = "Friend"

// Record is one online friend. ID is the merge key; every other field is
// best effort.
type Record struct {
	ID         identity.ID `json:"steamId"`
	Name       string      `json:"personaName"`
	Avatar     string      `json:"avatarUrl"`
	InActivity bool        `json:"inGame"`
	Idle       bool        `json:"idle"`
	Activity   string      `json:"gameName,omitempty"`
}

// HasAvatar reports whether the record carries a real avatar.
func (r Record) HasAvatar() bool {
	return r.Avatar != "" && r.Avatar != DefaultAvatar
}

// QualityScore ranks how much display detail a record carries.
func QualityScore(r Record) int {
	score := 0
	if r.InActivity {
		score += 4
	}
	if r.HasAvatar() {
		score++
	}
	if r.Activity != "" {
		score++
	}
	return score
}

// Prefer picks between two records for the same identity. In-activity wins,
// then idle, then the strictly higher quality score; ties keep existing.
func Prefer(existing, incoming Record) Record {
	if incoming.InActivity != existing.InActivity {
		if incoming.InActivity {
			return incoming
		}
		return existing
	}
	if incoming.Idle != existing.Idle {
		if incoming.Idle {
			return incoming
		}
		return existing
	}
	if QualityScore(incoming) > QualityScore(existing) {
		return incoming
	}
	return existing
}

// Set is the merge map: at most one record per identity, discovery order kept.
type Set struct {
	order []identity.ID
	byID  map[identity.ID]Record
}

// NewSet creates an empty merge map.
func NewSet() *Set {
	return &Set{byID: make(map[identity.ID]Record)}
}

// Add folds r into the set. Records without identity are ignored.
func (s *Set) Add(r Record) {
	if !r.ID.Valid() {
		return
	}
	if existing, ok := s.byID[r.ID]; ok {
		s.byID[r.ID] = Prefer(existing, r)
		return
	}
	s.order = append(s.order, r.ID)
	s.byID[r.ID] = r
}

// Len returns the number of distinct identities.
func (s *Set) Len() int { return len(s.order) }

// Records returns the merged records in first-discovery order.
func (s *Set) Records() []Record {
	out := make([]Record, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Merge folds records left to right.
func Merge(records []Record) []Record {
	s := NewSet()
	for _, r := range records {
		s.Add(r)
	}
	return s.Records()
}
