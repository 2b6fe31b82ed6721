// Package models defines the domain types for Blink.
package models

import (
	"slices"
	"sort"
	"strings"
	"time"
)

// Note is a single note as held in memory.
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Tags      []string  `json:"tags"`
	Position  *int      `json:"position,omitempty"`
}

// Clone returns a deep copy of n.
func (n *Note) Clone() *Note {
	if n == nil {
		return nil
	}
	c := *n
	c.Tags = slices.Clone(n.Tags)
	if n.Position != nil {
		p := *n.Position
		c.Position = &p
	}
	return &c
}

// HasPosition reports whether the note has a manual sort rank.
func (n *Note) HasPosition() bool {
	return n.Position != nil
}

// SameMetadata reports whether a and b agree on every field except
// Content and UpdatedAt.
func SameMetadata(a, b *Note) bool {
	if a.ID != b.ID || a.Title != b.Title || !a.CreatedAt.Equal(b.CreatedAt) {
		return false
	}
	if !slices.Equal(a.Tags, b.Tags) {
		return false
	}
	return EqualPosition(a.Position, b.Position)
}

// EqualPosition compares two optional positions.
func EqualPosition(a, b *int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// IntPtr returns a pointer to v.
func IntPtr(v int) *int {
	return &v
}

// NormalizeTags trims, drops empties and removes duplicates while keeping
// first-seen order.
func NormalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// Less orders positioned notes first by position, then unpositioned notes
// newest first. Ids break remaining ties.
func Less(a, b *Note) bool {
	return lessOrder(a.Position, b.Position, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
}

// SortNotes sorts notes in display order.
func SortNotes(notes []*Note) {
	sort.SliceStable(notes, func(i, j int) bool { return Less(notes[i], notes[j]) })
}

func lessOrder(pa, pb *int, ca, cb time.Time, ida, idb string) bool {
	switch {
	case pa != nil && pb != nil:
		if *pa != *pb {
			return *pa < *pb
		}
	case pa != nil:
		return true
	case pb != nil:
		return false
	default:
		if !ca.Equal(cb) {
			return ca.After(cb)
		}
	}
	return ida < idb
}
