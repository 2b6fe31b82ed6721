package models

import (
	"sort"
	"time"
)

// IndexEntry is the secondary index row for a note. It carries no body.
type IndexEntry struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	FilePath    string    `json:"file_path"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	Tags        []string  `json:"tags"`
	Position    *int      `json:"position,omitempty"`
	ContentHash *string   `json:"content_hash,omitempty"`
}

// SortEntries sorts index entries in the same order as SortNotes.
func SortEntries(entries []IndexEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		return lessOrder(a.Position, b.Position, a.CreatedAt, b.CreatedAt, a.ID, b.ID)
	})
}
