// Package tracker records, per note, the hash of the content last written
// to disk and whether the note has unsaved edits in this session.
package tracker

import (
	"maps"
	"slices"
	"sync"

	"github.com/starford/blink/internal/checksum"
)

// Tracker is safe for concurrent use. The zero value is not usable; call New.
type Tracker struct {
	mu       sync.Mutex
	hashes   map[string]string
	modified map[string]struct{}
}

// New returns an empty tracker.
func New() *Tracker {
	return &Tracker{
		hashes:   make(map[string]string),
		modified: make(map[string]struct{}),
	}
}

// HasContentChanged reports whether content differs from the last recorded
// hash for id. A note with no recorded hash counts as changed.
func (t *Tracker) HasContentChanged(id, content string) bool {
	sum := checksum.String(content)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.hashes[id]
	return !ok || prev != sum
}

// UpdateContentHash records content as persisted for id. Call only after a
// successful write.
func (t *Tracker) UpdateContentHash(id, content string) {
	sum := checksum.String(content)
	t.mu.Lock()
	t.hashes[id] = sum
	t.mu.Unlock()
}

// MarkModified flags id as having unsaved edits.
func (t *Tracker) MarkModified(id string) {
	t.mu.Lock()
	t.modified[id] = struct{}{}
	t.mu.Unlock()
}

// ClearModified drops the unsaved flag for id.
func (t *Tracker) ClearModified(id string) {
	t.mu.Lock()
	delete(t.modified, id)
	t.mu.Unlock()
}

// IsModified reports whether id has unsaved edits.
func (t *Tracker) IsModified(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.modified[id]
	return ok
}

// ModifiedNotes returns the ids with unsaved edits, sorted.
func (t *Tracker) ModifiedNotes() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.modified))
}

// InitializeNote records content as the on-disk state of id and clears
// its modified flag.
func (t *Tracker) InitializeNote(id, content string) {
	sum := checksum.String(content)
	t.mu.Lock()
	t.hashes[id] = sum
	delete(t.modified, id)
	t.mu.Unlock()
}

// RemoveNote forgets id entirely.
func (t *Tracker) RemoveNote(id string) {
	t.mu.Lock()
	delete(t.hashes, id)
	delete(t.modified, id)
	t.mu.Unlock()
}

// Hash returns the recorded hash for id.
func (t *Tracker) Hash(id string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	h, ok := t.hashes[id]
	return h, ok
}

// Known reports whether a hash is recorded for id.
func (t *Tracker) Known(id string) bool {
	_, ok := t.Hash(id)
	return ok
}

// IDs returns every tracked id, sorted.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return slices.Sorted(maps.Keys(t.hashes))
}

// Drift reports whether disk content for id differs from the recorded
// hash. Untracked ids never drift.
func (t *Tracker) Drift(id, diskContent string) bool {
	sum := checksum.String(diskContent)
	t.mu.Lock()
	defer t.mu.Unlock()
	prev, ok := t.hashes[id]
	return ok && prev != sum
}

// Retain drops every id not in keep and returns the dropped ids.
func (t *Tracker) Retain(keep map[string]struct{}) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	var dropped []string
	for id := range t.hashes {
		if _, ok := keep[id]; !ok {
			dropped = append(dropped, id)
			delete(t.hashes, id)
		}
	}
	for id := range t.modified {
		if _, ok := keep[id]; !ok {
			delete(t.modified, id)
		}
	}
	slices.Sort(dropped)
	return dropped
}
