// Package notes owns the notes directory: it loads and repairs the note
// set, writes and deletes note files, and keeps the secondary index and
// the modified-state tracker in step with the files.
package notes

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/index"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/parser"
	"github.com/starford/blink/internal/slug"
	"github.com/starford/blink/internal/storage"
	"github.com/starford/blink/internal/tracker"
)

// Repository is the authoritative in-memory note map plus the files behind
// it. All methods are safe for concurrent use.
type Repository struct {
	store   storage.Provider
	idx     index.NoteIndex
	tracker *tracker.Tracker
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	mu    sync.RWMutex
	notes map[string]*models.Note
	paths map[string]string // id -> file path relative to the notes root
}

// Option configures a Repository.
type Option func(*Repository)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

// WithIDGenerator overrides random id generation.
func WithIDGenerator(gen func() string) Option {
	return func(r *Repository) { r.newID = gen }
}

// New creates a repository. Call Load before serving reads.
func New(store storage.Provider, idx index.NoteIndex, tr *tracker.Tracker, logger *slog.Logger, opts ...Option) *Repository {
	r := &Repository{
		store:   store,
		idx:     idx,
		tracker: tr,
		logger:  logger,
		now:     time.Now,
		newID:   func() string { return uuid.NewString() },
		notes:   make(map[string]*models.Note),
		paths:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Repository) timestamp() time.Time {
	return r.now().UTC()
}

// Get returns a copy of the note with id.
func (r *Repository) Get(id string) (*models.Note, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n, ok := r.notes[id]
	if !ok {
		return nil, apperr.NotFound("get note", id)
	}
	return n.Clone(), nil
}

// Exists reports whether id is loaded.
func (r *Repository) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.notes[id]
	return ok
}

// Count returns the number of loaded notes.
func (r *Repository) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.notes)
}

// All returns a copy of the note map.
func (r *Repository) All() map[string]*models.Note {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]*models.Note, len(r.notes))
	for id, n := range r.notes {
		out[id] = n.Clone()
	}
	return out
}

// Sorted returns copies of all notes in display order.
func (r *Repository) Sorted() []*models.Note {
	all := r.All()
	out := slices.Collect(maps.Values(all))
	models.SortNotes(out)
	return out
}

// PathOf returns the file backing id.
func (r *Repository) PathOf(id string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.paths[id]
	return p, ok
}

// NextPosition returns one past the highest position in use, or 0.
func (r *Repository) NextPosition() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.nextPositionLocked()
}

func (r *Repository) nextPositionLocked() int {
	next := 0
	for _, n := range r.notes {
		if n.Position != nil && *n.Position >= next {
			next = *n.Position + 1
		}
	}
	return next
}

// Create stores a new note. It assigns an id when draft has none, the next
// free position and fresh timestamps.
func (r *Repository) Create(ctx context.Context, draft *models.Note) (*models.Note, error) {
	n := draft.Clone()
	n.Tags = models.NormalizeTags(n.Tags)

	r.mu.Lock()
	defer r.mu.Unlock()

	if n.ID == "" {
		n.ID = r.uniqueIDLocked()
	} else if _, ok := r.notes[n.ID]; ok {
		return nil, apperr.EID(apperr.ErrAlreadyExists, "create note", n.ID, nil)
	}
	now := r.timestamp()
	n.CreatedAt, n.UpdatedAt = now, now
	n.Position = models.IntPtr(r.nextPositionLocked())

	if err := r.writeLocked(ctx, n); err != nil {
		return nil, err
	}
	return n.Clone(), nil
}

// Update applies mutate to a copy of the note with id. When the result
// differs from the stored note its updated_at is refreshed and it is
// written; otherwise nothing touches disk. The returned bool reports
// whether a write happened.
func (r *Repository) Update(ctx context.Context, id string, mutate func(n *models.Note) error) (*models.Note, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.notes[id]
	if !ok {
		return nil, false, apperr.NotFound("update note", id)
	}
	next := cur.Clone()
	if err := mutate(next); err != nil {
		return nil, false, err
	}
	next.ID = id
	next.Tags = models.NormalizeTags(next.Tags)

	contentChanged := r.tracker.HasContentChanged(id, next.Content)
	if !contentChanged && models.SameMetadata(cur, next) {
		return cur.Clone(), false, nil
	}
	r.tracker.MarkModified(id)
	next.UpdatedAt = r.timestamp()
	if err := r.writeLocked(ctx, next); err != nil {
		return nil, false, err
	}
	return next.Clone(), true, nil
}

// Save writes n unless its content hash and metadata match what is
// already stored. It returns whether a write happened. Positions are
// owned by the repository: a stored note keeps its position whatever n
// carries, and a note not seen before gets the next free one. Use Reorder
// to move notes.
func (r *Repository) Save(ctx context.Context, n *models.Note) (bool, error) {
	if n == nil || n.ID == "" {
		return false, apperr.E(apperr.ErrInvalid, "save note", errors.New("note id is required"))
	}
	note := n.Clone()
	note.Tags = models.NormalizeTags(note.Tags)

	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saveLocked(ctx, note)
}

// SaveAll saves every note and returns how many were written. Failures
// do not stop the remaining saves.
func (r *Repository) SaveAll(ctx context.Context, notes []*models.Note) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	written := 0
	var errs []error
	for _, n := range notes {
		if n == nil || n.ID == "" {
			errs = append(errs, apperr.E(apperr.ErrInvalid, "save note", errors.New("note id is required")))
			continue
		}
		note := n.Clone()
		note.Tags = models.NormalizeTags(note.Tags)
		ok, err := r.saveLocked(ctx, note)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			written++
		}
	}
	return written, errors.Join(errs...)
}

func (r *Repository) saveLocked(ctx context.Context, n *models.Note) (bool, error) {
	prev, exists := r.notes[n.ID]
	if exists {
		n.Position = nil
		if prev.Position != nil {
			n.Position = models.IntPtr(*prev.Position)
		}
	} else {
		n.Position = models.IntPtr(r.nextPositionLocked())
		now := r.timestamp()
		if n.CreatedAt.IsZero() {
			n.CreatedAt = now
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = now
		}
	}
	contentChanged := r.tracker.HasContentChanged(n.ID, n.Content)
	if exists && !contentChanged && models.SameMetadata(prev, n) && prev.UpdatedAt.Equal(n.UpdatedAt) {
		return false, nil
	}
	if err := r.writeLocked(ctx, n); err != nil {
		return false, err
	}
	return true, nil
}

// writeLocked encodes n, writes it to its file and then updates the
// cache, tracker and index in that order. The tracker is untouched when
// the write fails.
func (r *Repository) writeLocked(_ context.Context, n *models.Note) error {
	path := r.resolvePathLocked(n)
	data, err := parser.Encode(n)
	if err != nil {
		return err
	}
	if err := r.store.Write(path, data); err != nil {
		return apperr.EID(apperr.ErrIO, "write note", n.ID, err)
	}

	r.tracker.UpdateContentHash(n.ID, n.Content)
	r.tracker.ClearModified(n.ID)
	r.notes[n.ID] = n.Clone()
	r.paths[n.ID] = path

	if err := r.idx.Upsert(index.EntryFor(n, path)); err != nil {
		r.logger.Warn("repo: index upsert failed",
			slog.String("id", n.ID),
			slog.String("error", err.Error()))
	}
	r.logger.Debug("repo: wrote note", slog.String("id", n.ID), slog.String("path", path))
	return nil
}

// resolvePathLocked picks the file for n: the path the index records, the
// path it was loaded from, or a fresh name derived from its title. A
// recorded path whose file now holds another note is skipped.
func (r *Repository) resolvePathLocked(n *models.Note) string {
	p, ok, err := r.idx.FilePath(n.ID)
	if err != nil {
		r.logger.Warn("repo: index path lookup failed",
			slog.String("id", n.ID),
			slog.String("error", err.Error()))
	}
	if ok && err == nil && r.ownsPathLocked(n.ID, p) && r.writableLocked(n.ID, p) {
		return p
	}
	if p, ok := r.paths[n.ID]; ok && r.writableLocked(n.ID, p) {
		return p
	}
	return r.newPathLocked(n)
}

// fileOwnerLocked reads path and returns the id it holds. exists is false
// when there is no file. A file that cannot be parsed yields an empty id.
func (r *Repository) fileOwnerLocked(path string) (id string, exists bool, err error) {
	data, err := r.store.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", false, nil
	}
	if err != nil {
		return "", true, err
	}
	doc, err := parser.Decode(data)
	if err != nil {
		return "", true, nil
	}
	if doc.Meta.ID == "" {
		return uuid.NewSHA1(legacyNamespace, []byte(fileStem(path))).String(), true, nil
	}
	return doc.Meta.ID, true, nil
}

// writableLocked reports whether path is free or already holds id.
func (r *Repository) writableLocked(id, path string) bool {
	owner, exists, err := r.fileOwnerLocked(path)
	if err != nil {
		r.logger.Warn("repo: path check failed",
			slog.String("id", id),
			slog.String("path", path),
			slog.String("error", err.Error()))
		return false
	}
	if exists && owner != id {
		r.logger.Warn("repo: path holds another note",
			slog.String("id", id),
			slog.String("path", path),
			slog.String("owner", owner))
		return false
	}
	return true
}

// ownsPathLocked rejects an index path that the loaded map assigns to a
// different note.
func (r *Repository) ownsPathLocked(id, path string) bool {
	for other, p := range r.paths {
		if p == path && other != id {
			return false
		}
	}
	return true
}

func (r *Repository) newPathLocked(n *models.Note) string {
	base := slug.Make(n.Title)
	if base == "" {
		base = slug.Make(n.ID)
	}
	if base == "" {
		base = "untitled"
	}
	taken := func(candidate string) bool {
		p := candidate + storage.NoteExt
		for id, owned := range r.paths {
			if owned == p && id != n.ID {
				return true
			}
		}
		exists, err := r.store.Exists(p)
		if err != nil {
			return true
		}
		return exists
	}
	return slug.Unique(base, taken) + storage.NoteExt
}

func (r *Repository) uniqueIDLocked() string {
	for {
		id := r.newID()
		if _, ok := r.notes[id]; !ok && id != "" {
			return id
		}
	}
}

// Delete removes the note's file, cache entry, tracker entry and index
// entry. The file is located through the index, then the loaded path,
// then a scan of the directory.
func (r *Repository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, loaded := r.notes[id]
	candidates := make([]string, 0, 2)
	if p, ok, err := r.idx.FilePath(id); err == nil && ok {
		candidates = append(candidates, p)
	}
	if p, ok := r.paths[id]; ok && !slices.Contains(candidates, p) {
		candidates = append(candidates, p)
	}
	if !loaded && len(candidates) == 0 {
		return apperr.NotFound("delete note", id)
	}

	removed, err := r.removeFirstLocked(id, candidates)
	if err != nil {
		return apperr.EID(apperr.ErrIO, "delete note", id, err)
	}
	if !removed {
		p, found, err := r.scanForIDLocked(ctx, id)
		if err != nil {
			return apperr.EID(apperr.ErrIO, "delete note", id, err)
		}
		if found {
			if err := r.store.Delete(p); err != nil {
				return apperr.EID(apperr.ErrIO, "delete note", id, err)
			}
		} else if !loaded {
			return apperr.NotFound("delete note", id)
		}
	}

	delete(r.notes, id)
	delete(r.paths, id)
	r.tracker.RemoveNote(id)
	if err := r.idx.Delete(id); err != nil {
		r.logger.Warn("repo: index delete failed", slog.String("id", id), slog.String("error", err.Error()))
	}
	r.logger.Info("repo: deleted note", slog.String("id", id))
	return nil
}

// removeFirstLocked deletes the first candidate that still holds id.
// Candidates that are gone or now hold another note are skipped.
func (r *Repository) removeFirstLocked(id string, candidates []string) (bool, error) {
	for _, p := range candidates {
		owner, exists, err := r.fileOwnerLocked(p)
		if err != nil {
			return false, err
		}
		if !exists || owner != id {
			r.logger.Debug("repo: stale path for delete", slog.String("path", p), slog.String("owner", owner))
			continue
		}
		err = r.store.Delete(p)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, err
		}
	}
	return false, nil
}

// scanForIDLocked reads every note file looking for id.
func (r *Repository) scanForIDLocked(ctx context.Context, id string) (string, bool, error) {
	entries, err := r.store.List("")
	if err != nil {
		return "", false, err
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return "", false, err
		}
		data, err := r.store.Read(e.Path)
		if err != nil {
			continue
		}
		doc, err := parser.Decode(data)
		if err != nil || !doc.HasFrontmatter {
			continue
		}
		if doc.Meta.ID == id {
			return e.Path, true, nil
		}
	}
	return "", false, nil
}

// Reorder gives the listed notes positions 0..len(ids)-1 in order.
// Positioned notes not listed follow in their current order; unpositioned
// notes not listed stay unpositioned. Only notes whose position changes
// are written.
func (r *Repository) Reorder(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := r.notes[id]; !ok {
			return apperr.NotFound("reorder notes", id)
		}
		if _, dup := seen[id]; dup {
			return apperr.EID(apperr.ErrInvalid, "reorder notes", id, errors.New("listed twice"))
		}
		seen[id] = struct{}{}
	}

	var rest []*models.Note
	for id, n := range r.notes {
		if _, listed := seen[id]; !listed && n.Position != nil {
			rest = append(rest, n)
		}
	}
	models.SortNotes(rest)

	order := slices.Clone(ids)
	for _, n := range rest {
		order = append(order, n.ID)
	}

	var errs []error
	for i, id := range order {
		cur := r.notes[id]
		if cur.Position != nil && *cur.Position == i {
			continue
		}
		next := cur.Clone()
		next.Position = models.IntPtr(i)
		if err := r.writeLocked(ctx, next); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return err
	}
	r.logger.Info("repo: reordered notes", slog.Int("count", len(ids)))
	return nil
}

// Modified returns ids edited in memory whose file write has not yet
// succeeded. A successful write clears the flag, so in steady state the
// list is empty; it is non-empty only after a failed write and until a
// later write of that note succeeds.
func (r *Repository) Modified() []string {
	return r.tracker.ModifiedNotes()
}

// IsModified reports whether id has an edit not yet written to disk.
func (r *Repository) IsModified(id string) bool {
	return r.tracker.IsModified(id)
}

// Tracked returns the ids the tracker holds a hash for. After Load it
// matches the note map's key set.
func (r *Repository) Tracked() []string {
	return r.tracker.IDs()
}

func fileStem(path string) string {
	name := path
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	return strings.TrimSuffix(name, storage.NoteExt)
}
