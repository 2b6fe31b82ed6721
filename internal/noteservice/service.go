// Package noteservice is the use-case layer shared by the HTTP API and the
// MCP server. It sits between the transports and the note repository,
// closes windows of deleted notes and publishes change events.
package noteservice

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/checksum"
	"github.com/starford/blink/internal/index"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/notes"
)

// Event kinds published on the "note" topic.
const (
	Topic        = "note"
	KindCreated  = "created"
	KindUpdated  = "updated"
	KindDeleted  = "deleted"
	KindReorder  = "reordered"
	KindReloaded = "reloaded"
)

// NoteDetail is the full representation of a note.
type NoteDetail struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum"`
	Tags      []string  `json:"tags"`
	Position  *int      `json:"position,omitempty"`
	Modified  bool      `json:"modified"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NoteListItem is a lightweight item in a list response.
type NoteListItem struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	Checksum  string    `json:"checksum,omitempty"`
	Tags      []string  `json:"tags"`
	Position  *int      `json:"position,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreateInput carries the fields a caller may set on a new note.
type CreateInput struct {
	ID      string
	Title   string
	Content string
	Tags    []string
}

// UpdateInput is a partial update; nil fields are left alone.
type UpdateInput struct {
	Title   *string
	Content *string
	Tags    []string
	SetTags bool
}

// Stats summarises the note set and its index.
type Stats struct {
	Notes       int        `json:"notes"`
	Positioned  int        `json:"positioned"`
	Modified    int        `json:"modified"`
	Tracked     int        `json:"tracked"`
	Indexed     int        `json:"indexed"`
	Words       int        `json:"words"`
	Tags        int        `json:"tags"`
	LastRebuild *time.Time `json:"last_rebuild,omitempty"`
}

// Windows is the part of the window manager the service needs.
type Windows interface {
	Close(ctx context.Context, noteID string) (bool, error)
	ForgetNote(noteID string)
}

// Notifier receives change events.
type Notifier interface {
	Notify(topic, kind, key string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, string) {}

// Option configures a Service.
type Option func(*Service)

// WithWindows lets Delete close and forget the note's window.
func WithWindows(w Windows) Option {
	return func(s *Service) { s.windows = w }
}

// WithNotifier sets the change event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// Service coordinates repository, index and window operations.
type Service struct {
	repo     *notes.Repository
	idx      index.NoteIndex
	windows  Windows
	notifier Notifier
	logger   *slog.Logger
}

// NewService creates a new note service.
func NewService(repo *notes.Repository, idx index.NoteIndex, logger *slog.Logger, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		idx:      idx,
		notifier: nopNotifier{},
		logger:   logger,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// GetNote returns the note with id.
func (s *Service) GetNote(_ context.Context, id string) (*NoteDetail, error) {
	n, err := s.repo.Get(id)
	if err != nil {
		return nil, err
	}
	return s.detail(n), nil
}

// CreateNote stores a new note.
func (s *Service) CreateNote(ctx context.Context, in CreateInput) (*NoteDetail, error) {
	n, err := s.repo.Create(ctx, &models.Note{
		ID:      in.ID,
		Title:   in.Title,
		Content: in.Content,
		Tags:    in.Tags,
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(Topic, KindCreated, n.ID)
	return s.detail(n), nil
}

// UpdateNote applies in to the note with id. A non-empty ifMatch must equal
// the checksum of the stored content or the update fails with ErrConflict.
func (s *Service) UpdateNote(ctx context.Context, id string, in UpdateInput, ifMatch string) (*NoteDetail, error) {
	n, wrote, err := s.repo.Update(ctx, id, func(n *models.Note) error {
		if ifMatch != "" {
			if cur := checksum.String(n.Content); cur != ifMatch {
				return apperr.Conflictf("update note", id, "checksum %s does not match %s", checksum.Short(ifMatch), checksum.Short(cur))
			}
		}
		if in.Title != nil {
			n.Title = *in.Title
		}
		if in.Content != nil {
			n.Content = *in.Content
		}
		if in.SetTags {
			n.Tags = in.Tags
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if wrote {
		s.notifier.Notify(Topic, KindUpdated, id)
	}
	return s.detail(n), nil
}

// DeleteNote removes the note, then closes its window and drops its
// workspace records. A failure to close the window is logged only.
func (s *Service) DeleteNote(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	if s.windows != nil {
		if _, err := s.windows.Close(ctx, id); err != nil {
			s.logger.Warn("noteservice: close window of deleted note",
				slog.String("id", id), slog.String("error", err.Error()))
		}
		s.windows.ForgetNote(id)
	}
	s.notifier.Notify(Topic, KindDeleted, id)
	return nil
}

// ReorderNotes gives ids positions 0..len(ids)-1.
func (s *Service) ReorderNotes(ctx context.Context, ids []string) error {
	if err := s.repo.Reorder(ctx, ids); err != nil {
		return err
	}
	s.notifier.Notify(Topic, KindReorder, "")
	return nil
}

// ListNotes returns notes in display order, optionally filtered by tag.
// It reads the index and falls back to the in-memory set when the index
// is unavailable.
func (s *Service) ListNotes(_ context.Context, tag string) ([]NoteListItem, error) {
	entries, err := s.idx.ListOrdered()
	if err != nil {
		s.logger.Warn("noteservice: index unavailable, listing from memory", slog.String("error", err.Error()))
		entries = s.memoryEntries()
	}
	items := make([]NoteListItem, 0, len(entries))
	for _, e := range entries {
		if tag != "" && !slices.Contains(e.Tags, tag) {
			continue
		}
		item := NoteListItem{
			ID:        e.ID,
			Title:     e.Title,
			Path:      e.FilePath,
			Tags:      nonNilSlice(e.Tags),
			Position:  e.Position,
			CreatedAt: e.CreatedAt,
			UpdatedAt: e.UpdatedAt,
		}
		if e.ContentHash != nil {
			item.Checksum = *e.ContentHash
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *Service) memoryEntries() []models.IndexEntry {
	sorted := s.repo.Sorted()
	entries := make([]models.IndexEntry, 0, len(sorted))
	for _, n := range sorted {
		p, _ := s.repo.PathOf(n.ID)
		entries = append(entries, index.EntryFor(n, p))
	}
	return entries
}

// Reload re-reads the notes directory and rebuilds the index.
func (s *Service) Reload(ctx context.Context) (*notes.LoadReport, error) {
	_, report, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(Topic, KindReloaded, "")
	return report, nil
}

// Modified returns the ids whose latest edit failed to reach disk. It is
// empty whenever every write has succeeded.
func (s *Service) Modified() []string {
	return nonNilSlice(s.repo.Modified())
}

// Stats reports note, word, tag and index counts.
func (s *Service) Stats(_ context.Context) (*Stats, error) {
	st := &Stats{
		Modified: len(s.repo.Modified()),
		Tracked:  len(s.repo.Tracked()),
	}
	tags := make(map[string]struct{})
	for _, n := range s.repo.Sorted() {
		st.Notes++
		if n.HasPosition() {
			st.Positioned++
		}
		st.Words += len(strings.Fields(n.Content))
		for _, t := range n.Tags {
			tags[t] = struct{}{}
		}
	}
	st.Tags = len(tags)
	indexed, err := s.idx.Count()
	if err != nil {
		return nil, apperr.E(apperr.ErrStorage, "note stats", err)
	}
	st.Indexed = indexed
	last, err := s.idx.LastRebuild()
	if err != nil {
		return nil, apperr.E(apperr.ErrStorage, "note stats", err)
	}
	if !last.IsZero() {
		st.LastRebuild = &last
	}
	return st, nil
}

// HandleWatchEvent forwards a directory watcher event to subscribers.
func (s *Service) HandleWatchEvent(ev notes.Event) {
	key := ev.ID
	if key == "" {
		key = ev.Path
	}
	s.notifier.Notify(Topic, ev.Kind, key)
}

func (s *Service) detail(n *models.Note) *NoteDetail {
	p, _ := s.repo.PathOf(n.ID)
	return &NoteDetail{
		ID:        n.ID,
		Title:     n.Title,
		Content:   n.Content,
		Path:      p,
		Checksum:  checksum.String(n.Content),
		Tags:      nonNilSlice(n.Tags),
		Position:  n.Position,
		Modified:  s.repo.IsModified(n.ID),
		CreatedAt: n.CreatedAt,
		UpdatedAt: n.UpdatedAt,
	}
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
