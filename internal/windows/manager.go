// Package windows tracks detached note windows. It keeps the persisted
// record of every open window, places new windows, and reconciles those
// records against what the host actually has open.
package windows

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/workspace"
)

// Host is the window system. It is the ground truth for whether a window
// currently exists.
type Host interface {
	ListLiveWindows(ctx context.Context) ([]models.LiveWindow, error)
	CreateWindow(ctx context.Context, spec models.WindowSpec) error
	CloseWindow(ctx context.Context, label string) error
	SetVisible(ctx context.Context, label string, visible bool) error
	ResizeWindow(ctx context.Context, label string, g models.Geometry) error
}

// NoteLookup answers questions about notes. Implementations take their own
// lock and release it before returning.
type NoteLookup interface {
	Get(id string) (*models.Note, error)
	Exists(id string) bool
	Sorted() []*models.Note
}

// Notifier receives window lifecycle events.
type Notifier interface {
	Notify(topic, kind, key string)
}

// Event kinds sent to the Notifier under the "window" topic.
const (
	Topic         = "window"
	KindOpened    = "opened"
	KindClosed    = "closed"
	KindUpdated   = "updated"
	KindReconcile = "reconciled"
)

// Settings control window placement.
type Settings struct {
	DefaultWidth     float64
	DefaultHeight    float64
	DefaultX         float64
	DefaultY         float64
	OverlapThreshold float64
	CascadeOffset    float64
	ShadeHeight      float64
	MinWidth         float64
	MinHeight        float64
}

// DefaultSettings returns the stock placement values.
func DefaultSettings() Settings {
	return Settings{
		DefaultWidth:     800,
		DefaultHeight:    600,
		DefaultX:         100,
		DefaultY:         100,
		OverlapThreshold: 50,
		CascadeOffset:    30,
		ShadeHeight:      48,
		MinWidth:         400,
		MinHeight:        300,
	}
}

// Manager owns the window records. Lock order is notes before windows:
// note lookups happen before m.mu is taken.
type Manager struct {
	host     Host
	notes    NoteLookup
	store    *workspace.Store
	notifier Notifier
	logger   *slog.Logger
	settings Settings
	now      func() time.Time

	mu    sync.Mutex
	state *models.WorkspaceState

	toggling atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithSettings overrides DefaultSettings.
func WithSettings(s Settings) Option {
	return func(m *Manager) { m.settings = s }
}

// WithNotifier sets where lifecycle events go.
func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notifier = n }
}

type nopNotifier struct{}

func (nopNotifier) Notify(string, string, string) {}

// NewManager creates a manager with an empty workspace. Call Restore to
// load the persisted one.
func NewManager(host Host, notes NoteLookup, store *workspace.Store, logger *slog.Logger, opts ...Option) *Manager {
	m := &Manager{
		host:     host,
		notes:    notes,
		store:    store,
		notifier: nopNotifier{},
		logger:   logger,
		settings: DefaultSettings(),
		now:      time.Now,
		state:    models.NewWorkspaceState(workspace.DefaultName, time.Now().UTC()),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Restore loads the persisted workspace and drops ephemeral records that
// should never have been saved. It does not touch the host; run Reconcile
// afterwards to bring records and live windows together.
func (m *Manager) Restore(ctx context.Context) error {
	state, err := m.store.Load()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = state
	if purged := m.purgeEphemeralLocked(); len(purged) > 0 {
		m.logger.Info("windows: purged ephemeral records", slog.Int("count", len(purged)))
		m.persistLocked()
	}
	m.logger.Info("windows: workspace restored",
		slog.Int("windows", len(m.state.Windows)),
		slog.Int("grid", len(m.state.GridAssignments)))
	return nil
}

// CreateRequest asks for a window for NoteID. Nil fields fall back to the
// note's last geometry, then to defaults.
type CreateRequest struct {
	NoteID string   `json:"note_id"`
	X      *float64 `json:"x,omitempty"`
	Y      *float64 `json:"y,omitempty"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// Create opens a detached window for an existing note. A note that already
// has a window is an apperr.ErrConflict.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (models.DetachedWindow, error) {
	note, err := m.notes.Get(req.NoteID)
	if err != nil {
		return models.DetachedWindow{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	label := models.WindowLabel(note.ID)
	if _, open := m.state.Windows[label]; open {
		return models.DetachedWindow{}, apperr.Conflictf("create window", note.ID, "window already open")
	}
	g := m.placeLocked(note.ID, req)
	rec, err := m.openLocked(ctx, note, g, false, models.DefaultWindowAlpha)
	if err != nil {
		return models.DetachedWindow{}, err
	}
	m.persistLocked()
	m.notifier.Notify(Topic, KindOpened, note.ID)
	return rec, nil
}

// openLocked asks the host for the window and records it.
func (m *Manager) openLocked(ctx context.Context, note *models.Note, g models.Geometry, onTop bool, opacity float64) (models.DetachedWindow, error) {
	label := models.WindowLabel(note.ID)
	spec := models.WindowSpec{
		Label:       label,
		NoteID:      note.ID,
		Title:       note.Title,
		Geometry:    g,
		AlwaysOnTop: onTop,
		Opacity:     opacity,
	}
	if err := m.host.CreateWindow(ctx, spec); err != nil {
		return models.DetachedWindow{}, hostErr("create window", note.ID, err)
	}
	rec := models.DetachedWindow{
		NoteID:      note.ID,
		WindowLabel: label,
		Position:    [2]float64{g.X, g.Y},
		Size:        [2]float64{g.Width, g.Height},
		AlwaysOnTop: onTop,
		Opacity:     opacity,
	}
	m.state.Windows[label] = rec
	m.logger.Info("windows: opened",
		slog.String("note_id", note.ID),
		slog.Float64("x", g.X),
		slog.Float64("y", g.Y))
	return rec, nil
}

// Close closes the note's window. It returns false when no window was
// recorded for the note.
func (m *Manager) Close(ctx context.Context, noteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	label := models.WindowLabel(noteID)
	rec, ok := m.state.Windows[label]
	if !ok {
		return false, nil
	}
	if err := m.host.CloseWindow(ctx, label); err != nil {
		return false, hostErr("close window", noteID, err)
	}
	m.forgetLocked(rec)
	m.persistLocked()
	m.notifier.Notify(Topic, KindClosed, noteID)
	return true, nil
}

// HandleDestroyed drops the record for a window the host has already
// closed. Unknown labels are ignored.
func (m *Manager) HandleDestroyed(_ context.Context, label string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.Windows[label]
	if !ok {
		return false
	}
	m.forgetLocked(rec)
	m.persistLocked()
	m.logger.Info("windows: destroyed by host", slog.String("label", label))
	m.notifier.Notify(Topic, KindClosed, rec.NoteID)
	return true
}

// forgetLocked removes rec and remembers its geometry for the next open.
func (m *Manager) forgetLocked(rec models.DetachedWindow) {
	g := rec.Geometry()
	if rec.IsShaded && rec.OriginalHeight != nil {
		g.Height = *rec.OriginalHeight
	}
	m.state.LastGeometry[rec.NoteID] = g
	delete(m.state.Windows, rec.WindowLabel)
}

// Move records a new position reported for the note's window.
func (m *Manager) Move(_ context.Context, noteID string, x, y float64) (models.DetachedWindow, error) {
	return m.update("move window", noteID, func(rec *models.DetachedWindow) error {
		rec.Position = [2]float64{x, y}
		return nil
	})
}

// Resize records a new size, clamped to the minimum window size. A shaded
// window only takes the new width.
func (m *Manager) Resize(_ context.Context, noteID string, width, height float64) (models.DetachedWindow, error) {
	return m.update("resize window", noteID, func(rec *models.DetachedWindow) error {
		rec.Size[0] = max(width, m.settings.MinWidth)
		if !rec.IsShaded {
			rec.Size[1] = max(height, m.settings.MinHeight)
		}
		return nil
	})
}

// SetOpacity records the window opacity, which must be within [0, 1].
func (m *Manager) SetOpacity(_ context.Context, noteID string, opacity float64) (models.DetachedWindow, error) {
	if opacity < 0 || opacity > 1 {
		return models.DetachedWindow{}, apperr.EID(apperr.ErrInvalid, "set opacity", noteID, errors.New("opacity must be within [0, 1]"))
	}
	return m.update("set opacity", noteID, func(rec *models.DetachedWindow) error {
		rec.Opacity = opacity
		return nil
	})
}

// SetAlwaysOnTop records the always-on-top flag.
func (m *Manager) SetAlwaysOnTop(_ context.Context, noteID string, onTop bool) (models.DetachedWindow, error) {
	return m.update("set always on top", noteID, func(rec *models.DetachedWindow) error {
		rec.AlwaysOnTop = onTop
		return nil
	})
}

// ToggleShade rolls the window up to its title bar or back down. It
// returns whether the window is now shaded.
func (m *Manager) ToggleShade(ctx context.Context, noteID string) (bool, error) {
	var shaded bool
	_, err := m.update("toggle shade", noteID, func(rec *models.DetachedWindow) error {
		g := rec.Geometry()
		next := *rec
		if rec.IsShaded {
			h := m.settings.DefaultHeight
			if rec.OriginalHeight != nil {
				h = *rec.OriginalHeight
			}
			g.Height = h
			next.Size[1] = h
			next.IsShaded, next.OriginalHeight = false, nil
		} else {
			h := rec.Size[1]
			g.Height = m.settings.ShadeHeight
			next.Size[1] = m.settings.ShadeHeight
			next.IsShaded, next.OriginalHeight = true, &h
		}
		if err := m.host.ResizeWindow(ctx, rec.WindowLabel, g); err != nil {
			return hostErr("toggle shade", noteID, err)
		}
		*rec = next
		shaded = next.IsShaded
		return nil
	})
	return shaded, err
}

// update applies fn to the note's record under the lock and persists it.
// fn's error leaves the record unchanged.
func (m *Manager) update(op, noteID string, fn func(rec *models.DetachedWindow) error) (models.DetachedWindow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label := models.WindowLabel(noteID)
	rec, ok := m.state.Windows[label]
	if !ok {
		return models.DetachedWindow{}, apperr.NotFound(op, noteID)
	}
	if err := fn(&rec); err != nil {
		return models.DetachedWindow{}, err
	}
	m.state.Windows[label] = rec
	m.persistLocked()
	m.notifier.Notify(Topic, KindUpdated, noteID)
	return rec, nil
}

// Focus brings the note's window to the front. It returns false when the
// note has no window.
func (m *Manager) Focus(ctx context.Context, noteID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	label := models.WindowLabel(noteID)
	if _, ok := m.state.Windows[label]; !ok {
		return false, nil
	}
	if err := m.host.SetVisible(ctx, label, true); err != nil {
		return false, hostErr("focus window", noteID, err)
	}
	return true, nil
}

// List returns every window record ordered by label.
func (m *Manager) List() []models.DetachedWindow {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.DetachedWindow, 0, len(m.state.Windows))
	for _, label := range slices.Sorted(maps.Keys(m.state.Windows)) {
		out = append(out, m.state.Windows[label])
	}
	return out
}

// Get returns the record of the note's window.
func (m *Manager) Get(noteID string) (models.DetachedWindow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.state.Windows[models.WindowLabel(noteID)]
	return rec, ok
}

// IsOpen reports whether the note has a window record.
func (m *Manager) IsOpen(noteID string) bool {
	_, ok := m.Get(noteID)
	return ok
}

// Snapshot returns a copy of the whole workspace state.
func (m *Manager) Snapshot() *models.WorkspaceState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Clone()
}

// ClearAll closes every recorded window and empties the records. Host
// failures are logged; the records are cleared regardless.
func (m *Manager) ClearAll(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.state.Windows)
	var errs []error
	for _, label := range slices.Sorted(maps.Keys(m.state.Windows)) {
		rec := m.state.Windows[label]
		if err := m.host.CloseWindow(ctx, label); err != nil {
			m.logger.Warn("windows: close failed during clear",
				slog.String("label", label),
				slog.String("error", err.Error()))
			errs = append(errs, hostErr("close window", rec.NoteID, err))
		}
		m.forgetLocked(rec)
		m.notifier.Notify(Topic, KindClosed, rec.NoteID)
	}
	m.persistLocked()
	m.logger.Info("windows: cleared", slog.Int("count", n))
	return n, errors.Join(errs...)
}

// ForgetNote drops everything remembered about a deleted note.
func (m *Manager) ForgetNote(noteID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := false
	if _, ok := m.state.LastGeometry[noteID]; ok {
		delete(m.state.LastGeometry, noteID)
		changed = true
	}
	for slot, id := range m.state.GridAssignments {
		if id == noteID {
			delete(m.state.GridAssignments, slot)
			changed = true
		}
	}
	if changed {
		m.persistLocked()
	}
}

// persistLocked writes the state. A failed write is logged and retried by
// the next mutation; in-memory state stays authoritative.
func (m *Manager) persistLocked() {
	m.state.LastAccessed = m.now().UTC()
	if err := m.store.Save(m.state); err != nil {
		m.logger.Warn("windows: persist failed", slog.String("error", err.Error()))
	}
}

func (m *Manager) purgeEphemeralLocked() []string {
	var purged []string
	for label := range m.state.Windows {
		if _, ok := models.NoteIDFromLabel(label); ok && !models.IsEphemeralLabel(label) {
			continue
		}
		delete(m.state.Windows, label)
		purged = append(purged, label)
	}
	slices.Sort(purged)
	return purged
}

func hostErr(op, id string, err error) error {
	if errors.Is(err, apperr.ErrHostRuntime) || errors.Is(err, apperr.ErrNotFound) {
		return err
	}
	return apperr.EID(apperr.ErrHostRuntime, op, id, err)
}
