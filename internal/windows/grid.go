package windows

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/workspace"
)

// ToggleResult is the outcome of ToggleAllVisibility.
type ToggleResult struct {
	// Visible is whether windows are shown after the toggle.
	Visible bool `json:"visible"`
	// Skipped is set when another toggle was already running.
	Skipped bool `json:"skipped"`
}

// ToggleAllVisibility hides the main window and every detached window when
// the main window is visible, and shows them otherwise, reopening recorded
// windows the host lost. A call made while another is running returns
// immediately with Skipped set.
func (m *Manager) ToggleAllVisibility(ctx context.Context) (ToggleResult, error) {
	if !m.toggling.CompareAndSwap(false, true) {
		m.logger.Debug("windows: toggle already in progress")
		return ToggleResult{Skipped: true}, nil
	}
	defer m.toggling.Store(false)

	live, err := m.host.ListLiveWindows(ctx)
	if err != nil {
		return ToggleResult{}, hostErr("list live windows", "", err)
	}
	mainVisible := false
	liveSet := make(map[string]struct{}, len(live))
	for _, w := range live {
		liveSet[w.Label] = struct{}{}
		if w.Label == models.MainWindowLabel {
			mainVisible = w.Visible
		}
	}

	notes := make(map[string]*models.Note)
	if !mainVisible {
		for _, n := range m.notes.Sorted() {
			notes[n.ID] = n
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	show := !mainVisible
	if err := m.host.SetVisible(ctx, models.MainWindowLabel, show); err != nil {
		return ToggleResult{}, hostErr("toggle visibility", models.MainWindowLabel, err)
	}
	for _, label := range slices.Sorted(maps.Keys(m.state.Windows)) {
		rec := m.state.Windows[label]
		if _, ok := liveSet[label]; ok {
			if err := m.host.SetVisible(ctx, label, show); err != nil {
				m.logger.Warn("windows: visibility change failed",
					slog.String("label", label),
					slog.String("error", err.Error()))
			}
			continue
		}
		if !show {
			continue
		}
		note, ok := notes[rec.NoteID]
		if !ok {
			continue
		}
		delete(m.state.Windows, label)
		if _, err := m.openLocked(ctx, note, rec.Geometry(), rec.AlwaysOnTop, rec.Opacity); err != nil {
			m.state.Windows[label] = rec
			m.logger.Warn("windows: reopen failed",
				slog.String("label", label),
				slog.String("error", err.Error()))
		}
	}
	m.logger.Info("windows: toggled visibility", slog.Bool("visible", show))
	return ToggleResult{Visible: show}, nil
}

// AssignGrid binds a note to a numeric grid slot. A note holds at most one
// slot; assigning it again moves it.
func (m *Manager) AssignGrid(_ context.Context, slot int, noteID string) error {
	if err := workspace.ValidateSlot(slot); err != nil {
		return apperr.EID(apperr.ErrInvalid, "assign grid slot", noteID, err)
	}
	if !m.notes.Exists(noteID) {
		return apperr.NotFound("assign grid slot", noteID)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for s, id := range m.state.GridAssignments {
		if id == noteID {
			delete(m.state.GridAssignments, s)
		}
	}
	m.state.GridAssignments[slot] = noteID
	m.persistLocked()
	m.logger.Info("windows: grid slot assigned", slog.Int("slot", slot), slog.String("note_id", noteID))
	return nil
}

// GridAssignment returns the note bound to slot.
func (m *Manager) GridAssignment(slot int) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.state.GridAssignments[slot]
	return id, ok
}

// DeployGrid opens, or focuses, the window of the note bound to slot. An
// unbound slot falls back to the note at that place in display order.
func (m *Manager) DeployGrid(ctx context.Context, slot int) (models.DetachedWindow, error) {
	if err := workspace.ValidateSlot(slot); err != nil {
		return models.DetachedWindow{}, apperr.E(apperr.ErrInvalid, "deploy grid slot", err)
	}
	noteID, ok := m.GridAssignment(slot)
	if !ok {
		sorted := m.notes.Sorted()
		if slot > len(sorted) {
			return models.DetachedWindow{}, apperr.NotFound("deploy grid slot", "")
		}
		noteID = sorted[slot-1].ID
	}

	if rec, open := m.Get(noteID); open {
		if _, err := m.Focus(ctx, noteID); err != nil {
			return models.DetachedWindow{}, err
		}
		return rec, nil
	}
	return m.Create(ctx, CreateRequest{NoteID: noteID})
}
