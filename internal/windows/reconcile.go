package windows

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/starford/blink/internal/models"
)

// ReconcileOptions tune a reconciliation pass.
type ReconcileOptions struct {
	// RecreateMissing reopens recorded windows the host no longer has,
	// using their persisted geometry, instead of dropping the record.
	RecreateMissing bool `json:"recreate_missing"`
}

// WindowError is a per-window failure collected during a pass.
type WindowError struct {
	Label string `json:"label"`
	Err   string `json:"error"`
}

// Report lists what a reconciliation pass found, by window label.
type Report struct {
	Consistent []string      `json:"consistent"`
	Adopted    []string      `json:"adopted"`
	Ignored    []string      `json:"ignored"`
	Dropped    []string      `json:"dropped"`
	Recreated  []string      `json:"recreated"`
	Purged     []string      `json:"purged"`
	Errors     []WindowError `json:"errors"`
}

// Changed reports whether the pass altered any record.
func (r *Report) Changed() bool {
	return len(r.Adopted)+len(r.Dropped)+len(r.Recreated)+len(r.Purged) > 0
}

// Reconcile compares the window records with the host's live windows.
//
//   - live and recorded: consistent;
//   - live note window with no record: adopted when the note exists,
//     otherwise ignored;
//   - recorded but not live: recreated from the record when
//     opts.RecreateMissing is set and the note exists, otherwise dropped.
//
// The main window and drag windows are never classified, and records for
// drag windows are purged. A failure on one window is added to the report
// and the pass carries on. Only a failure to list live windows aborts.
func (m *Manager) Reconcile(ctx context.Context, opts ReconcileOptions) (*Report, error) {
	live, err := m.host.ListLiveWindows(ctx)
	if err != nil {
		return nil, hostErr("list live windows", "", err)
	}

	// Note lookups happen before the windows lock is taken.
	notes := make(map[string]*models.Note)
	for _, n := range m.notes.Sorted() {
		notes[n.ID] = n
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	report := &Report{}
	report.Purged = m.purgeEphemeralLocked()

	liveByLabel := make(map[string]models.LiveWindow, len(live))
	for _, w := range live {
		if w.Label == models.MainWindowLabel || models.IsEphemeralLabel(w.Label) {
			continue
		}
		liveByLabel[w.Label] = w
	}

	for _, label := range slices.Sorted(maps.Keys(m.state.Windows)) {
		rec := m.state.Windows[label]
		if _, ok := liveByLabel[label]; ok {
			report.Consistent = append(report.Consistent, label)
			continue
		}
		note, exists := notes[rec.NoteID]
		if !opts.RecreateMissing || !exists {
			m.forgetLocked(rec)
			report.Dropped = append(report.Dropped, label)
			m.logger.Info("windows: dropped stale record", slog.String("label", label))
			continue
		}
		delete(m.state.Windows, label)
		if _, err := m.openLocked(ctx, note, rec.Geometry(), rec.AlwaysOnTop, rec.Opacity); err != nil {
			m.state.LastGeometry[rec.NoteID] = rec.Geometry()
			report.Dropped = append(report.Dropped, label)
			report.Errors = append(report.Errors, WindowError{Label: label, Err: err.Error()})
			m.logger.Warn("windows: recreate failed",
				slog.String("label", label),
				slog.String("error", err.Error()))
			continue
		}
		restored := m.state.Windows[label]
		restored.IsShaded, restored.OriginalHeight = rec.IsShaded, rec.OriginalHeight
		m.state.Windows[label] = restored
		report.Recreated = append(report.Recreated, label)
	}

	for _, label := range slices.Sorted(maps.Keys(liveByLabel)) {
		if _, ok := m.state.Windows[label]; ok {
			continue
		}
		noteID, isNote := models.NoteIDFromLabel(label)
		if !isNote || notes[noteID] == nil {
			report.Ignored = append(report.Ignored, label)
			continue
		}
		g := liveByLabel[label].Geometry
		if g.Width <= 0 || g.Height <= 0 {
			g.Width, g.Height = m.settings.DefaultWidth, m.settings.DefaultHeight
		}
		m.state.Windows[label] = models.DetachedWindow{
			NoteID:      noteID,
			WindowLabel: label,
			Position:    [2]float64{g.X, g.Y},
			Size:        [2]float64{g.Width, g.Height},
			Opacity:     models.DefaultWindowAlpha,
		}
		report.Adopted = append(report.Adopted, label)
		m.logger.Info("windows: adopted orphan window", slog.String("label", label))
	}

	if report.Changed() {
		m.persistLocked()
	}
	m.logger.Info("windows: reconciled",
		slog.Int("consistent", len(report.Consistent)),
		slog.Int("adopted", len(report.Adopted)),
		slog.Int("dropped", len(report.Dropped)),
		slog.Int("recreated", len(report.Recreated)),
		slog.Int("errors", len(report.Errors)))
	m.notifier.Notify(Topic, KindReconcile, "")
	return report, nil
}
