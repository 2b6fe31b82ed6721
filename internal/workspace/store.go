// Package workspace persists the detached-window layout: open window
// records, grid slot assignments and the last geometry of closed windows.
package workspace

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/natefinch/atomic"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
)

// DefaultName names a freshly created workspace.
const DefaultName = "Default"

// Store reads and writes the workspace state file.
type Store struct {
	path   string
	logger *slog.Logger
	now    func() time.Time
	mu     sync.Mutex
}

// NewStore returns a store backed by the JSON file at path.
func NewStore(path string, logger *slog.Logger) *Store {
	return &Store{path: path, logger: logger, now: time.Now}
}

// Path returns the state file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the state file. A missing file yields an empty default state.
// Invalid records are dropped with a warning rather than failing the load.
func (s *Store) Load() (*models.WorkspaceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.logger.Info("workspace: no state file, starting empty", slog.String("path", s.path))
		return models.NewWorkspaceState(DefaultName, s.now().UTC()), nil
	}
	if err != nil {
		return nil, apperr.E(apperr.ErrIO, "load workspace", err)
	}

	var state models.WorkspaceState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, apperr.E(apperr.ErrSerialization, "load workspace", err)
	}
	s.sanitize(&state)
	state.LastAccessed = s.now().UTC()
	return &state, nil
}

// Save validates state and atomically replaces the state file.
func (s *Store) Save(state *models.WorkspaceState) error {
	if err := Validate(state); err != nil {
		return apperr.E(apperr.ErrInvalid, "save workspace", err)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return apperr.E(apperr.ErrSerialization, "save workspace", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return apperr.E(apperr.ErrIO, "save workspace", err)
	}
	if err := atomic.WriteFile(s.path, bytes.NewReader(data)); err != nil {
		return apperr.E(apperr.ErrIO, "save workspace", err)
	}
	return nil
}

// sanitize fills nil maps and drops entries that would fail validation.
func (s *Store) sanitize(state *models.WorkspaceState) {
	if state.Name == "" {
		state.Name = DefaultName
	}
	if state.Windows == nil {
		state.Windows = make(map[string]models.DetachedWindow)
	}
	if state.GridAssignments == nil {
		state.GridAssignments = make(map[int]string)
	}
	if state.LastGeometry == nil {
		state.LastGeometry = make(map[string]models.Geometry)
	}
	for label, w := range state.Windows {
		if err := ValidateWindow(label, w); err != nil {
			s.logger.Warn("workspace: dropping invalid window record",
				slog.String("label", label),
				slog.String("error", err.Error()))
			delete(state.Windows, label)
		}
	}
	for slot := range state.GridAssignments {
		if err := ValidateSlot(slot); err != nil {
			s.logger.Warn("workspace: dropping invalid grid slot", slog.Int("slot", slot))
			delete(state.GridAssignments, slot)
		}
	}
}

// ValidateSlot checks that slot is within 1..9.
func ValidateSlot(slot int) error {
	return validation.Validate(slot, validation.Required, validation.Min(models.MinGridSlot), validation.Max(models.MaxGridSlot))
}

// ValidateWindow checks one window record stored under label.
func ValidateWindow(label string, w models.DetachedWindow) error {
	if w.WindowLabel != label {
		return fmt.Errorf("label %q does not match record label %q", label, w.WindowLabel)
	}
	return validation.ValidateStruct(&w,
		validation.Field(&w.NoteID, validation.Required),
		validation.Field(&w.WindowLabel, validation.Required),
		validation.Field(&w.Opacity, validation.Min(0.0), validation.Max(1.0)),
		validation.Field(&w.Size, validation.By(positiveSize)),
	)
}

// Validate checks every record and grid slot of state.
func Validate(state *models.WorkspaceState) error {
	if state == nil {
		return errors.New("workspace state is nil")
	}
	for label, w := range state.Windows {
		if err := ValidateWindow(label, w); err != nil {
			return fmt.Errorf("window %s: %w", label, err)
		}
	}
	for slot, id := range state.GridAssignments {
		if err := ValidateSlot(slot); err != nil {
			return fmt.Errorf("grid slot %d: %w", slot, err)
		}
		if id == "" {
			return fmt.Errorf("grid slot %d: empty note id", slot)
		}
	}
	return nil
}

func positiveSize(value any) error {
	size, _ := value.([2]float64)
	if size[0] <= 0 || size[1] <= 0 {
		return errors.New("must be positive")
	}
	return nil
}
