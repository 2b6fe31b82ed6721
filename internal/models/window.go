package models

import (
	"strings"
	"time"
)

// Window label conventions.
const (
	MainWindowLabel    = "main"
	NoteWindowPrefix   = "note-"
	DragGhostLabel     = "drag-ghost"
	HybridDragPrefix   = "hybrid-drag-"
	MinGridSlot        = 1
	MaxGridSlot        = 9
	DefaultWindowAlpha = 1.0
)

// WindowLabel returns the host label of the detached window for a note.
func WindowLabel(noteID string) string {
	return NoteWindowPrefix + noteID
}

// NoteIDFromLabel extracts the note id from a detached window label.
func NoteIDFromLabel(label string) (string, bool) {
	if !strings.HasPrefix(label, NoteWindowPrefix) {
		return "", false
	}
	id := strings.TrimPrefix(label, NoteWindowPrefix)
	return id, id != ""
}

// IsEphemeralLabel reports whether label belongs to a transient drag window.
func IsEphemeralLabel(label string) bool {
	return label == DragGhostLabel || strings.HasPrefix(label, HybridDragPrefix)
}

// Geometry is a window position and size in logical pixels.
type Geometry struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// DetachedWindow is the persisted record of one floating note window.
type DetachedWindow struct {
	NoteID         string     `json:"note_id"`
	WindowLabel    string     `json:"window_label"`
	Position       [2]float64 `json:"position"`
	Size           [2]float64 `json:"size"`
	AlwaysOnTop    bool       `json:"always_on_top"`
	Opacity        float64    `json:"opacity"`
	IsShaded       bool       `json:"is_shaded"`
	OriginalHeight *float64   `json:"original_height,omitempty"`
}

// Geometry returns the record's position and size.
func (w DetachedWindow) Geometry() Geometry {
	return Geometry{X: w.Position[0], Y: w.Position[1], Width: w.Size[0], Height: w.Size[1]}
}

// WindowSpec is what a host needs to open a window.
type WindowSpec struct {
	Label       string   `json:"label"`
	NoteID      string   `json:"note_id"`
	Title       string   `json:"title"`
	Geometry    Geometry `json:"geometry"`
	AlwaysOnTop bool     `json:"always_on_top"`
	Opacity     float64  `json:"opacity"`
}

// LiveWindow is a window the host currently has open.
type LiveWindow struct {
	Label    string   `json:"label"`
	Geometry Geometry `json:"geometry"`
	Visible  bool     `json:"visible"`
}

// WorkspaceState is everything persisted about the window layout.
type WorkspaceState struct {
	Name            string                    `json:"name"`
	CreatedAt       time.Time                 `json:"created_at"`
	LastAccessed    time.Time                 `json:"last_accessed"`
	Windows         map[string]DetachedWindow `json:"window_states"`
	GridAssignments map[int]string            `json:"grid_assignments"`
	LastGeometry    map[string]Geometry       `json:"last_geometry"`
}

// NewWorkspaceState returns an empty state named name.
func NewWorkspaceState(name string, now time.Time) *WorkspaceState {
	return &WorkspaceState{
		Name:            name,
		CreatedAt:       now,
		LastAccessed:    now,
		Windows:         make(map[string]DetachedWindow),
		GridAssignments: make(map[int]string),
		LastGeometry:    make(map[string]Geometry),
	}
}

// Clone returns a deep copy of s.
func (s *WorkspaceState) Clone() *WorkspaceState {
	c := *s
	c.Windows = make(map[string]DetachedWindow, len(s.Windows))
	for k, v := range s.Windows {
		if v.OriginalHeight != nil {
			h := *v.OriginalHeight
			v.OriginalHeight = &h
		}
		c.Windows[k] = v
	}
	c.GridAssignments = make(map[int]string, len(s.GridAssignments))
	for k, v := range s.GridAssignments {
		c.GridAssignments[k] = v
	}
	c.LastGeometry = make(map[string]Geometry, len(s.LastGeometry))
	for k, v := range s.LastGeometry {
		c.LastGeometry[k] = v
	}
	return &c
}
