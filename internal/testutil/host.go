package testutil

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
)

// FakeHost is an in-memory window host. Tests can close windows behind the
// manager's back with Vanish and inject failures per label.
type FakeHost struct {
	mu      sync.Mutex
	windows map[string]models.LiveWindow
	fail    map[string]error
	Created []string
	Closed  []string
}

// NewFakeHost returns a host with only the main window open.
func NewFakeHost() *FakeHost {
	return &FakeHost{
		windows: map[string]models.LiveWindow{
			models.MainWindowLabel: {Label: models.MainWindowLabel, Visible: true},
		},
		fail: make(map[string]error),
	}
}

// ListLiveWindows returns open windows sorted by label.
func (h *FakeHost) ListLiveWindows(context.Context) ([]models.LiveWindow, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]models.LiveWindow, 0, len(h.windows))
	for _, k := range slices.Sorted(maps.Keys(h.windows)) {
		out = append(out, h.windows[k])
	}
	return out, nil
}

// CreateWindow opens a window for spec.
func (h *FakeHost) CreateWindow(_ context.Context, spec models.WindowSpec) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail[spec.Label]; err != nil {
		return err
	}
	if _, ok := h.windows[spec.Label]; ok {
		return apperr.E(apperr.ErrHostRuntime, "create window", fmt.Errorf("label %s in use", spec.Label))
	}
	h.windows[spec.Label] = models.LiveWindow{Label: spec.Label, Geometry: spec.Geometry, Visible: true}
	h.Created = append(h.Created, spec.Label)
	return nil
}

// CloseWindow closes label. Closing a window that is not open is a no-op.
func (h *FakeHost) CloseWindow(_ context.Context, label string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail[label]; err != nil {
		return err
	}
	delete(h.windows, label)
	h.Closed = append(h.Closed, label)
	return nil
}

// SetVisible shows or hides label.
func (h *FakeHost) SetVisible(_ context.Context, label string, visible bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[label]
	if !ok {
		return apperr.NotFound("set visible", label)
	}
	w.Visible = visible
	h.windows[label] = w
	return nil
}

// ResizeWindow changes the geometry of label.
func (h *FakeHost) ResizeWindow(_ context.Context, label string, g models.Geometry) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.fail[label]; err != nil {
		return err
	}
	w, ok := h.windows[label]
	if !ok {
		return apperr.NotFound("resize window", label)
	}
	w.Geometry = g
	h.windows[label] = w
	return nil
}

// Open adds a live window without going through CreateWindow.
func (h *FakeHost) Open(label string, g models.Geometry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.windows[label] = models.LiveWindow{Label: label, Geometry: g, Visible: true}
}

// Vanish removes a window as if the OS had closed it.
func (h *FakeHost) Vanish(label string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.windows, label)
}

// Fail makes every operation on label return err. A nil err clears it.
func (h *FakeHost) Fail(label string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.fail, label)
		return
	}
	h.fail[label] = err
}

// Window returns the live window for label.
func (h *FakeHost) Window(label string) (models.LiveWindow, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	w, ok := h.windows[label]
	return w, ok
}
