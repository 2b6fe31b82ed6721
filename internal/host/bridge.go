// Package host drives windows that live in the desktop frontend. Commands
// go out as server-sent events; the frontend reports which windows it has
// open through the control API.
package host

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"slices"
	"sync"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/sse"
)

// Command event types pushed to the frontend.
const (
	EventOpen       = "host.window.open"
	EventClose      = "host.window.close"
	EventVisibility = "host.window.visibility"
	EventResize     = "host.window.resize"
)

var errNoFrontend = errors.New("no frontend attached")

// Publisher is the part of the SSE broker the bridge uses.
type Publisher interface {
	Publish(event sse.Event)
	ClientCount() int
}

// Bridge implements windows.Host on top of the event stream. Its live set
// holds what the frontend registered plus windows opened through it that
// the frontend has not yet confirmed. It is reset by ReplaceLive and
// Detach so that windows lost with the frontend do not stay live.
type Bridge struct {
	pub    Publisher
	logger *slog.Logger

	mu   sync.Mutex
	live map[string]models.LiveWindow
}

// NewBridge returns a bridge whose live set holds only the main window.
func NewBridge(pub Publisher, logger *slog.Logger) *Bridge {
	return &Bridge{
		pub:    pub,
		logger: logger,
		live: map[string]models.LiveWindow{
			models.MainWindowLabel: {Label: models.MainWindowLabel, Visible: true},
		},
	}
}

// Register records a window the frontend has open.
func (b *Bridge) Register(w models.LiveWindow) {
	b.mu.Lock()
	b.live[w.Label] = w
	b.mu.Unlock()
	b.logger.Debug("host: window registered", slog.String("label", w.Label))
}

// Unregister forgets a window the frontend closed. It reports whether the
// label was known.
func (b *Bridge) Unregister(label string) bool {
	b.mu.Lock()
	_, ok := b.live[label]
	delete(b.live, label)
	b.mu.Unlock()
	b.logger.Debug("host: window unregistered", slog.String("label", label))
	return ok
}

// ReplaceLive makes ws the whole live set. The frontend sends its full
// window list on every stream.hello, so labels it no longer has are gone.
// The main window is kept when ws does not mention it.
func (b *Bridge) ReplaceLive(ws []models.LiveWindow) {
	b.mu.Lock()
	main := b.live[models.MainWindowLabel]
	clear(b.live)
	b.live[models.MainWindowLabel] = main
	for _, w := range ws {
		b.live[w.Label] = w
	}
	n := len(b.live)
	b.mu.Unlock()
	b.logger.Info("host: live windows replaced", slog.Int("count", n))
}

// Detach forgets every window except main. It runs when the last stream
// disconnects: a frontend that went away took its windows with it.
func (b *Bridge) Detach() {
	b.mu.Lock()
	dropped := len(b.live) - 1
	main := b.live[models.MainWindowLabel]
	clear(b.live)
	b.live[models.MainWindowLabel] = main
	b.mu.Unlock()
	if dropped > 0 {
		b.logger.Info("host: frontend detached", slog.Int("dropped", dropped))
	}
}

// ListLiveWindows returns the live set sorted by label.
func (b *Bridge) ListLiveWindows(context.Context) ([]models.LiveWindow, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.LiveWindow, 0, len(b.live))
	for _, label := range slices.Sorted(maps.Keys(b.live)) {
		out = append(out, b.live[label])
	}
	return out, nil
}

// CreateWindow asks the frontend to open a window. It fails when no
// frontend is listening.
func (b *Bridge) CreateWindow(_ context.Context, spec models.WindowSpec) error {
	if err := b.attached("create window", spec.Label); err != nil {
		return err
	}
	b.pub.Publish(sse.Event{Type: EventOpen, Data: spec})
	b.Register(models.LiveWindow{Label: spec.Label, Geometry: spec.Geometry, Visible: true})
	return nil
}

// CloseWindow asks the frontend to close label.
func (b *Bridge) CloseWindow(_ context.Context, label string) error {
	if err := b.attached("close window", label); err != nil {
		return err
	}
	b.pub.Publish(sse.Event{Type: EventClose, Data: map[string]string{"label": label}})
	b.Unregister(label)
	return nil
}

// SetVisible asks the frontend to show or hide label.
func (b *Bridge) SetVisible(_ context.Context, label string, visible bool) error {
	if err := b.attached("set visible", label); err != nil {
		return err
	}
	b.mu.Lock()
	w, ok := b.live[label]
	if ok {
		w.Visible = visible
		b.live[label] = w
	}
	b.mu.Unlock()
	if !ok {
		return apperr.NotFound("set visible", label)
	}
	b.pub.Publish(sse.Event{Type: EventVisibility, Data: map[string]any{"label": label, "visible": visible}})
	return nil
}

// ResizeWindow asks the frontend to apply g to label.
func (b *Bridge) ResizeWindow(_ context.Context, label string, g models.Geometry) error {
	if err := b.attached("resize window", label); err != nil {
		return err
	}
	b.mu.Lock()
	w, ok := b.live[label]
	if ok {
		w.Geometry = g
		b.live[label] = w
	}
	b.mu.Unlock()
	if !ok {
		return apperr.NotFound("resize window", label)
	}
	b.pub.Publish(sse.Event{Type: EventResize, Data: map[string]any{"label": label, "geometry": g}})
	return nil
}

func (b *Bridge) attached(op, label string) error {
	if b.pub.ClientCount() > 0 {
		return nil
	}
	b.logger.Warn("host: no frontend attached", slog.String("op", op), slog.String("label", label))
	return apperr.EID(apperr.ErrHostRuntime, op, label, errNoFrontend)
}
