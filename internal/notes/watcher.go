package notes

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/starford/blink/internal/parser"
	"github.com/starford/blink/internal/storage"
)

// Watcher event kinds.
const (
	EventDrifted  = "drifted"
	EventAppeared = "appeared"
	EventMissing  = "missing"
)

// Event is a change the watcher noticed outside the repository.
type Event struct {
	Kind string `json:"kind"`
	ID   string `json:"id,omitempty"`
	Path string `json:"path"`
}

// EventCallback receives watcher events.
type EventCallback func(Event)

const settleDelay = 200 * time.Millisecond

// Watch observes the notes directory until ctx is cancelled. A write whose
// body differs from the tracker's hash is reported as drift, a new file
// with an unknown id as appeared, and removal of a loaded note's file as
// missing. Nothing is merged or reloaded; callers decide what to do.
// Events are checked after a short settle delay so the repository's own
// writes are not mistaken for external edits.
func (r *Repository) Watch(ctx context.Context, cb EventCallback) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	root := r.store.Root()
	if err := w.Add(root); err != nil {
		return err
	}
	r.logger.Info("watcher: started", slog.String("root", root))

	pending := make(map[string]struct{})
	var settle *time.Timer
	var settleCh <-chan time.Time

	schedule := func(rel string) {
		pending[rel] = struct{}{}
		if settle == nil {
			settle = time.NewTimer(settleDelay)
			settleCh = settle.C
		} else {
			settle.Reset(settleDelay)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settle != nil {
				settle.Stop()
			}
			r.logger.Info("watcher: stopped")
			return nil

		case <-settleCh:
			for rel := range pending {
				r.checkPath(rel, cb)
			}
			clear(pending)

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			name := filepath.Base(ev.Name)
			if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, storage.NoteExt) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			schedule(name)

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.logger.Error("watcher: error", slog.String("error", watchErr.Error()))
		}
	}
}

// checkPath compares one file with what the repository believes.
func (r *Repository) checkPath(rel string, cb EventCallback) {
	owner := r.ownerOf(rel)

	data, err := r.store.Read(rel)
	if errors.Is(err, fs.ErrNotExist) {
		if owner != "" {
			r.logger.Warn("watcher: note file removed externally",
				slog.String("id", owner),
				slog.String("path", rel))
			emit(cb, Event{Kind: EventMissing, ID: owner, Path: rel})
		}
		return
	}
	if err != nil {
		r.logger.Warn("watcher: read failed", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}
	doc, err := parser.Decode(data)
	if err != nil {
		r.logger.Warn("watcher: unparsable note", slog.String("path", rel), slog.String("error", err.Error()))
		return
	}

	if owner != "" {
		if r.tracker.Drift(owner, doc.Body) {
			r.logger.Warn("watcher: external edit detected",
				slog.String("id", owner),
				slog.String("path", rel))
			emit(cb, Event{Kind: EventDrifted, ID: owner, Path: rel})
		}
		return
	}
	r.logger.Debug("watcher: new note file", slog.String("path", rel))
	emit(cb, Event{Kind: EventAppeared, ID: doc.Meta.ID, Path: rel})
}

func (r *Repository) ownerOf(rel string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.paths {
		if p == rel {
			return id
		}
	}
	return ""
}

func emit(cb EventCallback, ev Event) {
	if cb != nil {
		cb(ev)
	}
}
