package notes

import (
	"context"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/starford/blink/internal/index"
	"github.com/starford/blink/internal/models"
	"github.com/starford/blink/internal/parser"
)

// FileError is a note file that could not be loaded.
type FileError struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// IDRepair records a duplicate id that was replaced.
type IDRepair struct {
	Path  string `json:"path"`
	OldID string `json:"old_id"`
	NewID string `json:"new_id"`
}

// LoadReport describes what Load found and fixed.
type LoadReport struct {
	Loaded          int              `json:"loaded"`
	Skipped         []FileError      `json:"skipped,omitempty"`
	Synthesized     []string         `json:"synthesized,omitempty"`
	DuplicateIDs    []IDRepair       `json:"duplicate_ids,omitempty"`
	PositionRepairs []PositionRepair `json:"position_repairs,omitempty"`
	Rewritten       []string         `json:"rewritten,omitempty"`
	WriteFailures   []FileError      `json:"write_failures,omitempty"`
	Drifted         []string         `json:"drifted,omitempty"`
	IndexError      string           `json:"index_error,omitempty"`
}

// Repaired reports whether Load changed anything on disk.
func (r *LoadReport) Repaired() bool {
	return len(r.Rewritten) > 0
}

// legacyNamespace seeds deterministic ids for files without one.
var legacyNamespace = uuid.NameSpaceDNS

type candidate struct {
	note     *models.Note
	path     string
	diskBody string
	rewrite  bool
}

// Load reads every note file, repairs duplicate ids and position conflicts,
// rewrites repaired files, re-initialises the tracker and replaces the
// index. A missing notes directory fails with apperr.ErrStorage; a file
// that cannot be read or parsed is skipped and reported.
func (r *Repository) Load(ctx context.Context) (map[string]*models.Note, *LoadReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.store.List("")
	if err != nil {
		return nil, nil, err
	}

	priorPaths, err := r.idx.Paths()
	if err != nil {
		r.logger.Warn("repo: index paths unavailable", slog.String("error", err.Error()))
		priorPaths = map[string]string{}
	}
	priorPositions, err := r.idx.Positions()
	if err != nil {
		r.logger.Warn("repo: index positions unavailable", slog.String("error", err.Error()))
		priorPositions = map[int]string{}
	}

	report := &LoadReport{}
	var cands []*candidate
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		c, err := r.readCandidate(e.Path, e.ModTime.UTC())
		if err != nil {
			r.logger.Warn("repo: skipped note file",
				slog.String("path", e.Path),
				slog.String("error", err.Error()))
			report.Skipped = append(report.Skipped, FileError{Path: e.Path, Err: err.Error()})
			continue
		}
		if c.rewrite {
			report.Synthesized = append(report.Synthesized, c.path)
		}
		cands = append(cands, c)
	}

	byID := r.resolveDuplicates(cands, priorPaths, report)

	list := make([]*models.Note, 0, len(byID))
	for _, c := range cands {
		list = append(list, c.note)
	}
	conflicts := DetectConflicts(list, priorPositions)
	repairs := ApplyRepairs(noteMap(byID), conflicts)
	for _, rep := range repairs {
		byID[rep.NoteID].rewrite = true
		r.logger.Info("repo: repaired position",
			slog.String("id", rep.NoteID),
			slog.Int("from", rep.From),
			slog.Int("to", rep.To))
	}
	report.PositionRepairs = repairs

	for _, c := range cands {
		if !c.rewrite {
			continue
		}
		data, err := parser.Encode(c.note)
		if err == nil {
			err = r.store.Write(c.path, data)
		}
		if err != nil {
			r.logger.Warn("repo: rewrite failed", slog.String("path", c.path), slog.String("error", err.Error()))
			report.WriteFailures = append(report.WriteFailures, FileError{Path: c.path, Err: err.Error()})
			continue
		}
		c.diskBody = c.note.Content
		report.Rewritten = append(report.Rewritten, c.path)
	}

	notes := make(map[string]*models.Note, len(cands))
	paths := make(map[string]string, len(cands))
	keep := make(map[string]struct{}, len(cands))
	for _, c := range cands {
		id := c.note.ID
		if r.tracker.Drift(id, c.diskBody) {
			r.logger.Warn("repo: external edit detected", slog.String("id", id), slog.String("path", c.path))
			report.Drifted = append(report.Drifted, id)
		}
		r.tracker.InitializeNote(id, c.diskBody)
		notes[id] = c.note
		paths[id] = c.path
		keep[id] = struct{}{}
	}
	if dropped := r.tracker.Retain(keep); len(dropped) > 0 {
		r.logger.Debug("repo: tracker dropped vanished notes", slog.Int("count", len(dropped)))
	}
	r.notes, r.paths = notes, paths
	report.Loaded = len(notes)

	if err := index.Rebuild(r.idx, slices.Collect(maps.Values(notes)), func(id string) (string, bool) {
		p, ok := paths[id]
		return p, ok
	}, r.logger); err != nil {
		r.logger.Warn("repo: index rebuild failed", slog.String("error", err.Error()))
		report.IndexError = err.Error()
	}

	r.logger.Info("repo: loaded notes",
		slog.Int("loaded", report.Loaded),
		slog.Int("skipped", len(report.Skipped)),
		slog.Int("rewritten", len(report.Rewritten)))

	out := make(map[string]*models.Note, len(notes))
	for id, n := range notes {
		out[id] = n.Clone()
	}
	return out, report, nil
}

// readCandidate decodes one file, synthesising metadata for files written
// before frontmatter existed.
func (r *Repository) readCandidate(path string, modTime time.Time) (*candidate, error) {
	data, err := r.store.Read(path)
	if err != nil {
		return nil, err
	}
	doc, err := parser.Decode(data)
	if err != nil {
		return nil, err
	}
	n := doc.Note()
	c := &candidate{note: n, path: path, diskBody: doc.Body}
	stem := fileStem(path)

	if n.ID == "" {
		n.ID = uuid.NewSHA1(legacyNamespace, []byte(stem)).String()
		c.rewrite = true
	}
	if !doc.HasFrontmatter {
		n.Title = parser.LegacyTitle(doc.Body, stem)
		c.rewrite = true
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = modTime
		if modTime.IsZero() {
			n.CreatedAt = r.timestamp()
		}
		c.rewrite = true
	}
	if n.UpdatedAt.IsZero() {
		n.UpdatedAt = n.CreatedAt
		c.rewrite = true
	}
	return c, nil
}

// resolveDuplicates keeps one candidate per id and gives every other
// claimant a fresh random id. The claimant whose file the index already
// maps to the id keeps it; otherwise the first file in name order does.
func (r *Repository) resolveDuplicates(cands []*candidate, priorPaths map[string]string, report *LoadReport) map[string]*candidate {
	groups := make(map[string][]*candidate, len(cands))
	for _, c := range cands {
		groups[c.note.ID] = append(groups[c.note.ID], c)
	}

	byID := make(map[string]*candidate, len(cands))
	var losers []*candidate
	for _, c := range cands {
		id := c.note.ID
		if _, done := byID[id]; done {
			continue
		}
		group := groups[id]
		winner := group[0]
		if p, ok := priorPaths[id]; ok {
			for _, g := range group {
				if g.path == p {
					winner = g
					break
				}
			}
		}
		byID[id] = winner
		for _, g := range group {
			if g != winner {
				losers = append(losers, g)
			}
		}
	}

	slices.SortStableFunc(losers, func(a, b *candidate) int {
		return strings.Compare(a.path, b.path)
	})
	for _, c := range losers {
		old := c.note.ID
		var id string
		for {
			id = r.newID()
			_, inUse := byID[id]
			_, claimed := groups[id]
			if id != "" && !inUse && !claimed {
				break
			}
		}
		c.note.ID = id
		c.note.UpdatedAt = r.timestamp()
		c.rewrite = true
		byID[id] = c
		report.DuplicateIDs = append(report.DuplicateIDs, IDRepair{Path: c.path, OldID: old, NewID: id})
		r.logger.Info("repo: reassigned duplicate id",
			slog.String("path", c.path),
			slog.String("old_id", old),
			slog.String("new_id", id))
	}
	return byID
}

func noteMap(byID map[string]*candidate) map[string]*models.Note {
	out := make(map[string]*models.Note, len(byID))
	for id, c := range byID {
		out[id] = c.note
	}
	return out
}
