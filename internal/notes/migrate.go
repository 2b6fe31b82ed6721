package notes

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"slices"
	"strings"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
)

// LegacyBackupPath is where the single-file collection is kept after
// migration, relative to the notes root.
const LegacyBackupPath = ".blink/notes.json.backup"

// MigrateLegacyJSON converts a single-file JSON collection (id -> note) into
// one file per note. The original is copied to LegacyBackupPath and then
// removed. It returns how many notes were written; a missing file, or an
// existing backup, means there is nothing to do. Run it before Load, which
// repairs any id or position clashes with files already present.
func (r *Repository) MigrateLegacyJSON(ctx context.Context, jsonPath string) (int, error) {
	raw, err := os.ReadFile(jsonPath)
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.E(apperr.ErrIO, "migrate legacy notes", err)
	}
	done, err := r.store.Exists(LegacyBackupPath)
	if err != nil {
		return 0, apperr.E(apperr.ErrIO, "migrate legacy notes", err)
	}
	if done {
		r.logger.Warn("repo: legacy notes file present but backup exists, skipping",
			slog.String("path", jsonPath))
		return 0, nil
	}

	var legacy map[string]*models.Note
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return 0, apperr.E(apperr.ErrSerialization, "migrate legacy notes", err)
	}

	ids := make([]string, 0, len(legacy))
	for id := range legacy {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	r.mu.Lock()
	written := 0
	for _, key := range ids {
		if err := ctx.Err(); err != nil {
			r.mu.Unlock()
			return written, err
		}
		n := legacy[key]
		if n == nil {
			continue
		}
		if strings.TrimSpace(n.ID) == "" {
			n.ID = key
		}
		n.Tags = models.NormalizeTags(n.Tags)
		if n.CreatedAt.IsZero() {
			n.CreatedAt = r.timestamp()
		}
		if n.UpdatedAt.IsZero() {
			n.UpdatedAt = n.CreatedAt
		}
		n.CreatedAt, n.UpdatedAt = n.CreatedAt.UTC(), n.UpdatedAt.UTC()
		if err := r.writeLocked(ctx, n); err != nil {
			r.mu.Unlock()
			return written, err
		}
		written++
	}
	r.mu.Unlock()

	if err := r.store.Write(LegacyBackupPath, raw); err != nil {
		return written, apperr.E(apperr.ErrIO, "backup legacy notes", err)
	}
	if err := os.Remove(jsonPath); err != nil {
		return written, apperr.E(apperr.ErrIO, "remove legacy notes", err)
	}
	r.logger.Info("repo: migrated legacy notes",
		slog.Int("count", written),
		slog.String("backup", LegacyBackupPath))
	return written, nil
}
