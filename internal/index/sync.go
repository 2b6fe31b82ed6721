package index

import (
	"log/slog"

	"github.com/starford/blink/internal/checksum"
	"github.com/starford/blink/internal/models"
)

// EntryFor builds the index entry for n stored at path. The content hash
// is recomputed from the body.
func EntryFor(n *models.Note, path string) models.IndexEntry {
	hash := checksum.String(n.Content)
	var pos *int
	if n.Position != nil {
		p := *n.Position
		pos = &p
	}
	tags := append([]string(nil), n.Tags...)
	return models.IndexEntry{
		ID:          n.ID,
		Title:       n.Title,
		FilePath:    path,
		CreatedAt:   n.CreatedAt,
		UpdatedAt:   n.UpdatedAt,
		Tags:        tags,
		Position:    pos,
		ContentHash: &hash,
	}
}

// Rebuild replaces the whole index with entries for notes. pathOf resolves
// each note's file; notes it cannot resolve are skipped and logged.
func Rebuild(idx NoteIndex, notes []*models.Note, pathOf func(id string) (string, bool), logger *slog.Logger) error {
	entries := make([]models.IndexEntry, 0, len(notes))
	for _, n := range notes {
		p, ok := pathOf(n.ID)
		if !ok {
			logger.Warn("index: rebuild skipped note without file", slog.String("id", n.ID))
			continue
		}
		entries = append(entries, EntryFor(n, p))
	}
	if err := idx.Replace(entries); err != nil {
		return err
	}
	logger.Debug("index: rebuilt", slog.Int("entries", len(entries)))
	return nil
}
