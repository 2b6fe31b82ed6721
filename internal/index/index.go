package index

import (
	"time"

	"github.com/starford/blink/internal/models"
)

// NoteIndex defines the interface for note indexing operations.
// Consumers should depend on this interface rather than the concrete *DB type
// to facilitate testing with mocks.
type NoteIndex interface {
	Upsert(e models.IndexEntry) error
	Replace(entries []models.IndexEntry) error
	Get(id string) (*models.IndexEntry, error)
	FilePath(id string) (string, bool, error)
	ListOrdered() ([]models.IndexEntry, error)
	Positions() (map[int]string, error)
	Paths() (map[string]string, error)
	Delete(id string) error
	Count() (int, error)
	LastRebuild() (time.Time, error)
	Close() error
}

// Verify *DB satisfies NoteIndex at compile time.
var _ NoteIndex = (*DB)(nil)
