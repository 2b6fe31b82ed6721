// Package storage defines the notes directory abstraction.
package storage

import "time"

// Entry describes one note file.
type Entry struct {
	Path    string    `json:"path"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// Provider is the interface for note file operations. Paths are relative
// to the notes directory.
type Provider interface {
	// Root returns the absolute notes directory.
	Root() string
	// List returns the note files directly inside dir, sorted by name.
	List(dir string) ([]Entry, error)
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
	// Write atomically replaces the file at path.
	Write(path string, content []byte) error
	// Delete removes the file at path.
	Delete(path string) error
	// Move renames oldPath to newPath.
	Move(oldPath, newPath string) error
	// Exists reports whether path exists.
	Exists(path string) (bool, error)
}
