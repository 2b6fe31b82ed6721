package index

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/blink/internal/apperr"
	"github.com/starford/blink/internal/models"
)

// timeLayout is fixed-width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const selectColumns = `id, title, file_path, created_at, updated_at, tags, position, content_hash`

const upsertSQL = `
	INSERT INTO notes (id, title, file_path, created_at, updated_at, tags, position, content_hash)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		title        = excluded.title,
		file_path    = excluded.file_path,
		created_at   = excluded.created_at,
		updated_at   = excluded.updated_at,
		tags         = excluded.tags,
		position     = excluded.position,
		content_hash = excluded.content_hash
`

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// Upsert inserts or replaces the entry for e.ID. Any other entry claiming
// the same file path is removed first.
func (db *DB) Upsert(e models.IndexEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if _, err := tx.Exec(`DELETE FROM notes WHERE file_path = ? AND id <> ?`, e.FilePath, e.ID); err != nil {
		return fmt.Errorf("index: clear path owner: %w", err)
	}
	if err := upsert(tx, e); err != nil {
		return err
	}
	return tx.Commit()
}

// Replace discards every entry and inserts entries in one transaction.
func (db *DB) Replace(entries []models.IndexEntry) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.Exec(`DELETE FROM notes`); err != nil {
		return fmt.Errorf("index: clear: %w", err)
	}
	for _, e := range entries {
		if err := upsert(tx, e); err != nil {
			return err
		}
	}
	if err := setMeta(tx, metaLastRebuild, time.Now().UTC().Format(timeLayout)); err != nil {
		return err
	}
	return tx.Commit()
}

func upsert(x execer, e models.IndexEntry) error {
	tags := e.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("index: encode tags: %w", err)
	}
	var pos sql.NullInt64
	if e.Position != nil {
		pos = sql.NullInt64{Int64: int64(*e.Position), Valid: true}
	}
	var hash sql.NullString
	if e.ContentHash != nil {
		hash = sql.NullString{String: *e.ContentHash, Valid: true}
	}
	_, err = x.Exec(upsertSQL,
		e.ID, e.Title, e.FilePath,
		e.CreatedAt.UTC().Format(timeLayout), e.UpdatedAt.UTC().Format(timeLayout),
		string(tagsJSON), pos, hash)
	if err != nil {
		return fmt.Errorf("index: upsert %s: %w", e.ID, err)
	}
	return nil
}

// Get returns the entry for id, or an apperr.ErrNotFound.
func (db *DB) Get(id string) (*models.IndexEntry, error) {
	row := db.conn.QueryRow(`SELECT `+selectColumns+` FROM notes WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("index: get", id)
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// FilePath returns the recorded file path for id. ok is false when the
// index has no entry.
func (db *DB) FilePath(id string) (path string, ok bool, err error) {
	err = db.conn.QueryRow(`SELECT file_path FROM notes WHERE id = ?`, id).Scan(&path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: file path: %w", err)
	}
	return path, true, nil
}

// ListOrdered returns every entry in display order: positioned entries by
// position, then the rest newest first.
func (db *DB) ListOrdered() ([]models.IndexEntry, error) {
	rows, err := db.conn.Query(`SELECT ` + selectColumns + ` FROM notes
		ORDER BY position IS NULL, position ASC, created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("index: list: %w", err)
	}
	defer rows.Close()

	var out []models.IndexEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

// Positions maps each recorded position to the id holding it.
func (db *DB) Positions() (map[int]string, error) {
	rows, err := db.conn.Query(`SELECT position, id FROM notes WHERE position IS NOT NULL ORDER BY position, id`)
	if err != nil {
		return nil, fmt.Errorf("index: positions: %w", err)
	}
	defer rows.Close()
	out := make(map[int]string)
	for rows.Next() {
		var (
			pos int
			id  string
		)
		if err := rows.Scan(&pos, &id); err != nil {
			return nil, err
		}
		if _, taken := out[pos]; !taken {
			out[pos] = id
		}
	}
	return out, rows.Err()
}

// Paths maps every indexed id to its file path.
func (db *DB) Paths() (map[string]string, error) {
	rows, err := db.conn.Query(`SELECT id, file_path FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: paths: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var id, p string
		if err := rows.Scan(&id, &p); err != nil {
			return nil, err
		}
		out[id] = p
	}
	return out, rows.Err()
}

// Delete removes the entry for id. Deleting a missing id is not an error.
func (db *DB) Delete(id string) error {
	if _, err := db.conn.Exec(`DELETE FROM notes WHERE id = ?`, id); err != nil {
		return fmt.Errorf("index: delete %s: %w", id, err)
	}
	return nil
}

// Count returns the number of entries.
func (db *DB) Count() (int, error) {
	var n int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM notes`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (*models.IndexEntry, error) {
	var (
		e                models.IndexEntry
		created, updated string
		tagsJSON         string
		pos              sql.NullInt64
		hash             sql.NullString
	)
	if err := s.Scan(&e.ID, &e.Title, &e.FilePath, &created, &updated, &tagsJSON, &pos, &hash); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("index: scan: %w", err)
	}
	var err error
	if e.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
		return nil, fmt.Errorf("index: parse created_at of %s: %w", e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(timeLayout, updated); err != nil {
		return nil, fmt.Errorf("index: parse updated_at of %s: %w", e.ID, err)
	}
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return nil, fmt.Errorf("index: decode tags of %s: %w", e.ID, err)
	}
	if e.Tags == nil {
		e.Tags = []string{}
	}
	if pos.Valid {
		p := int(pos.Int64)
		e.Position = &p
	}
	if hash.Valid {
		h := hash.String
		e.ContentHash = &h
	}
	return &e, nil
}
