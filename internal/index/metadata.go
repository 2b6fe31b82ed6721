package index

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const metaLastRebuild = "last_rebuild"

func setMeta(x execer, key, value string) error {
	_, err := x.Exec(`INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("index: set metadata %s: %w", key, err)
	}
	return nil
}

// SetMeta stores a metadata value.
func (db *DB) SetMeta(key, value string) error {
	return setMeta(db.conn, key, value)
}

// Meta returns a metadata value; ok is false when unset.
func (db *DB) Meta(key string) (value string, ok bool, err error) {
	err = db.conn.QueryRow(`SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("index: metadata %s: %w", key, err)
	}
	return value, true, nil
}

// LastRebuild returns when Replace last ran, or the zero time.
func (db *DB) LastRebuild() (time.Time, error) {
	v, ok, err := db.Meta(metaLastRebuild)
	if err != nil || !ok {
		return time.Time{}, err
	}
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("index: parse last rebuild: %w", err)
	}
	return t, nil
}
