package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// DB wraps an embedded SQLite database file.
type DB struct {
	*sql.DB
	path string
}

// Open opens (creating if needed) the SQLite file at path.
// The parent directory is created when missing.
func Open(ctx context.Context, path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// Single writer; readers stream from the same connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	for _, pragma := range []string{
		`PRAGMA journal_mode=DELETE`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA temp_store=FILE`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}

	return &DB{DB: db, path: path}, nil
}

// Path returns the database file location.
func (d *DB) Path() string {
	return d.path
}

// RemoveFiles deletes the database file and its journal siblings.
// Reports whether anything existed.
func RemoveFiles(path string) (bool, error) {
	existed := false
	for _, p := range []string{path, path + "-journal", path + "-wal", path + "-shm"} {
		err := os.Remove(p)
		switch {
		case err == nil:
			existed = true
		case errors.Is(err, fs.ErrNotExist):
		default:
			return existed, fmt.Errorf("remove %s: %w", p, err)
		}
	}
	return existed, nil
}
