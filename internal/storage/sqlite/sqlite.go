// Package sqlite persists spot-finding runs and their filter passes so a
// processing session can be reconstructed and compared later. The schema is
// managed with golang-migrate; see the migrations directory.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// DB wraps the sql handle so migration helpers can hang off it.
type DB struct {
	*sql.DB
}

// Open opens (or creates) the run-log database and applies the session
// pragmas. WAL keeps concurrent readers out of the writer's way; the busy
// timeout backs up retryOnBusy.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("exec %q: %w", pragma, err)
		}
	}

	return &DB{db}, nil
}
