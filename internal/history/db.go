// Package history is a supplemental, non-authoritative run-history log.
// It is NOT the resume mechanism (that's internal/manifest's sidecar
// file, per spec §6) — this package only remembers what ran, for
// listing/auditing, the way the teacher's internal/engine/state package
// tracked a master list of downloads. Each run is keyed by its own UUID
// (not the Downloader's integer handle) and records a content type
// sniffed on finalize.
package history

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/tthsd/tthsd/internal/config"
)

var (
	dbMu   sync.Mutex
	dbConn *sql.DB
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	url TEXT NOT NULL,
	save_path TEXT NOT NULL,
	content_type TEXT,
	total_size INTEGER,
	status TEXT NOT NULL,
	started_at INTEGER,
	finished_at INTEGER
);
`

func getDB() (*sql.DB, error) {
	dbMu.Lock()
	defer dbMu.Unlock()
	if dbConn != nil {
		return dbConn, nil
	}

	if err := config.EnsureDirs(); err != nil {
		return nil, fmt.Errorf("history: ensure dirs: %w", err)
	}

	db, err := sql.Open("sqlite", config.GetHistoryDBPath())
	if err != nil {
		return nil, fmt.Errorf("history: open: %w", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("history: create schema: %w", err)
	}

	dbConn = db
	return dbConn, nil
}

func withTx(fn func(tx *sql.Tx) error) error {
	db, err := getDB()
	if err != nil {
		return err
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("history: begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// Close releases the underlying database handle. Intended for tests and
// graceful process shutdown.
func Close() error {
	dbMu.Lock()
	defer dbMu.Unlock()
	if dbConn == nil {
		return nil
	}
	err := dbConn.Close()
	dbConn = nil
	return err
}

// Reset drops the process-local handle so the next call reopens the
// configured path. Intended for tests that point TTHSD_HOME elsewhere.
func Reset() {
	dbMu.Lock()
	defer dbMu.Unlock()
	if dbConn != nil {
		dbConn.Close()
	}
	dbConn = nil
}
