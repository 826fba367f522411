package history

import (
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/h2non/filetype"

	"github.com/tthsd/tthsd/internal/engine/types"
)

// Record is one row of the supplemental run-history log. It mirrors the
// lifecycle of one fileTask, but is written best-effort and is never
// consulted to decide whether a download can resume — that's
// internal/manifest's job.
type Record struct {
	ID          string
	URL         string
	SavePath    string
	ContentType string
	TotalSize   int64
	Status      string
	StartedAt   int64
	FinishedAt  int64
}

// Begin records the start of a file download and returns its history ID.
// Best-effort: a write failure here must never fail the download itself,
// so callers log and continue rather than abort.
func Begin(url, savePath string, total int64) (string, error) {
	id := uuid.New().String()
	err := withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO runs (id, url, save_path, total_size, status, started_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, id, url, savePath, total, types.StateRunning.String(), time.Now().Unix())
		return err
	})
	if err != nil {
		return "", fmt.Errorf("history: begin: %w", err)
	}
	return id, nil
}

// Finish marks a run terminal and, on success, sniffs the finalized
// file's content type for the record (spec's finalize step has no
// content-type concept of its own; this is purely informational).
func Finish(id string, status types.State, savePath string) error {
	contentType := ""
	if status == types.StateDone {
		if ct, err := sniffContentType(savePath); err == nil {
			contentType = ct
		}
	}

	return withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			UPDATE runs SET status = ?, content_type = ?, finished_at = ?
			WHERE id = ?
		`, status.String(), contentType, time.Now().Unix(), id)
		return err
	})
}

func sniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	head := make([]byte, 261)
	n, err := f.Read(head)
	if err != nil && n == 0 {
		return "", err
	}
	kind, err := filetype.Match(head[:n])
	if err != nil {
		return "", err
	}
	if kind == filetype.Unknown {
		return "", nil
	}
	return kind.MIME.Value, nil
}

// Get returns a single run record by ID, or nil if it doesn't exist.
func Get(id string) (*Record, error) {
	db, err := getDB()
	if err != nil {
		return nil, err
	}

	var r Record
	var contentType sql.NullString
	var finishedAt sql.NullInt64
	row := db.QueryRow(`
		SELECT id, url, save_path, content_type, total_size, status, started_at, finished_at
		FROM runs WHERE id = ?
	`, id)
	if err := row.Scan(&r.ID, &r.URL, &r.SavePath, &contentType, &r.TotalSize, &r.Status, &r.StartedAt, &finishedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("history: get: %w", err)
	}
	r.ContentType = contentType.String
	r.FinishedAt = finishedAt.Int64
	return &r, nil
}

// Recent returns the most recently started runs, newest first, bounded
// by limit.
func Recent(limit int) ([]Record, error) {
	db, err := getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.Query(`
		SELECT id, url, save_path, content_type, total_size, status, started_at, finished_at
		FROM runs ORDER BY started_at DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var r Record
		var contentType sql.NullString
		var finishedAt sql.NullInt64
		if err := rows.Scan(&r.ID, &r.URL, &r.SavePath, &contentType, &r.TotalSize, &r.Status, &r.StartedAt, &finishedAt); err != nil {
			return nil, err
		}
		r.ContentType = contentType.String
		r.FinishedAt = finishedAt.Int64
		out = append(out, r)
	}
	return out, nil
}
