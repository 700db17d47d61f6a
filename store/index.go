package store

import (
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/forgeflow/jobengine/jobstate"
)

// SQLiteIndex mirrors job metadata into a single-file SQLite database as a
// query accelerator for List() over large job counts. The per-job
// state.json tree under Store's root remains the sole source of truth;
// this index can always be rebuilt by rescanning that tree, so its own
// durability requirements are looser than the store's (WAL mode is enough,
// no write-then-rename needed here).
type SQLiteIndex struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteIndex opens (creating if absent) a SQLite index database at path.
func NewSQLiteIndex(path string) (*SQLiteIndex, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite index: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS jobs (
			job_id TEXT PRIMARY KEY,
			workflow_id TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
		CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create jobs table: %w", err)
	}
	return &SQLiteIndex{db: db}, nil
}

// Upsert records or updates a job's index row; on conflict only the status
// is updated. Neither Store.Save nor the engine calls it, so the row
// changes only when a caller calls Upsert.
func (idx *SQLiteIndex) Upsert(meta jobstate.JobMetadata) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`
		INSERT INTO jobs (job_id, workflow_id, status, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(job_id) DO UPDATE SET status=excluded.status
	`, meta.JobID, meta.WorkflowID, string(meta.Status), meta.CreatedAt)
	return err
}

// Remove drops a job's index row. Store.Delete does not call it.
func (idx *SQLiteIndex) Remove(jobID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	_, err := idx.db.Exec(`DELETE FROM jobs WHERE job_id = ?`, jobID)
	return err
}

// JobIDs returns job ids matching an optional status filter, newest first,
// capped at limit (0 = unlimited). It returns ids only; loading each
// job's metadata is left to the caller. Engine.List and Store.List do not
// consult the index.
func (idx *SQLiteIndex) JobIDs(status jobstate.JobStatus, limit int) ([]string, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	query := `SELECT job_id FROM jobs`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := idx.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Rebuild truncates and repopulates the index from summaries, such as a
// full directory scan from Store.List returns. Nothing in this module
// calls it or detects a missing or stale index.
func (idx *SQLiteIndex) Rebuild(summaries []Summary) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	tx, err := idx.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM jobs`); err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO jobs (job_id, workflow_id, status, created_at) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, s := range summaries {
		if _, err := stmt.Exec(s.Metadata.JobID, s.Metadata.WorkflowID, string(s.Metadata.Status), s.Metadata.CreatedAt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// Close releases the underlying database handle.
func (idx *SQLiteIndex) Close() error {
	return idx.db.Close()
}
