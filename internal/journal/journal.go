// Package journal persists per-file sync outcomes in SQLite so a finished
// run can be inspected and its failures re-driven.
package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/astrobak/astrobak/internal/db"
	"github.com/astrobak/astrobak/internal/sync"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
    id TEXT PRIMARY KEY,
    root TEXT NOT NULL,
    bucket TEXT NOT NULL,
    started_at TEXT NOT NULL,  -- RFC3339
    finished_at TEXT
);

CREATE TABLE IF NOT EXISTS run_files (
    run_id TEXT NOT NULL REFERENCES runs(id),
    path TEXT NOT NULL,
    key TEXT NOT NULL,
    size INTEGER NOT NULL,
    etag TEXT NOT NULL DEFAULT '',
    outcome TEXT NOT NULL,
    uploaded INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT '',
    recorded_at TEXT NOT NULL,
    PRIMARY KEY (run_id, path)
);

CREATE INDEX IF NOT EXISTS idx_run_files_outcome ON run_files(run_id, outcome);
`

const outcomeFailed = "failed"

// Journal owns the SQLite database holding run history.
type Journal struct {
	db     *sqlx.DB
	dbPath string
}

func New(dbPath string) *Journal {
	return &Journal{dbPath: dbPath}
}

func (j *Journal) Open() error {
	if j.db != nil {
		return fmt.Errorf("journal already open")
	}

	database, err := db.NewSqliteDB(db.WithPath(j.dbPath), db.WithMaxOpenConns(1))
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}
	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return fmt.Errorf("initialize journal schema: %w", err)
	}

	j.db = database
	return nil
}

func (j *Journal) Close() error {
	if j.db == nil {
		return fmt.Errorf("journal not open")
	}
	if err := j.db.Close(); err != nil {
		slog.Error("journal close", "error", err)
		return err
	}
	j.db = nil
	return nil
}

// Run scopes outcome records to one sync invocation. It implements
// sync.Recorder.
type Run struct {
	ID        string
	StartedAt time.Time

	journal *Journal
}

// StartRun inserts a new run row and returns its recorder.
func (j *Journal) StartRun(root, bucket string) (*Run, error) {
	run := &Run{
		ID:        uuid.NewString(),
		StartedAt: time.Now().UTC(),
		journal:   j,
	}
	_, err := j.db.Exec(
		"INSERT INTO runs (id, root, bucket, started_at) VALUES (?, ?, ?, ?)",
		run.ID, root, bucket, run.StartedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}
	return run, nil
}

// RecordOutcome upserts the terminal outcome for one file. Re-recording a
// path within the same run overwrites the earlier row, which is what the
// retry path wants.
func (r *Run) RecordOutcome(rec *sync.OutcomeRecord) error {
	outcome := rec.Outcome.String()
	if rec.Error != "" {
		outcome = outcomeFailed
	}
	uploaded := 0
	if rec.Uploaded {
		uploaded = 1
	}
	_, err := r.journal.db.Exec(
		`INSERT OR REPLACE INTO run_files (run_id, path, key, size, etag, outcome, uploaded, error, recorded_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, rec.Path, rec.Key, rec.Size, rec.ETag, outcome, uploaded, rec.Error,
		time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// Finish stamps the run as completed.
func (r *Run) Finish() error {
	_, err := r.journal.db.Exec(
		"UPDATE runs SET finished_at = ? WHERE id = ?",
		time.Now().UTC().Format(time.RFC3339), r.ID,
	)
	return err
}

// FailedFile is one file whose terminal outcome was failure.
type FailedFile struct {
	Path  string `db:"path"`
	Key   string `db:"key"`
	Size  int64  `db:"size"`
	Error string `db:"error"`
}

// FailedFiles returns the failures of a run, oldest first.
func (j *Journal) FailedFiles(runID string) ([]FailedFile, error) {
	var failed []FailedFile
	err := j.db.Select(&failed,
		"SELECT path, key, size, error FROM run_files WHERE run_id = ? AND outcome = ? ORDER BY recorded_at",
		runID, outcomeFailed,
	)
	if err != nil {
		return nil, fmt.Errorf("failed files for run %s: %w", runID, err)
	}
	return failed, nil
}

// LastRunID returns the most recently started run, or "" when none exist.
func (j *Journal) LastRunID() (string, error) {
	var id string
	err := j.db.Get(&id, "SELECT id FROM runs ORDER BY started_at DESC LIMIT 1")
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

// RunSummary aggregates the recorded outcomes of one run.
type RunSummary struct {
	RunID    string
	Uploaded int64
	Skipped  int64
	Failed   int64
}

// Summary tallies a run's rows. Skipped counts both full and size-only
// matches.
func (j *Journal) Summary(runID string) (*RunSummary, error) {
	rows, err := j.db.Queryx(
		"SELECT outcome, COUNT(*) AS n, SUM(uploaded) AS up FROM run_files WHERE run_id = ? GROUP BY outcome",
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	summary := &RunSummary{RunID: runID}
	for rows.Next() {
		var outcome string
		var n, up int64
		if err := rows.Scan(&outcome, &n, &up); err != nil {
			return nil, err
		}
		switch outcome {
		case outcomeFailed:
			summary.Failed += n
		case "match", "match_size_only":
			summary.Skipped += n
		default:
			summary.Uploaded += up
		}
	}
	return summary, rows.Err()
}
