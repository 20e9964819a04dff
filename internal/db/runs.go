package db

import (
	"context"
	"database/sql"
	"time"
)

const runColumns = `run_id, window_start, started_at, completed_at, status, record_count, location, error`

// CreateCollectionRun inserts a run in the running state
func (db *DB) CreateCollectionRun(ctx context.Context, run *CollectionRun) error {
	query := `
		INSERT INTO collection_runs (` + runColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	status := run.Status
	if status == "" {
		status = RunStatusRunning
	}

	_, err := db.ExecContext(ctx, query,
		run.RunID,
		run.WindowStart.UTC(),
		run.StartedAt.UTC(),
		utcPtr(run.CompletedAt),
		status,
		run.RecordCount,
		run.Location,
		run.Error,
	)
	if IsDuplicate(err) {
		return ErrDuplicate
	}
	return err
}

// CompleteCollectionRun records the outcome of a run
func (db *DB) CompleteCollectionRun(ctx context.Context, runID string, completedAt time.Time, status string, recordCount int, location, errMsg *string) error {
	query := `
		UPDATE collection_runs
		SET completed_at = ?, status = ?, record_count = ?, location = ?, error = ?
		WHERE run_id = ?
	`

	result, err := db.ExecContext(ctx, query, completedAt.UTC(), status, recordCount, location, errMsg, runID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// GetCollectionRun retrieves a run by its id
func (db *DB) GetCollectionRun(ctx context.Context, runID string) (*CollectionRun, error) {
	query := `SELECT ` + runColumns + ` FROM collection_runs WHERE run_id = ?`

	run, err := scanRun(db.QueryRowContext(ctx, query, runID))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListCollectionRuns returns the most recent runs first
func (db *DB) ListCollectionRuns(ctx context.Context, limit int) ([]CollectionRun, error) {
	query := `
		SELECT ` + runColumns + `
		FROM collection_runs
		ORDER BY started_at DESC, run_id DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []CollectionRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return runs, nil
}

// GetRunSummary aggregates the whole run history
func (db *DB) GetRunSummary(ctx context.Context) (*RunSummary, error) {
	summary := &RunSummary{}

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN status IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status IN (?, ?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(record_count), 0)
		FROM collection_runs
	`

	err := db.QueryRowContext(ctx, query,
		RunStatusPersisted, RunStatusEmpty,
		RunStatusRejected, RunStatusTransportFailure, RunStatusStorageFailure,
	).Scan(
		&summary.TotalRuns,
		&summary.SucceededRuns,
		&summary.FailedRuns,
		&summary.RecordsCollected,
	)
	if err != nil {
		return nil, err
	}

	// selected as a plain column so the driver parses it as a timestamp
	var last time.Time
	err = db.QueryRowContext(ctx, `
		SELECT completed_at FROM collection_runs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL
		ORDER BY completed_at DESC
		LIMIT 1
	`, RunStatusPersisted, RunStatusEmpty).Scan(&last)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, err
	default:
		summary.LastSuccessAt = &last
	}

	return summary, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*CollectionRun, error) {
	run := &CollectionRun{}
	err := row.Scan(
		&run.RunID,
		&run.WindowStart,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Status,
		&run.RecordCount,
		&run.Location,
		&run.Error,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
