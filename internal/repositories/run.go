// Package repositories implements SQLite persistence for the run ledger.
//
// The ledger is the local diagnostic trail for pipeline executions: one row
// per run recording what was fetched, written, and advanced. It is strictly
// observational; pipeline correctness never depends on it.
package repositories

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/soundfold/playlog/internal/models"
)

// RunRepository persists [models.IngestRun] rows.
type RunRepository struct {
	db *sql.DB
}

// NewRunRepository creates a new [RunRepository] with the given database connection.
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Record inserts a completed run into the ledger.
func (r *RunRepository) Record(run *models.IngestRun) error {
	if run.ID == "" {
		return fmt.Errorf("run is missing an ID")
	}

	query := `
		INSERT INTO ingest_runs (
			id, kind, outcome, started_at, finished_at,
			events_fetched, events_ingested, malformed_count,
			output_location, watermark_before, watermark_after, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.Exec(query,
		run.ID, run.Kind, run.Outcome, run.StartedAt.UTC(), run.FinishedAt.UTC(),
		run.EventsFetched, run.EventsIngested, run.MalformedCount,
		nullString(run.OutputLocation), nullInt64(run.WatermarkBefore), nullInt64(run.WatermarkAfter),
		nullString(run.Error),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// List returns the most recent runs, newest first.
func (r *RunRepository) List(limit int) ([]models.IngestRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT id, kind, outcome, started_at, finished_at,
			events_fetched, events_ingested, malformed_count,
			output_location, watermark_before, watermark_after, error
		FROM ingest_runs
		ORDER BY started_at DESC
		LIMIT ?
	`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []models.IngestRun
	for rows.Next() {
		var (
			run             models.IngestRun
			startedAt       time.Time
			finishedAt      time.Time
			location        sql.NullString
			watermarkBefore sql.NullInt64
			watermarkAfter  sql.NullInt64
			errText         sql.NullString
		)

		if err := rows.Scan(
			&run.ID, &run.Kind, &run.Outcome, &startedAt, &finishedAt,
			&run.EventsFetched, &run.EventsIngested, &run.MalformedCount,
			&location, &watermarkBefore, &watermarkAfter, &errText,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}

		run.StartedAt = startedAt
		run.FinishedAt = finishedAt
		run.OutputLocation = location.String
		run.Error = errText.String
		if watermarkBefore.Valid {
			v := watermarkBefore.Int64
			run.WatermarkBefore = &v
		}
		if watermarkAfter.Valid {
			v := watermarkAfter.Int64
			run.WatermarkAfter = &v
		}

		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}

	return runs, nil
}

// LastSuccessful returns the most recent run of the given kind that ingested
// data, or nil when none exists.
func (r *RunRepository) LastSuccessful(kind string) (*models.IngestRun, error) {
	query := `
		SELECT id, kind, outcome, started_at, finished_at,
			events_fetched, events_ingested, malformed_count,
			output_location, watermark_before, watermark_after, error
		FROM ingest_runs
		WHERE kind = ? AND outcome = ?
		ORDER BY started_at DESC
		LIMIT 1
	`

	var (
		run             models.IngestRun
		startedAt       time.Time
		finishedAt      time.Time
		location        sql.NullString
		watermarkBefore sql.NullInt64
		watermarkAfter  sql.NullInt64
		errText         sql.NullString
	)

	err := r.db.QueryRow(query, kind, models.OutcomeIngested).Scan(
		&run.ID, &run.Kind, &run.Outcome, &startedAt, &finishedAt,
		&run.EventsFetched, &run.EventsIngested, &run.MalformedCount,
		&location, &watermarkBefore, &watermarkAfter, &errText,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query last successful run: %w", err)
	}

	run.StartedAt = startedAt
	run.FinishedAt = finishedAt
	run.OutputLocation = location.String
	run.Error = errText.String
	if watermarkBefore.Valid {
		v := watermarkBefore.Int64
		run.WatermarkBefore = &v
	}
	if watermarkAfter.Valid {
		v := watermarkAfter.Int64
		run.WatermarkAfter = &v
	}

	return &run, nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt64(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
