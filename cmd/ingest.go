package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/tasks"
	"github.com/urfave/cli/v3"
)

// Ingest runs one incremental ingestion execution.
func (r *Runner) Ingest(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	result, err := r.engine.Ingest(ctx, tasks.IngestOpts{DryRun: cmd.Bool("dry-run")})
	if err != nil {
		return r.describeAuthError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}

	if result.DryRun {
		r.writePlain("Dry run: %d new events would be ingested (%d fetched, %d malformed, %d pages)\n",
			result.EventsIngested, result.EventsFetched, result.Malformed, result.Pages)
		return nil
	}

	if result.Outcome == models.OutcomeNoNewData {
		return r.writePlain("No new listening events since the last run\n")
	}

	r.writePlain("✓ Ingested %d events (%d fetched, %d malformed, %d pages)\n",
		result.EventsIngested, result.EventsFetched, result.Malformed, result.Pages)
	r.writePlain("Written to: %s\n", result.Location)
	if !result.Watermark.IsZero() {
		r.writePlain("Watermark: %s\n", result.Watermark.UTC().Format(time.RFC3339))
	}
	return nil
}

// Backfill fetches all retained history into a separate batch.
func (r *Runner) Backfill(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	result, err := r.engine.Backfill(ctx, tasks.IngestOpts{})
	if err != nil {
		return r.describeAuthError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}

	if result.Outcome == models.OutcomeNoNewData {
		return r.writePlain("Provider returned no retained history\n")
	}

	r.writePlain("✓ Backfilled %d events across %d pages (%d malformed)\n",
		result.EventsIngested, result.Pages, result.Malformed)
	return r.writePlain("Written to: %s\n", result.Location)
}

// Enrich fetches artist details for everything already ingested.
func (r *Runner) Enrich(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	result, err := r.engine.Enrich(ctx)
	if err != nil {
		return r.describeAuthError(err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(result, cmd.Bool("pretty"))
	}

	if result.ArtistsFound == 0 {
		return r.writePlain("No artists found in ingested batches (%d files scanned)\n", result.FilesScanned)
	}

	r.writePlain("✓ Fetched %d of %d artists from %d batch files\n",
		result.ArtistsFetched, result.ArtistsFound, result.FilesScanned)
	return r.writePlain("Written to: %s\n", result.Location)
}

// Runs lists recent executions from the local ledger.
func (r *Runner) Runs(ctx context.Context, cmd *cli.Command) error {
	if r.runs == nil {
		return fmt.Errorf("%w: run ledger unavailable, run 'playlog setup database'", shared.ErrMissingConfig)
	}

	runs, err := r.runs.List(int(cmd.Int("limit")))
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}

	if cmd.Bool("json") {
		return r.writeJSON(runs, cmd.Bool("pretty"))
	}

	if len(runs) == 0 {
		return r.writePlain("No runs recorded yet\n")
	}

	r.writePlainln("Recent runs (%d)", len(runs))
	for _, run := range runs {
		line := fmt.Sprintf("%s  %-8s  %-13s  %4d events",
			run.StartedAt.UTC().Format(time.RFC3339), run.Kind, run.Outcome, run.EventsIngested)
		if run.Error != "" {
			line += "  error: " + run.Error
		}
		r.writePlain("%s\n", line)
	}
	return nil
}

// describeAuthError attaches operator guidance to credential failures.
func (r *Runner) describeAuthError(err error) error {
	switch {
	case errors.Is(err, shared.ErrAuthBootstrap):
		return fmt.Errorf("%w: run 'playlog auth login' to connect a Spotify account", err)
	case errors.Is(err, shared.ErrAuthExpired):
		return fmt.Errorf("%w: run 'playlog auth login' to re-authorize", err)
	default:
		return err
	}
}
