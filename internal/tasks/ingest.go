package tasks

import (
	"context"
	"fmt"

	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
)

// IngestOpts contains per-run options for [IngestEngine.Ingest].
type IngestOpts struct {
	// DryRun fetches and deduplicates but writes nothing and leaves the
	// watermark untouched.
	DryRun bool
}

// Ingest executes one incremental ingestion run.
//
// Sequence: ensure token, load watermark, fetch forward from it (or a single
// bounded page on the first-ever run), dedup, write, advance. Any failure
// before the final advance leaves both cursor and credential state unchanged,
// so a retried execution re-fetches the same window rather than skipping it.
func (e *IngestEngine) Ingest(ctx context.Context, opts IngestOpts) (*IngestResult, error) {
	runID := shared.GenerateID()
	startedAt := e.clock()
	logger := shared.WithLogger(e.logger, "run_id", runID)

	run := &models.IngestRun{
		ID:        runID,
		Kind:      models.RunKindIngest,
		StartedAt: startedAt,
	}

	fail := func(err error) (*IngestResult, error) {
		run.Outcome = models.OutcomeFailed
		run.FinishedAt = e.clock()
		run.Error = err.Error()
		if !opts.DryRun {
			e.record(run)
		}
		return nil, err
	}

	if _, err := e.tokens.EnsureValidToken(ctx); err != nil {
		return fail(err)
	}

	watermark, haveWatermark, err := e.cursor.LoadWatermark(ctx)
	if err != nil {
		return fail(err)
	}
	run.WatermarkBefore = msPtr(watermark)

	var fetched *services.FetchResult
	if haveWatermark {
		logger.Info("incremental fetch", "after", watermark)
		fetched, err = e.fetcher.RecentPlaysSince(ctx, watermark)
	} else {
		// First run: a single page only. Anything older than one page is
		// not captured here; the backfill command exists for that.
		logger.Warn("no watermark found, fetching most recent page only", "limit", e.firstRunLimit)
		fetched, err = e.fetcher.RecentPlays(ctx, e.firstRunLimit)
	}
	if err != nil {
		return fail(err)
	}

	run.EventsFetched = len(fetched.Events)
	run.MalformedCount = fetched.Malformed
	if fetched.Malformed > 0 {
		logger.Warn("dropped malformed records", "count", fetched.Malformed)
	}

	batch := &models.Batch{
		FetchedAt:       e.clock(),
		SourceWatermark: watermark,
		Events:          models.DedupPlays(fetched.Events),
		Malformed:       fetched.Malformed,
	}
	batch.SortByPlayedAt()
	run.EventsIngested = len(batch.Events)

	result := &IngestResult{
		RunID:          runID,
		EventsFetched:  len(fetched.Events),
		EventsIngested: len(batch.Events),
		Malformed:      fetched.Malformed,
		Pages:          fetched.Pages,
		Watermark:      watermark,
		DryRun:         opts.DryRun,
	}

	if batch.Empty() {
		// Successful no-op: nothing new observed, so no file and no
		// cursor movement. Repeating the invocation stays idempotent.
		logger.Info("no new events")
		result.Outcome = models.OutcomeNoNewData
		run.Outcome = models.OutcomeNoNewData
		run.FinishedAt = e.clock()
		if !opts.DryRun {
			e.record(run)
		}
		return result, nil
	}

	if opts.DryRun {
		logger.Info("dry run, skipping write and advance", "events", len(batch.Events))
		result.Outcome = models.OutcomeIngested
		return result, nil
	}

	location, err := e.writer.Write(ctx, batch)
	if err != nil {
		return fail(err)
	}
	result.Location = location
	run.OutputLocation = location

	// Write has completed; only now may the watermark move. If Advance
	// fails here the batch is already durable and the next run re-fetches
	// an overlapping window, which the downstream layer absorbs.
	newWatermark := batch.MaxPlayedAt()
	if err := e.cursor.Advance(ctx, newWatermark); err != nil {
		logger.Error("batch written but watermark not advanced, next run will overlap", "location", location, "err", err)
		return fail(fmt.Errorf("advance after successful write: %w", err))
	}

	run.WatermarkAfter = msPtr(newWatermark)
	run.Outcome = models.OutcomeIngested
	run.FinishedAt = e.clock()
	e.record(run)

	result.Outcome = models.OutcomeIngested
	result.Watermark = newWatermark
	logger.Info("ingestion complete", "events", len(batch.Events), "location", location, "watermark", newWatermark)
	return result, nil
}

// Backfill fetches everything the provider still retains and writes it as a
// single batch, without touching the watermark.
//
// Intended for operators capturing history that predates the first scheduled
// run; the downstream layer deduplicates any overlap with incremental output.
func (e *IngestEngine) Backfill(ctx context.Context, opts IngestOpts) (*IngestResult, error) {
	runID := shared.GenerateID()
	startedAt := e.clock()
	logger := shared.WithLogger(e.logger, "run_id", runID)

	run := &models.IngestRun{
		ID:        runID,
		Kind:      models.RunKindBackfill,
		StartedAt: startedAt,
	}

	fail := func(err error) (*IngestResult, error) {
		run.Outcome = models.OutcomeFailed
		run.FinishedAt = e.clock()
		run.Error = err.Error()
		if !opts.DryRun {
			e.record(run)
		}
		return nil, err
	}

	if _, err := e.tokens.EnsureValidToken(ctx); err != nil {
		return fail(err)
	}

	logger.Info("backfilling all retained history")
	fetched, err := e.fetcher.RecentHistory(ctx)
	if err != nil {
		return fail(err)
	}

	run.EventsFetched = len(fetched.Events)
	run.MalformedCount = fetched.Malformed

	batch := &models.Batch{
		FetchedAt: e.clock(),
		Events:    models.DedupPlays(fetched.Events),
		Malformed: fetched.Malformed,
	}
	batch.SortByPlayedAt()
	run.EventsIngested = len(batch.Events)

	result := &IngestResult{
		RunID:          runID,
		EventsFetched:  len(fetched.Events),
		EventsIngested: len(batch.Events),
		Malformed:      fetched.Malformed,
		Pages:          fetched.Pages,
		DryRun:         opts.DryRun,
	}

	if batch.Empty() {
		logger.Info("provider retains no history")
		result.Outcome = models.OutcomeNoNewData
		run.Outcome = models.OutcomeNoNewData
		run.FinishedAt = e.clock()
		if !opts.DryRun {
			e.record(run)
		}
		return result, nil
	}

	if opts.DryRun {
		logger.Info("dry run, skipping write", "events", len(batch.Events))
		result.Outcome = models.OutcomeIngested
		return result, nil
	}

	location, err := e.writer.Write(ctx, batch)
	if err != nil {
		return fail(err)
	}

	run.OutputLocation = location
	run.Outcome = models.OutcomeIngested
	run.FinishedAt = e.clock()
	e.record(run)

	result.Outcome = models.OutcomeIngested
	result.Location = location
	logger.Info("backfill complete", "events", len(batch.Events), "location", location)
	return result, nil
}
