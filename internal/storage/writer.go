package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/shared"
)

// filenameStamp keys output files by fetch instant.
const filenameStamp = "20060102_150405"

// batchPayload is the wire shape consumed by the downstream transformation layer.
type batchPayload struct {
	FetchedAt       string             `json:"fetched_at"`
	SourceWatermark string             `json:"source_watermark,omitempty"`
	TrackCount      int                `json:"track_count"`
	Tracks          []models.PlayEvent `json:"tracks"`
}

// BatchWriter serializes ingestion batches to date-partitioned JSON objects.
//
// Writes are all-or-nothing: the payload is fully marshaled before a single
// PutObject call, and the underlying stores replace keys atomically, so a
// failure never leaves a partial file visible at the target path.
type BatchWriter struct {
	store       ObjectStore
	bucket      string
	prefix      string
	maxAttempts int
	logger      *log.Logger
}

// BatchWriterOpts configures a [BatchWriter].
type BatchWriterOpts struct {
	Store       ObjectStore
	Bucket      string
	Prefix      string // defaults to "raw"
	MaxAttempts int    // defaults to 3
	Logger      *log.Logger
}

// NewBatchWriter creates a writer targeting bucket/prefix on the given store.
func NewBatchWriter(opts BatchWriterOpts) *BatchWriter {
	if opts.Prefix == "" {
		opts.Prefix = "raw"
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &BatchWriter{
		store:       opts.Store,
		bucket:      opts.Bucket,
		prefix:      opts.Prefix,
		maxAttempts: opts.MaxAttempts,
		logger:      opts.Logger,
	}
}

// Write persists the batch and returns the object key it was written to.
//
// Transient put failures are retried a bounded number of times; exhaustion
// surfaces as [shared.ErrStorageWrite] with no object visible at the key.
func (w *BatchWriter) Write(ctx context.Context, batch *models.Batch) (string, error) {
	if batch == nil || batch.Empty() {
		return "", fmt.Errorf("%w: refusing to write empty batch", shared.ErrInvalidInput)
	}

	payload := batchPayload{
		FetchedAt:  batch.FetchedAt.UTC().Format(time.RFC3339),
		TrackCount: len(batch.Events),
		Tracks:     batch.Events,
	}
	if !batch.SourceWatermark.IsZero() {
		payload.SourceWatermark = batch.SourceWatermark.UTC().Format(time.RFC3339)
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal batch: %w", err)
	}

	key := w.Key(batch.FetchedAt)

	var lastErr error
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.store.PutObject(ctx, w.bucket, key, data, "application/json")
		if err == nil {
			w.logger.Info("batch written", "key", key, "tracks", len(batch.Events))
			return key, nil
		}

		lastErr = err
		w.logger.Warn("batch write failed", "attempt", attempt, "key", key, "err", err)
		// Permission and missing-bucket failures will not fix themselves.
		if errors.Is(err, shared.ErrForbidden) || errors.Is(err, shared.ErrNotFound) {
			break
		}
		if attempt == w.maxAttempts {
			break
		}
		if backoffWait(ctx, attempt) != nil {
			break
		}
	}

	return "", fmt.Errorf("%w: %v", shared.ErrStorageWrite, lastErr)
}

// Key returns the date-partitioned object key for a batch fetched at t.
func (w *BatchWriter) Key(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("%s/%s/spotify_plays_%s.json", w.prefix, PartitionPath(t), t.Format(filenameStamp))
}

// PartitionPath returns the year=YYYY/month=MM/day=DD segment for t,
// enabling partition pruning in downstream scans.
func PartitionPath(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("year=%04d/month=%02d/day=%02d", t.Year(), int(t.Month()), t.Day())
}

// PutJSON marshals v and writes it to key in one atomic put.
func PutJSON(ctx context.Context, store ObjectStore, bucket, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if err := store.PutObject(ctx, bucket, key, data, "application/json"); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrStorageWrite, err)
	}
	return nil
}

// backoffWait sleeps with exponential backoff, honoring cancellation.
func backoffWait(ctx context.Context, attempt int) error {
	d := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
