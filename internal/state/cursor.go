// Package state persists the ingestion watermark across stateless executions.
//
// The watermark marks the played-at instant of the newest event durably
// written so far. It is advanced exactly once per successful execution,
// strictly after the batch write: if an execution dies between write and
// advance, the next one re-fetches an overlapping window and the downstream
// layer deduplicates at rest. Advancing before the write would open an
// unrecoverable gap, so [CursorStore.Advance] must only run after the write
// has returned its final location (see tasks.IngestEngine).
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/storage"
)

// stateRecord is the JSON blob stored at the state key.
//
// last_processed_timestamp is Unix milliseconds; the string fields are
// human-readable mirrors for operators inspecting the bucket.
type stateRecord struct {
	LastProcessedTimestamp int64  `json:"last_processed_timestamp"`
	LastProcessedAt        string `json:"last_processed_at"`
	UpdatedAt              string `json:"updated_at"`
}

// CursorStore persists the watermark as a small JSON object in the object store.
//
// Single-writer-per-execution: the store relies on the scheduler's non-overlap
// guarantee rather than locking, and on the object store's atomic key replace
// so readers never observe a torn record.
type CursorStore struct {
	store  storage.ObjectStore
	bucket string
	key    string
	logger *log.Logger
	now    func() time.Time
}

// NewCursorStore creates a cursor store persisting to bucket/key.
func NewCursorStore(store storage.ObjectStore, bucket, key string, logger *log.Logger) *CursorStore {
	if key == "" {
		key = "state/last_run_state.json"
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &CursorStore{
		store:  store,
		bucket: bucket,
		key:    key,
		logger: logger,
		now:    time.Now,
	}
}

// LoadWatermark returns the persisted watermark.
//
// The second return value is false when no state exists yet (first-ever run);
// that is not an error.
func (s *CursorStore) LoadWatermark(ctx context.Context) (time.Time, bool, error) {
	data, err := s.store.GetObject(ctx, s.bucket, s.key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			s.logger.Info("no previous state found, treating as first run")
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("failed to load watermark: %w", err)
	}

	var rec stateRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return time.Time{}, false, fmt.Errorf("%w: %v", shared.ErrStateCorrupt, err)
	}
	if rec.LastProcessedTimestamp <= 0 {
		return time.Time{}, false, fmt.Errorf("%w: non-positive watermark", shared.ErrStateCorrupt)
	}

	watermark := time.UnixMilli(rec.LastProcessedTimestamp).UTC()
	s.logger.Info("loaded watermark", "last_processed_at", watermark)
	return watermark, true, nil
}

// Advance persists a new watermark.
//
// Callers must only invoke this after the corresponding batch has been
// durably written. The watermark never moves backward: a regression is
// rejected so a misordered caller cannot reopen an already-ingested window.
func (s *CursorStore) Advance(ctx context.Context, watermark time.Time) error {
	if watermark.IsZero() {
		return fmt.Errorf("%w: zero watermark", shared.ErrInvalidInput)
	}

	if prev, ok, err := s.LoadWatermark(ctx); err == nil && ok && watermark.Before(prev) {
		return fmt.Errorf("%w: watermark %s behind current %s", shared.ErrInvalidInput, watermark, prev)
	}

	rec := stateRecord{
		LastProcessedTimestamp: watermark.UnixMilli(),
		LastProcessedAt:        watermark.UTC().Format(time.RFC3339),
		UpdatedAt:              s.now().UTC().Format(time.RFC3339),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	if err := s.store.PutObject(ctx, s.bucket, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("failed to advance watermark: %w", err)
	}

	s.logger.Info("watermark advanced", "last_processed_at", watermark.UTC())
	return nil
}
