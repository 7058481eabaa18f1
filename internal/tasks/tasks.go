package tasks

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/storage"
)

// TokenProvider establishes a valid access token before any fetch begins.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// CursorStore persists the ingestion watermark between executions.
type CursorStore interface {
	LoadWatermark(ctx context.Context) (time.Time, bool, error)
	Advance(ctx context.Context, watermark time.Time) error
}

// BatchWriter persists a batch and returns its location.
type BatchWriter interface {
	Write(ctx context.Context, batch *models.Batch) (string, error)
}

// RunRecorder appends to the local run ledger. Recording is best-effort:
// failures are logged, never escalated into the run outcome.
type RunRecorder interface {
	Record(run *models.IngestRun) error
}

// IngestResult summarizes one ingestion or backfill execution.
type IngestResult struct {
	RunID          string
	Outcome        string // models.OutcomeIngested or models.OutcomeNoNewData
	EventsFetched  int
	EventsIngested int
	Malformed      int
	Pages          int
	Location       string
	Watermark      time.Time // watermark after the run; zero if not advanced
	DryRun         bool
}

// EnrichResult summarizes one artist-enrichment execution.
type EnrichResult struct {
	RunID          string
	FilesScanned   int
	ArtistsFound   int
	ArtistsFetched int
	Location       string
}

// IngestEngine composes auth, fetch, dedup, write, and cursor advance into
// single executions that are safe to retry.
//
// The structural guarantee the whole pipeline rests on lives in
// [IngestEngine.Ingest]: the cursor store's Advance is only reachable after
// the batch writer has returned a location, so a crash at any earlier point
// leaves the watermark unchanged and the next invocation re-fetches the same
// window.
type IngestEngine struct {
	tokens  TokenProvider
	fetcher services.Fetcher
	cursor  CursorStore
	writer  BatchWriter
	runs    RunRecorder // optional
	store   storage.ObjectStore
	bucket  string

	rawPrefix     string
	artistsPrefix string
	firstRunLimit int

	logger *log.Logger
	clock  func() time.Time
}

// EngineOpts contains dependencies and settings for an [IngestEngine].
type EngineOpts struct {
	Tokens  TokenProvider
	Fetcher services.Fetcher
	Cursor  CursorStore
	Writer  BatchWriter
	Runs    RunRecorder
	Store   storage.ObjectStore
	Bucket  string

	RawPrefix     string // defaults to "raw"
	ArtistsPrefix string // defaults to "artists"
	FirstRunLimit int    // defaults to services.MaxPageSize

	Logger *log.Logger
	Clock  func() time.Time
}

// NewIngestEngine creates an engine from its dependencies.
func NewIngestEngine(opts EngineOpts) *IngestEngine {
	if opts.RawPrefix == "" {
		opts.RawPrefix = "raw"
	}
	if opts.ArtistsPrefix == "" {
		opts.ArtistsPrefix = "artists"
	}
	if opts.FirstRunLimit <= 0 || opts.FirstRunLimit > services.MaxPageSize {
		opts.FirstRunLimit = services.MaxPageSize
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	return &IngestEngine{
		tokens:        opts.Tokens,
		fetcher:       opts.Fetcher,
		cursor:        opts.Cursor,
		writer:        opts.Writer,
		runs:          opts.Runs,
		store:         opts.Store,
		bucket:        opts.Bucket,
		rawPrefix:     opts.RawPrefix,
		artistsPrefix: opts.ArtistsPrefix,
		firstRunLimit: opts.FirstRunLimit,
		logger:        opts.Logger,
		clock:         opts.Clock,
	}
}

// record appends a run to the ledger, logging and swallowing failures so
// diagnostics never change an execution's outcome.
func (e *IngestEngine) record(run *models.IngestRun) {
	if e.runs == nil {
		return
	}
	if err := e.runs.Record(run); err != nil {
		e.logger.Warn("failed to record run in ledger", "run_id", run.ID, "err", err)
	}
}

func msPtr(t time.Time) *int64 {
	if t.IsZero() {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
