package models

import (
	"sort"
	"time"
)

// PlayEvent represents a single listening event normalized from the provider payload.
//
// Immutable once constructed. PlayedAtMS duplicates PlayedAt as Unix
// milliseconds because the downstream SQL layer keys on the integer form.
type PlayEvent struct {
	PlayedAt    time.Time `json:"played_at"`
	PlayedAtMS  int64     `json:"played_at_timestamp"`
	TrackID     string    `json:"track_id"`
	TrackName   string    `json:"track_name"`
	ArtistID    string    `json:"artist_id"`
	ArtistName  string    `json:"artist_name"`
	AlbumID     string    `json:"album_id"`
	AlbumName   string    `json:"album_name"`
	ReleaseDate string    `json:"release_date"`
	DurationMS  int       `json:"duration_ms"`
	Popularity  int       `json:"popularity"`
}

// PlayKey is the identity key of a PlayEvent.
type PlayKey struct {
	TrackID    string
	PlayedAtMS int64
}

// Key returns the event's identity key.
func (e PlayEvent) Key() PlayKey {
	return PlayKey{TrackID: e.TrackID, PlayedAtMS: e.PlayedAtMS}
}

// Batch is the ordered sequence of events produced by one execution.
//
// Transient: it exists only for the duration of a run and is never partially
// persisted. SourceWatermark is zero on a first run.
type Batch struct {
	FetchedAt       time.Time
	SourceWatermark time.Time
	Events          []PlayEvent
	Malformed       int
}

// Empty reports whether the batch carries no events.
func (b *Batch) Empty() bool {
	return len(b.Events) == 0
}

// MaxPlayedAt returns the most recent played-at instant in the batch.
// The zero time is returned for an empty batch.
func (b *Batch) MaxPlayedAt() time.Time {
	var max time.Time
	for _, e := range b.Events {
		if e.PlayedAt.After(max) {
			max = e.PlayedAt
		}
	}
	return max
}

// SortByPlayedAt orders the batch ascending by played-at.
// Equal timestamps keep their relative order so provider order stays authoritative.
func (b *Batch) SortByPlayedAt() {
	sort.SliceStable(b.Events, func(i, j int) bool {
		return b.Events[i].PlayedAt.Before(b.Events[j].PlayedAt)
	})
}

// DedupPlays removes events with a duplicate (TrackID, PlayedAtMS) key,
// keeping the first occurrence in the given order.
//
// This only collapses exact duplicate records returned across overlapping
// pages; provider-level replays with distinct timestamps are legitimate plays.
func DedupPlays(events []PlayEvent) []PlayEvent {
	if len(events) == 0 {
		return events
	}

	seen := make(map[PlayKey]struct{}, len(events))
	out := events[:0:0]
	for _, e := range events {
		k := e.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, e)
	}
	return out
}

// Artist represents artist details fetched by the enrichment job.
type Artist struct {
	ID         string   `json:"artist_id"`
	Name       string   `json:"artist_name"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
	Followers  int      `json:"followers"`
	ImageURL   string   `json:"image_url,omitempty"`
}

// Run outcomes recorded in the ledger.
const (
	OutcomeIngested  = "ingested"
	OutcomeNoNewData = "no_new_events"
	OutcomeFailed    = "failed"
)

// Run kinds recorded in the ledger.
const (
	RunKindIngest   = "ingest"
	RunKindBackfill = "backfill"
	RunKindEnrich   = "enrich"
)

// IngestRun records a single pipeline execution in the local run ledger.
//
// Watermark fields are Unix milliseconds; nil means "absent" (first run, or
// a run that did not advance the cursor).
type IngestRun struct {
	ID              string
	Kind            string
	Outcome         string
	StartedAt       time.Time
	FinishedAt      time.Time
	EventsFetched   int
	EventsIngested  int
	MalformedCount  int
	OutputLocation  string
	WatermarkBefore *int64
	WatermarkAfter  *int64
	Error           string
}
