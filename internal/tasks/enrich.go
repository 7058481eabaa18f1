package tasks

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/storage"
)

// artistsPayload is the wire shape of an enrichment output file.
type artistsPayload struct {
	FetchedAt   string          `json:"fetched_at"`
	ArtistCount int             `json:"artist_count"`
	Artists     []models.Artist `json:"artists"`
}

// rawTracksFile is the subset of a plays file enrichment needs.
type rawTracksFile struct {
	Tracks []struct {
		ArtistID string `json:"artist_id"`
	} `json:"tracks"`
}

// Enrich runs the non-incremental artist-enrichment batch: scan every plays
// file, collect unique artist IDs, fetch their details in provider-sized
// chunks, and write one date-partitioned artists file.
//
// Unlike ingestion there is no cursor; the job re-derives its input from the
// raw prefix on every run and the output is keyed by fetch instant.
func (e *IngestEngine) Enrich(ctx context.Context) (*EnrichResult, error) {
	runID := shared.GenerateID()
	startedAt := e.clock()
	logger := shared.WithLogger(e.logger, "run_id", runID)

	run := &models.IngestRun{
		ID:        runID,
		Kind:      models.RunKindEnrich,
		StartedAt: startedAt,
	}

	fail := func(err error) (*EnrichResult, error) {
		run.Outcome = models.OutcomeFailed
		run.FinishedAt = e.clock()
		run.Error = err.Error()
		e.record(run)
		return nil, err
	}

	if _, err := e.tokens.EnsureValidToken(ctx); err != nil {
		return fail(err)
	}

	ids, scanned, err := e.uniqueArtistIDs(ctx)
	if err != nil {
		return fail(err)
	}

	result := &EnrichResult{
		RunID:        runID,
		FilesScanned: scanned,
		ArtistsFound: len(ids),
	}

	if len(ids) == 0 {
		logger.Info("no artists found under raw prefix")
		run.Outcome = models.OutcomeNoNewData
		run.FinishedAt = e.clock()
		e.record(run)
		return result, nil
	}

	logger.Info("fetching artist details", "unique_artists", len(ids), "files_scanned", scanned)

	var artists []models.Artist
	for start := 0; start < len(ids); start += services.MaxPageSize {
		end := start + services.MaxPageSize
		if end > len(ids) {
			end = len(ids)
		}

		chunk, err := e.fetcher.SeveralArtists(ctx, ids[start:end])
		if err != nil {
			return fail(err)
		}
		artists = append(artists, chunk...)
	}

	fetchedAt := e.clock().UTC()
	payload := artistsPayload{
		FetchedAt:   fetchedAt.Format(time.RFC3339),
		ArtistCount: len(artists),
		Artists:     artists,
	}

	key := fmt.Sprintf("%s/%s/artists_%s.json",
		e.artistsPrefix, storage.PartitionPath(fetchedAt), fetchedAt.Format("20060102_150405"))
	if err := storage.PutJSON(ctx, e.store, e.bucket, key, payload); err != nil {
		return fail(err)
	}

	run.EventsFetched = len(artists)
	run.EventsIngested = len(artists)
	run.OutputLocation = key
	run.Outcome = models.OutcomeIngested
	run.FinishedAt = e.clock()
	e.record(run)

	result.ArtistsFetched = len(artists)
	result.Location = key
	logger.Info("enrichment complete", "artists", len(artists), "location", key)
	return result, nil
}

// uniqueArtistIDs scans every plays file under the raw prefix and returns the
// sorted set of artist IDs it references.
func (e *IngestEngine) uniqueArtistIDs(ctx context.Context) ([]string, int, error) {
	keys, err := e.store.ListPrefix(ctx, e.bucket, e.rawPrefix+"/")
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list plays files: %w", err)
	}

	set := make(map[string]struct{})
	scanned := 0
	for _, key := range keys {
		if !strings.HasSuffix(key, ".json") {
			continue
		}

		data, err := e.store.GetObject(ctx, e.bucket, key)
		if err != nil {
			// A file listed but unreadable is skipped, not fatal;
			// the next weekly run will pick it up.
			e.logger.Warn("skipping unreadable plays file", "key", key, "err", err)
			continue
		}

		var file rawTracksFile
		if err := json.Unmarshal(data, &file); err != nil {
			e.logger.Warn("skipping unparseable plays file", "key", key, "err", err)
			continue
		}

		scanned++
		for _, t := range file.Tracks {
			if t.ArtistID != "" {
				set[t.ArtistID] = struct{}{}
			}
		}
	}

	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, scanned, nil
}
