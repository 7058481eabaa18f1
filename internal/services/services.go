package services

import (
	"context"
	"time"

	"github.com/soundfold/playlog/internal/models"
)

// TokenProvider supplies a valid access token for each API call.
//
// Implemented by auth.Manager; test doubles substitute it directly.
type TokenProvider interface {
	EnsureValidToken(ctx context.Context) (string, error)
}

// FetchResult is the outcome of one fetch operation across all its pages.
type FetchResult struct {
	Events    []models.PlayEvent // valid events in provider-delivered order
	Malformed int                // records dropped during parsing
	Pages     int                // pages fetched
}

// Fetcher is the event-fetching surface the orchestrator depends on.
type Fetcher interface {
	// RecentPlays fetches the single most recent page of listening events.
	RecentPlays(ctx context.Context, limit int) (*FetchResult, error)

	// RecentPlaysSince pages forward through everything played strictly
	// after the given instant.
	RecentPlaysSince(ctx context.Context, after time.Time) (*FetchResult, error)

	// RecentHistory pages backward through all history the provider retains.
	RecentHistory(ctx context.Context) (*FetchResult, error)

	// SeveralArtists fetches details for up to 50 artist IDs.
	SeveralArtists(ctx context.Context, ids []string) ([]models.Artist, error)
}
