// Spotify API implementation of [Fetcher]
//
// Response types based on https://developer.spotify.com/documentation/web-api/reference/
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/shared"
	"golang.org/x/time/rate"
)

const (
	spotifyBaseURL = "https://api.spotify.com/v1"

	// MaxPageSize is the provider-imposed page cap for recently-played.
	MaxPageSize = 50

	// maxIncrementalPages bounds forward pagination in one incremental run.
	maxIncrementalPages = 10

	// maxHistoryPages bounds backward pagination during backfill.
	maxHistoryPages = 100
)

// SpotifyImage represents an image resource.
type SpotifyImage struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

type followers struct {
	Total int `json:"total"`
}

// SpotifyUser represents a Spotify user profile.
type SpotifyUser struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	Country     string `json:"country"`
	Product     string `json:"product"`
}

// SpotifyArtist represents a Spotify artist.
type SpotifyArtist struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Genres     []string       `json:"genres"`
	Popularity int            `json:"popularity"`
	Followers  followers      `json:"followers"`
	Images     []SpotifyImage `json:"images"`
}

// SpotifyAlbum represents a Spotify album.
type SpotifyAlbum struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	ReleaseDate string `json:"release_date"`
}

// SpotifyTrack represents a Spotify track.
type SpotifyTrack struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Artists    []SpotifyArtist `json:"artists"`
	Album      SpotifyAlbum    `json:"album"`
	DurationMS int             `json:"duration_ms"`
	Popularity int             `json:"popularity"`
}

// SpotifyPlayedItem is one entry of the recently-played response.
type SpotifyPlayedItem struct {
	PlayedAt string       `json:"played_at"`
	Track    SpotifyTrack `json:"track"`
}

type pageCursors struct {
	After  string `json:"after"`
	Before string `json:"before"`
}

// SpotifyRecentlyPlayed is the paginated recently-played response.
type SpotifyRecentlyPlayed struct {
	Items   []SpotifyPlayedItem `json:"items"`
	Next    *string             `json:"next"`
	Cursors pageCursors         `json:"cursors"`
	Limit   int                 `json:"limit"`
}

// SpotifyService implements [Fetcher] against the Spotify Web API.
//
// The HTTP client and token provider are injected so tests can substitute
// doubles; no process-wide singletons are consulted.
type SpotifyService struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenProvider
	limiter    *rate.Limiter
	maxRetries int
	pageLimit  int
	maxPages   int
	logger     *log.Logger
}

// SpotifyOpts configures a [SpotifyService].
type SpotifyOpts struct {
	BaseURL    string        // defaults to the public API
	HTTPClient *http.Client  // defaults to http.DefaultClient
	Tokens     TokenProvider // required
	RateLimit  float64       // requests per second, defaults to 5
	RateBurst  int           // defaults to 2
	MaxRetries int           // per-request retry budget, defaults to 3
	PageLimit  int           // page size, defaults to MaxPageSize
	MaxPages   int           // incremental pagination cap, defaults to 10
	Logger     *log.Logger
}

// NewSpotifyService creates a Spotify client from options.
func NewSpotifyService(opts SpotifyOpts) (*SpotifyService, error) {
	if opts.Tokens == nil {
		return nil, fmt.Errorf("%w: token provider is required", shared.ErrInvalidInput)
	}
	if opts.BaseURL == "" {
		opts.BaseURL = spotifyBaseURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.RateLimit <= 0 {
		opts.RateLimit = 5.0
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 2
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.PageLimit <= 0 || opts.PageLimit > MaxPageSize {
		opts.PageLimit = MaxPageSize
	}
	if opts.MaxPages <= 0 {
		opts.MaxPages = maxIncrementalPages
	}
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}

	return &SpotifyService{
		baseURL:    opts.BaseURL,
		httpClient: opts.HTTPClient,
		tokens:     opts.Tokens,
		limiter:    rate.NewLimiter(rate.Limit(opts.RateLimit), opts.RateBurst),
		maxRetries: opts.MaxRetries,
		pageLimit:  opts.PageLimit,
		maxPages:   opts.MaxPages,
		logger:     opts.Logger,
	}, nil
}

func (s *SpotifyService) Name() string {
	return "Spotify"
}

// doRequest performs an authenticated GET with rate limiting and bounded retry.
func (s *SpotifyService) doRequest(ctx context.Context, endpoint string, result any) error {
	var lastErr error

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if err := s.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter: %w", err)
		}

		token, err := s.tokens.EnsureValidToken(ctx)
		if err != nil {
			return err
		}

		apiURL := s.baseURL + endpoint
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.httpClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("%w: %v", shared.ErrTransient, err)
			if attempt == s.maxRetries {
				return lastErr
			}
			if waitErr := backoffWait(ctx, attempt); waitErr != nil {
				return lastErr
			}
			continue
		}

		retry, err := s.handleResponse(ctx, resp, result, attempt)
		if err == nil && !retry {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}

	return lastErr
}

// handleResponse decodes a successful response or classifies the failure.
// retry reports whether the caller should attempt the request again.
func (s *SpotifyService) handleResponse(ctx context.Context, resp *http.Response, result any, attempt int) (retry bool, err error) {
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if result == nil {
			return false, nil
		}
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return false, fmt.Errorf("failed to decode response: %w", err)
		}
		return false, nil

	case resp.StatusCode == http.StatusUnauthorized:
		return false, fmt.Errorf("%w: spotify rejected access token", shared.ErrAuthFailed)

	case resp.StatusCode == http.StatusForbidden:
		return false, fmt.Errorf("%w: spotify API status %d", shared.ErrForbidden, resp.StatusCode)

	case resp.StatusCode == http.StatusNotFound:
		return false, fmt.Errorf("%w: spotify API status %d", shared.ErrNotFound, resp.StatusCode)

	case resp.StatusCode == http.StatusTooManyRequests:
		if attempt == s.maxRetries {
			return false, fmt.Errorf("%w: retry budget exhausted", shared.ErrRateLimited)
		}
		delay := retryAfter(resp)
		s.logger.Warn("rate limited by provider", "retry_after", delay, "attempt", attempt)
		if err := sleepCtx(ctx, delay); err != nil {
			return false, fmt.Errorf("%w: %v", shared.ErrRateLimited, err)
		}
		return true, fmt.Errorf("%w: retry budget exhausted", shared.ErrRateLimited)

	case resp.StatusCode >= 500:
		if attempt == s.maxRetries {
			return false, fmt.Errorf("%w: spotify API status %d", shared.ErrTransient, resp.StatusCode)
		}
		if err := backoffWait(ctx, attempt); err != nil {
			return false, fmt.Errorf("%w: spotify API status %d", shared.ErrTransient, resp.StatusCode)
		}
		return true, fmt.Errorf("%w: spotify API status %d", shared.ErrTransient, resp.StatusCode)

	default:
		return false, fmt.Errorf("%w: spotify API status %d", shared.ErrTransient, resp.StatusCode)
	}
}

// UserProfile retrieves the current authenticated user's profile.
func (s *SpotifyService) UserProfile(ctx context.Context) (*SpotifyUser, error) {
	var user SpotifyUser
	if err := s.doRequest(ctx, "/me", &user); err != nil {
		return nil, err
	}
	return &user, nil
}

// RecentPlays fetches the single most recent page of listening events,
// bounding first-run cost to one page.
func (s *SpotifyService) RecentPlays(ctx context.Context, limit int) (*FetchResult, error) {
	if limit <= 0 || limit > MaxPageSize {
		limit = s.pageLimit
	}

	events, malformed, err := s.recentPage(ctx, url.Values{"limit": {strconv.Itoa(limit)}})
	if err != nil {
		return nil, err
	}

	return &FetchResult{Events: events, Malformed: malformed, Pages: 1}, nil
}

// RecentPlaysSince pages forward through everything played strictly after
// the given instant, in pages of the provider-imposed maximum.
//
// Pagination advances the after cursor to the newest played-at seen so far;
// a short page means the provider has nothing newer. The page budget bounds a
// pathological run; hitting it is logged and the partial result returned, to
// be picked up from the advanced watermark next run.
func (s *SpotifyService) RecentPlaysSince(ctx context.Context, after time.Time) (*FetchResult, error) {
	result := &FetchResult{}
	cursor := after.UnixMilli()

	for page := 1; page <= s.maxPages; page++ {
		q := url.Values{
			"limit": {strconv.Itoa(s.pageLimit)},
			"after": {strconv.FormatInt(cursor, 10)},
		}

		s.logger.Debug("fetching incremental page", "page", page, "after", cursor)
		events, malformed, err := s.recentPage(ctx, q)
		if err != nil {
			return nil, err
		}

		result.Pages++
		result.Malformed += malformed
		result.Events = append(result.Events, events...)

		if len(events)+malformed < s.pageLimit {
			return result, nil
		}

		// Items arrive newest-first; the newest timestamp is the next cursor.
		next := newestPlayedAt(events)
		if next <= cursor {
			return result, nil
		}
		cursor = next
	}

	s.logger.Warn("incremental page budget reached, returning partial window", "pages", s.maxPages)
	return result, nil
}

// RecentHistory pages backward through all the history the provider retains,
// typically around two weeks, returning events in provider order.
func (s *SpotifyService) RecentHistory(ctx context.Context) (*FetchResult, error) {
	result := &FetchResult{}
	var cursor int64

	for page := 1; page <= maxHistoryPages; page++ {
		q := url.Values{"limit": {strconv.Itoa(s.pageLimit)}}
		if cursor > 0 {
			q.Set("before", strconv.FormatInt(cursor, 10))
		}

		s.logger.Debug("fetching history page", "page", page, "before", cursor)
		events, malformed, err := s.recentPage(ctx, q)
		if err != nil {
			return nil, err
		}

		result.Pages++
		result.Malformed += malformed
		result.Events = append(result.Events, events...)

		if len(events)+malformed < s.pageLimit || len(events) == 0 {
			return result, nil
		}

		next := oldestPlayedAt(events)
		if cursor > 0 && next >= cursor {
			return result, nil
		}
		cursor = next
	}

	s.logger.Warn("history page budget reached", "pages", maxHistoryPages)
	return result, nil
}

// recentPage fetches and parses one page of the recently-played endpoint.
func (s *SpotifyService) recentPage(ctx context.Context, q url.Values) ([]models.PlayEvent, int, error) {
	var resp SpotifyRecentlyPlayed
	endpoint := "/me/player/recently-played?" + q.Encode()
	if err := s.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, 0, err
	}

	events := make([]models.PlayEvent, 0, len(resp.Items))
	malformed := 0
	for _, item := range resp.Items {
		event, err := parsePlayedItem(item)
		if err != nil {
			malformed++
			s.logger.Warn("dropping malformed record", "err", err)
			continue
		}
		events = append(events, event)
	}

	return events, malformed, nil
}

// SeveralArtists retrieves details for up to 50 artist IDs in one call.
func (s *SpotifyService) SeveralArtists(ctx context.Context, ids []string) ([]models.Artist, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("%w: no artist IDs provided", shared.ErrInvalidInput)
	}
	if len(ids) > MaxPageSize {
		return nil, fmt.Errorf("%w: maximum %d artist IDs allowed", shared.ErrInvalidInput, MaxPageSize)
	}

	endpoint := "/artists?ids=" + url.QueryEscape(strings.Join(ids, ","))

	var resp struct {
		Artists []SpotifyArtist `json:"artists"`
	}
	if err := s.doRequest(ctx, endpoint, &resp); err != nil {
		return nil, err
	}

	artists := make([]models.Artist, 0, len(resp.Artists))
	for _, a := range resp.Artists {
		if a.ID == "" {
			continue
		}
		artist := models.Artist{
			ID:         a.ID,
			Name:       a.Name,
			Genres:     a.Genres,
			Popularity: a.Popularity,
			Followers:  a.Followers.Total,
		}
		if len(a.Images) > 0 {
			artist.ImageURL = a.Images[0].URL
		}
		artists = append(artists, artist)
	}

	return artists, nil
}

// parsePlayedItem normalizes one raw item into a [models.PlayEvent].
func parsePlayedItem(item SpotifyPlayedItem) (models.PlayEvent, error) {
	if item.Track.ID == "" {
		return models.PlayEvent{}, fmt.Errorf("item missing track id")
	}

	playedAt, err := time.Parse(time.RFC3339, item.PlayedAt)
	if err != nil {
		return models.PlayEvent{}, fmt.Errorf("bad played_at %q: %w", item.PlayedAt, err)
	}
	playedAt = playedAt.UTC()

	event := models.PlayEvent{
		PlayedAt:    playedAt,
		PlayedAtMS:  playedAt.UnixMilli(),
		TrackID:     item.Track.ID,
		TrackName:   item.Track.Name,
		AlbumID:     item.Track.Album.ID,
		AlbumName:   item.Track.Album.Name,
		ReleaseDate: item.Track.Album.ReleaseDate,
		DurationMS:  item.Track.DurationMS,
		Popularity:  item.Track.Popularity,
	}

	if len(item.Track.Artists) > 0 {
		event.ArtistID = item.Track.Artists[0].ID
		event.ArtistName = item.Track.Artists[0].Name
	}

	return event, nil
}

// newestPlayedAt returns the maximum played-at in Unix milliseconds.
func newestPlayedAt(events []models.PlayEvent) int64 {
	var max int64
	for _, e := range events {
		if e.PlayedAtMS > max {
			max = e.PlayedAtMS
		}
	}
	return max
}

// oldestPlayedAt returns the minimum played-at in Unix milliseconds.
func oldestPlayedAt(events []models.PlayEvent) int64 {
	if len(events) == 0 {
		return 0
	}
	min := events[0].PlayedAtMS
	for _, e := range events[1:] {
		if e.PlayedAtMS < min {
			min = e.PlayedAtMS
		}
	}
	return min
}

// retryAfter reads the provider's requested delay, defaulting to one second.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return time.Second
}

// sleepCtx sleeps for d, honoring cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// backoffWait sleeps with exponential backoff between retries.
func backoffWait(ctx context.Context, attempt int) error {
	d := time.Duration(1<<uint(attempt)) * 100 * time.Millisecond
	return sleepCtx(ctx, d)
}
