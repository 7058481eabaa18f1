package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
	tu "github.com/soundfold/playlog/internal/testing"
)

// playedItem builds one raw recently-played item.
func playedItem(trackID string, playedAt time.Time) map[string]any {
	return map[string]any{
		"played_at": playedAt.UTC().Format(time.RFC3339),
		"track": map[string]any{
			"id":          trackID,
			"name":        "track " + trackID,
			"duration_ms": 180000,
			"artists":     []map[string]any{{"id": "artist-" + trackID, "name": "artist"}},
			"album":       map[string]any{"id": "album-1", "name": "album", "release_date": "2020-01-01"},
		},
	}
}

// recentlyPlayedServer serves the recently-played endpoint over a fixed event
// history, honoring after/before cursors and the page limit.
func recentlyPlayedServer(t *testing.T, items []map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/me/player/recently-played" {
			http.NotFound(w, r)
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit <= 0 {
			limit = services.MaxPageSize
		}

		parseMS := func(item map[string]any) int64 {
			ts, _ := time.Parse(time.RFC3339, item["played_at"].(string))
			return ts.UnixMilli()
		}

		var page []map[string]any
		if after := r.URL.Query().Get("after"); after != "" {
			cursor, _ := strconv.ParseInt(after, 10, 64)
			for _, item := range items {
				if parseMS(item) > cursor {
					page = append(page, item)
				}
			}
			// oldest first so forward paging advances
			sort.Slice(page, func(i, j int) bool { return parseMS(page[i]) < parseMS(page[j]) })
		} else {
			cursor := int64(0)
			if before := r.URL.Query().Get("before"); before != "" {
				cursor, _ = strconv.ParseInt(before, 10, 64)
			}
			for _, item := range items {
				if cursor == 0 || parseMS(item) < cursor {
					page = append(page, item)
				}
			}
			sort.Slice(page, func(i, j int) bool { return parseMS(page[i]) > parseMS(page[j]) })
		}

		if len(page) > limit {
			page = page[:limit]
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"items": page, "limit": limit})
	}))
}

func newTestService(t *testing.T, baseURL string, pageLimit, maxPages int) *services.SpotifyService {
	t.Helper()
	svc, err := services.NewSpotifyService(services.SpotifyOpts{
		BaseURL:   baseURL,
		Tokens:    &tu.StaticTokens{},
		RateLimit: 1000,
		RateBurst: 100,
		PageLimit: pageLimit,
		MaxPages:  maxPages,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc
}

func TestSpotifyService(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("NewSpotifyService Requires Token Provider", func(t *testing.T) {
		_, err := services.NewSpotifyService(services.SpotifyOpts{})
		tu.AssertErrorIs(t, err, shared.ErrInvalidInput)
	})

	t.Run("RecentPlaysSince", func(t *testing.T) {
		t.Run("Pages Forward Until Short Page", func(t *testing.T) {
			var items []map[string]any
			for i := 1; i <= 7; i++ {
				items = append(items, playedItem(fmt.Sprintf("track-%d", i), base.Add(time.Duration(i)*time.Minute)))
			}
			server := recentlyPlayedServer(t, items)
			defer server.Close()

			svc := newTestService(t, server.URL, 2, 10)
			result, err := svc.RecentPlaysSince(ctx, base)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}

			if len(result.Events) != 7 {
				t.Errorf("expected 7 events, got %d", len(result.Events))
			}
			// three full pages of 2 plus a short page of 1
			if result.Pages != 4 {
				t.Errorf("expected 4 pages, got %d", result.Pages)
			}
		})

		t.Run("Nothing Newer Than Watermark", func(t *testing.T) {
			items := []map[string]any{playedItem("track-1", base.Add(time.Minute))}
			server := recentlyPlayedServer(t, items)
			defer server.Close()

			svc := newTestService(t, server.URL, 2, 10)
			result, err := svc.RecentPlaysSince(ctx, base.Add(time.Hour))
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(result.Events) != 0 {
				t.Errorf("expected no events, got %d", len(result.Events))
			}
			if result.Pages != 1 {
				t.Errorf("expected a single page, got %d", result.Pages)
			}
		})

		t.Run("Stops At Page Budget", func(t *testing.T) {
			var items []map[string]any
			for i := 1; i <= 10; i++ {
				items = append(items, playedItem(fmt.Sprintf("track-%d", i), base.Add(time.Duration(i)*time.Minute)))
			}
			server := recentlyPlayedServer(t, items)
			defer server.Close()

			svc := newTestService(t, server.URL, 2, 3)
			result, err := svc.RecentPlaysSince(ctx, base)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if result.Pages != 3 {
				t.Errorf("expected page budget of 3, got %d", result.Pages)
			}
			if len(result.Events) != 6 {
				t.Errorf("expected 6 events from 3 pages, got %d", len(result.Events))
			}
		})

		t.Run("Counts Malformed Records", func(t *testing.T) {
			missingID := playedItem("", base.Add(time.Minute))
			badTimestamp := playedItem("track-2", base.Add(2*time.Minute))
			badTimestamp["played_at"] = "not-a-timestamp"
			items := []map[string]any{
				missingID,
				badTimestamp,
				playedItem("track-3", base.Add(3*time.Minute)),
			}

			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				json.NewEncoder(w).Encode(map[string]any{"items": items})
			}))
			defer server.Close()

			svc := newTestService(t, server.URL, 50, 10)
			result, err := svc.RecentPlays(ctx, 50)
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(result.Events) != 1 {
				t.Errorf("expected 1 valid event, got %d", len(result.Events))
			}
			if result.Malformed != 2 {
				t.Errorf("expected 2 malformed records, got %d", result.Malformed)
			}
		})
	})

	t.Run("RecentHistory Pages Backward", func(t *testing.T) {
		var items []map[string]any
		for i := 1; i <= 5; i++ {
			items = append(items, playedItem(fmt.Sprintf("track-%d", i), base.Add(time.Duration(i)*time.Minute)))
		}
		server := recentlyPlayedServer(t, items)
		defer server.Close()

		svc := newTestService(t, server.URL, 2, 10)
		result, err := svc.RecentHistory(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(result.Events) != 5 {
			t.Errorf("expected all 5 retained events, got %d", len(result.Events))
		}
		if result.Pages != 3 {
			t.Errorf("expected 3 pages, got %d", result.Pages)
		}
	})

	t.Run("Error Mapping", func(t *testing.T) {
		statusServer := func(status int) *httptest.Server {
			return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(status)
			}))
		}

		cases := []struct {
			name   string
			status int
			want   error
		}{
			{"Unauthorized", http.StatusUnauthorized, shared.ErrAuthFailed},
			{"Forbidden", http.StatusForbidden, shared.ErrForbidden},
			{"Not Found", http.StatusNotFound, shared.ErrNotFound},
		}

		for _, tc := range cases {
			t.Run(tc.name, func(t *testing.T) {
				server := statusServer(tc.status)
				defer server.Close()

				svc := newTestService(t, server.URL, 50, 10)
				_, err := svc.RecentPlays(ctx, 10)
				tu.AssertErrorIs(t, err, tc.want)
			})
		}
	})

	t.Run("Rate Limiting", func(t *testing.T) {
		t.Run("Honors Retry-After Then Succeeds", func(t *testing.T) {
			requests := 0
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				requests++
				if requests == 1 {
					w.Header().Set("Retry-After", "0")
					w.WriteHeader(http.StatusTooManyRequests)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"items": []map[string]any{playedItem("track-1", base.Add(time.Minute))},
				})
			}))
			defer server.Close()

			svc := newTestService(t, server.URL, 50, 10)
			result, err := svc.RecentPlays(ctx, 10)
			if err != nil {
				t.Fatalf("expected retry to succeed, got %v", err)
			}
			if len(result.Events) != 1 {
				t.Errorf("expected 1 event, got %d", len(result.Events))
			}
			if requests != 2 {
				t.Errorf("expected 2 requests, got %d", requests)
			}
		})

		t.Run("Persistent 429 Exhausts Budget", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "0")
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer server.Close()

			svc, err := services.NewSpotifyService(services.SpotifyOpts{
				BaseURL:    server.URL,
				Tokens:     &tu.StaticTokens{},
				RateLimit:  1000,
				RateBurst:  100,
				MaxRetries: 1,
			})
			if err != nil {
				t.Fatalf("failed to create service: %v", err)
			}

			_, err = svc.RecentPlays(ctx, 10)
			tu.AssertErrorIs(t, err, shared.ErrRateLimited)
		})

		t.Run("Final 429 Fails Without Waiting", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
			}))
			defer server.Close()

			svc, err := services.NewSpotifyService(services.SpotifyOpts{
				BaseURL:    server.URL,
				Tokens:     &tu.StaticTokens{},
				RateLimit:  1000,
				RateBurst:  100,
				MaxRetries: 1,
			})
			if err != nil {
				t.Fatalf("failed to create service: %v", err)
			}

			start := time.Now()
			_, err = svc.RecentPlays(ctx, 10)
			tu.AssertErrorIs(t, err, shared.ErrRateLimited)
			// only the wait between the two attempts, none after the last
			if elapsed := time.Since(start); elapsed >= 2*time.Second {
				t.Errorf("expected no wait after the final attempt, took %v", elapsed)
			}
		})
	})

	t.Run("Transient Server Error Is Retried", func(t *testing.T) {
		requests := 0
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			json.NewEncoder(w).Encode(map[string]any{
				"items": []map[string]any{playedItem("track-1", base.Add(time.Minute))},
			})
		}))
		defer server.Close()

		svc := newTestService(t, server.URL, 50, 10)
		result, err := svc.RecentPlays(ctx, 10)
		if err != nil {
			t.Fatalf("expected retry to succeed, got %v", err)
		}
		if len(result.Events) != 1 {
			t.Errorf("expected 1 event, got %d", len(result.Events))
		}
	})

	t.Run("SeveralArtists", func(t *testing.T) {
		t.Run("Rejects Empty And Oversized Input", func(t *testing.T) {
			svc := newTestService(t, "http://localhost", 50, 10)

			_, err := svc.SeveralArtists(ctx, nil)
			tu.AssertErrorIs(t, err, shared.ErrInvalidInput)

			ids := make([]string, services.MaxPageSize+1)
			for i := range ids {
				ids[i] = fmt.Sprintf("artist-%d", i)
			}
			_, err = svc.SeveralArtists(ctx, ids)
			tu.AssertErrorIs(t, err, shared.ErrInvalidInput)
		})

		t.Run("Maps Artist Fields", func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/artists" {
					http.NotFound(w, r)
					return
				}
				json.NewEncoder(w).Encode(map[string]any{
					"artists": []map[string]any{
						{
							"id":         "artist-1",
							"name":       "First Artist",
							"genres":     []string{"indie"},
							"popularity": 61,
							"followers":  map[string]any{"total": 12345},
							"images":     []map[string]any{{"url": "https://img.example/1.jpg"}},
						},
						nil,
					},
				})
			}))
			defer server.Close()

			svc := newTestService(t, server.URL, 50, 10)
			artists, err := svc.SeveralArtists(ctx, []string{"artist-1", "artist-unknown"})
			if err != nil {
				t.Fatalf("expected no error, got %v", err)
			}
			if len(artists) != 1 {
				t.Fatalf("expected null artist to be skipped, got %d", len(artists))
			}
			a := artists[0]
			if a.Name != "First Artist" || a.Followers != 12345 || a.ImageURL != "https://img.example/1.jpg" {
				t.Errorf("unexpected artist mapping: %+v", a)
			}
		})
	})

	t.Run("Transport Failure Surfaces As Transient", func(t *testing.T) {
		rt := tu.NewMockRoundTripper(nil, errors.New("connection reset"))
		svc, err := services.NewSpotifyService(services.SpotifyOpts{
			BaseURL:    "http://localhost",
			HTTPClient: &http.Client{Transport: rt},
			Tokens:     &tu.StaticTokens{},
			RateLimit:  1000,
			RateBurst:  100,
			MaxRetries: 1,
		})
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		_, err = svc.RecentPlays(ctx, 10)
		tu.AssertErrorIs(t, err, shared.ErrTransient)
	})

	t.Run("Token Failure Aborts Fetch", func(t *testing.T) {
		svc, err := services.NewSpotifyService(services.SpotifyOpts{
			BaseURL: "http://localhost",
			Tokens:  &tu.StaticTokens{Err: shared.ErrAuthExpired},
		})
		if err != nil {
			t.Fatalf("failed to create service: %v", err)
		}

		_, err = svc.RecentPlays(ctx, 10)
		tu.AssertErrorIs(t, err, shared.ErrAuthExpired)
	})
}
