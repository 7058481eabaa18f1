// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/soundfold/playlog/internal/models"
	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
)

// MemoryStore is an in-memory test double for [storage.ObjectStore].
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	Puts    int
	FailPut error // next PutObject returns this error when set
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: map[string][]byte{}}
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

func (m *MemoryStore) EnsureBucket(ctx context.Context, bucket string) error { return nil }

func (m *MemoryStore) PutObject(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Puts++
	if m.FailPut != nil {
		return m.FailPut
	}
	buf := make([]byte, len(data))
	copy(buf, data)
	m.objects[bucket+"/"+key] = buf
	return nil
}

func (m *MemoryStore) GetObject(ctx context.Context, bucket, key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, key)
	}
	return data, nil
}

func (m *MemoryStore) ListPrefix(ctx context.Context, bucket, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	base := bucket + "/"
	for k := range m.objects {
		if strings.HasPrefix(k, base) && strings.HasPrefix(k[len(base):], prefix) {
			keys = append(keys, k[len(base):])
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Object returns the stored bytes for a key, failing the test when absent.
func (m *MemoryStore) Object(t *testing.T, bucket, key string) []byte {
	t.Helper()
	data, err := m.GetObject(context.Background(), bucket, key)
	if err != nil {
		t.Fatalf("object %s/%s not found", bucket, key)
	}
	return data
}

// StaticTokens is a [services.TokenProvider] double returning a fixed token.
type StaticTokens struct {
	Token string
	Err   error
	Calls int
}

func (s *StaticTokens) EnsureValidToken(ctx context.Context) (string, error) {
	s.Calls++
	if s.Err != nil {
		return "", s.Err
	}
	if s.Token == "" {
		return "test-token", nil
	}
	return s.Token, nil
}

// StubFetcher is a [services.Fetcher] double returning canned results.
type StubFetcher struct {
	Result  *services.FetchResult
	Artists []models.Artist
	Err     error

	RecentPlaysCalls      int
	RecentPlaysSinceCalls int
	RecentHistoryCalls    int
	LastLimit             int
	LastAfter             time.Time
}

func (s *StubFetcher) RecentPlays(ctx context.Context, limit int) (*services.FetchResult, error) {
	s.RecentPlaysCalls++
	s.LastLimit = limit
	return s.result()
}

func (s *StubFetcher) RecentPlaysSince(ctx context.Context, after time.Time) (*services.FetchResult, error) {
	s.RecentPlaysSinceCalls++
	s.LastAfter = after
	return s.result()
}

func (s *StubFetcher) RecentHistory(ctx context.Context) (*services.FetchResult, error) {
	s.RecentHistoryCalls++
	return s.result()
}

func (s *StubFetcher) SeveralArtists(ctx context.Context, ids []string) ([]models.Artist, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Artists, nil
}

func (s *StubFetcher) result() (*services.FetchResult, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	if s.Result == nil {
		return &services.FetchResult{}, nil
	}
	return s.Result, nil
}

// FailingCursor is a cursor double whose Advance always fails.
type FailingCursor struct {
	Watermark    time.Time
	Found        bool
	AdvanceCalls int
}

func (f *FailingCursor) LoadWatermark(ctx context.Context) (time.Time, bool, error) {
	return f.Watermark, f.Found, nil
}

func (f *FailingCursor) Advance(ctx context.Context, watermark time.Time) error {
	f.AdvanceCalls++
	return errors.New("advance failed")
}

// MockRoundTripper allows custom HTTP responses for testing.
type MockRoundTripper struct {
	response *http.Response
	err      error
}

func NewMockRoundTripper(r *http.Response, e error) *MockRoundTripper {
	return &MockRoundTripper{response: r, err: e}
}

func (m *MockRoundTripper) RoundTrip(*http.Request) (*http.Response, error) {
	return m.response, m.err
}

// PlayEvent builds a listening event fixture for the given track and instant.
func PlayEvent(trackID string, playedAt time.Time) models.PlayEvent {
	return models.PlayEvent{
		PlayedAt:   playedAt.UTC(),
		PlayedAtMS: playedAt.UnixMilli(),
		TrackID:    trackID,
		TrackName:  "track " + trackID,
		ArtistID:   "artist-" + trackID,
		ArtistName: "artist for " + trackID,
		AlbumID:    "album-" + trackID,
		AlbumName:  "album for " + trackID,
		DurationMS: 180000,
	}
}

// MustOpenDB opens an in-memory SQLite database with migrations applied.
func MustOpenDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}
	return db
}

// AssertErrorIs fails the test when err does not wrap target.
func AssertErrorIs(t *testing.T, err, target error) {
	t.Helper()
	if !errors.Is(err, target) {
		t.Errorf("expected error wrapping %v, got %v", target, err)
	}
}
