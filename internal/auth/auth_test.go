package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/soundfold/playlog/internal/shared"
	tu "github.com/soundfold/playlog/internal/testing"
	"golang.org/x/oauth2"
)

// memCredStore is an in-memory CredentialStore double.
type memCredStore struct {
	creds   *Credentials
	saveErr error
	saves   int
}

func (m *memCredStore) Load(ctx context.Context) (*Credentials, error) {
	if m.creds == nil {
		return nil, shared.ErrAuthBootstrap
	}
	return m.creds, nil
}

func (m *memCredStore) Save(ctx context.Context, creds *Credentials) error {
	m.saves++
	if m.saveErr != nil {
		return m.saveErr
	}
	m.creds = creds
	return nil
}

func testConfig() *oauth2.Config {
	return NewSpotifyOAuthConfig("client-id", "client-secret", "http://localhost:8080/callback")
}

func TestManager(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	newManager := func(store CredentialStore) *Manager {
		m := NewManager(testConfig(), store, nil)
		m.now = func() time.Time { return now }
		return m
	}

	t.Run("No Stored Credentials", func(t *testing.T) {
		m := newManager(&memCredStore{})

		_, err := m.EnsureValidToken(ctx)
		tu.AssertErrorIs(t, err, shared.ErrAuthBootstrap)
		if m.State() != StateNoCredentials {
			t.Errorf("expected no_credentials state, got %s", m.State())
		}
	})

	t.Run("Valid Token Returned Without Refresh", func(t *testing.T) {
		store := &memCredStore{creds: &Credentials{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    now.Add(time.Hour),
		}}
		m := newManager(store)
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			t.Fatal("refresh should not run for a valid token")
			return nil, nil
		}

		token, err := m.EnsureValidToken(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "access" {
			t.Errorf("expected stored access token, got %q", token)
		}
		if m.State() != StateValid {
			t.Errorf("expected valid state, got %s", m.State())
		}
		if store.saves != 0 {
			t.Errorf("expected no save for a valid token, got %d", store.saves)
		}
	})

	t.Run("Token Near Expiry Is Refreshed", func(t *testing.T) {
		store := &memCredStore{creds: &Credentials{
			AccessToken:  "stale",
			RefreshToken: "refresh",
			ExpiresAt:    now.Add(10 * time.Second),
		}}
		m := newManager(store)

		refreshes := 0
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			refreshes++
			if stale.RefreshToken != "refresh" {
				t.Errorf("expected stored refresh token, got %q", stale.RefreshToken)
			}
			return &oauth2.Token{
				AccessToken:  "fresh",
				RefreshToken: "refresh",
				Expiry:       now.Add(time.Hour),
			}, nil
		}

		token, err := m.EnsureValidToken(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if token != "fresh" {
			t.Errorf("expected refreshed token, got %q", token)
		}
		if refreshes != 1 {
			t.Errorf("expected exactly one refresh, got %d", refreshes)
		}
		if store.saves != 1 {
			t.Errorf("expected refreshed credentials to be persisted, got %d saves", store.saves)
		}
		if store.creds.AccessToken != "fresh" {
			t.Error("store should hold the refreshed record")
		}
	})

	t.Run("Refresh Response Without Refresh Token Keeps Old One", func(t *testing.T) {
		store := &memCredStore{creds: &Credentials{
			AccessToken:  "stale",
			RefreshToken: "long-lived",
			ExpiresAt:    now.Add(-time.Minute),
		}}
		m := newManager(store)
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "fresh", Expiry: now.Add(time.Hour)}, nil
		}

		if _, err := m.EnsureValidToken(ctx); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if store.creds.RefreshToken != "long-lived" {
			t.Errorf("refresh token was dropped, got %q", store.creds.RefreshToken)
		}
	})

	t.Run("Rejected Refresh Token Is Terminal", func(t *testing.T) {
		store := &memCredStore{creds: &Credentials{
			AccessToken:  "stale",
			RefreshToken: "revoked",
			ExpiresAt:    now.Add(-time.Minute),
		}}
		m := newManager(store)

		refreshes := 0
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			refreshes++
			return nil, &oauth2.RetrieveError{Response: &http.Response{StatusCode: http.StatusBadRequest}}
		}

		_, err := m.EnsureValidToken(ctx)
		tu.AssertErrorIs(t, err, shared.ErrAuthExpired)
		if m.State() != StateFailed {
			t.Errorf("expected failed state, got %s", m.State())
		}

		// Failed is terminal: no further refresh attempts this execution.
		_, err = m.EnsureValidToken(ctx)
		tu.AssertErrorIs(t, err, shared.ErrAuthExpired)
		if refreshes != 1 {
			t.Errorf("expected no retry after rejection, got %d refreshes", refreshes)
		}
	})

	t.Run("Transport Failure During Refresh Is Transient", func(t *testing.T) {
		store := &memCredStore{creds: &Credentials{
			AccessToken:  "stale",
			RefreshToken: "refresh",
			ExpiresAt:    now.Add(-time.Minute),
		}}
		m := newManager(store)
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			return nil, errors.New("connection reset")
		}

		_, err := m.EnsureValidToken(ctx)
		tu.AssertErrorIs(t, err, shared.ErrTransient)
		if m.State() != StateExpired {
			t.Errorf("expected expired state, got %s", m.State())
		}
	})

	t.Run("Save Failure After Refresh Escalates", func(t *testing.T) {
		store := &memCredStore{
			creds: &Credentials{
				AccessToken:  "stale",
				RefreshToken: "refresh",
				ExpiresAt:    now.Add(-time.Minute),
			},
			saveErr: shared.ErrCredentialSave,
		}
		m := newManager(store)
		m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
			return &oauth2.Token{AccessToken: "fresh", RefreshToken: "refresh", Expiry: now.Add(time.Hour)}, nil
		}

		_, err := m.EnsureValidToken(ctx)
		tu.AssertErrorIs(t, err, shared.ErrCredentialSave)
		if m.State() != StateExpired {
			t.Errorf("expected expired state after failed save, got %s", m.State())
		}
	})

	t.Run("AuthURL Contains Client And State", func(t *testing.T) {
		m := newManager(&memCredStore{})

		url := m.AuthURL("csrf-token")
		if url == "" {
			t.Fatal("expected auth URL")
		}
		for _, want := range []string{"accounts.spotify.com", "client-id", "csrf-token", "user-read-recently-played"} {
			if !strings.Contains(url, want) {
				t.Errorf("auth URL missing %q: %s", want, url)
			}
		}
	})
}

func TestObjectCredentialStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Missing Record Wraps ErrAuthBootstrap", func(t *testing.T) {
		store := NewObjectCredentialStore(tu.NewMemoryStore(), "bucket", "secrets/spotify_token.json")

		_, err := store.Load(ctx)
		tu.AssertErrorIs(t, err, shared.ErrAuthBootstrap)
	})

	t.Run("Roundtrip", func(t *testing.T) {
		store := NewObjectCredentialStore(tu.NewMemoryStore(), "bucket", "secrets/spotify_token.json")

		creds := &Credentials{
			AccessToken:  "access",
			RefreshToken: "refresh",
			ExpiresAt:    time.Date(2025, 6, 1, 13, 0, 0, 0, time.UTC),
		}
		if err := store.Save(ctx, creds); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		loaded, err := store.Load(ctx)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if loaded.AccessToken != "access" || loaded.RefreshToken != "refresh" {
			t.Errorf("unexpected credentials: %+v", loaded)
		}
		if !loaded.ExpiresAt.Equal(creds.ExpiresAt) {
			t.Errorf("expected expiry %v, got %v", creds.ExpiresAt, loaded.ExpiresAt)
		}
	})

	t.Run("Corrupt Record", func(t *testing.T) {
		mem := tu.NewMemoryStore()
		mem.PutObject(ctx, "bucket", "secrets/spotify_token.json", []byte("not json"), "application/json")
		store := NewObjectCredentialStore(mem, "bucket", "secrets/spotify_token.json")

		_, err := store.Load(ctx)
		tu.AssertErrorIs(t, err, shared.ErrStateCorrupt)
	})

	t.Run("Refuses To Save Without Refresh Token", func(t *testing.T) {
		store := NewObjectCredentialStore(tu.NewMemoryStore(), "bucket", "secrets/spotify_token.json")

		err := store.Save(ctx, &Credentials{AccessToken: "access"})
		tu.AssertErrorIs(t, err, shared.ErrInvalidInput)
	})
}
