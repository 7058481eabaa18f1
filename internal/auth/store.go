package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/storage"
	"golang.org/x/oauth2"
)

// Credentials is the OAuth token pair persisted across executions.
//
// ExpiresAt always comes from the issuing authority's stated lifetime at the
// moment of (re)issue; it is never re-estimated locally.
type Credentials struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Token converts the record to an [oauth2.Token].
func (c *Credentials) Token() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		RefreshToken: c.RefreshToken,
		Expiry:       c.ExpiresAt,
	}
}

// FromToken builds a [Credentials] record from an [oauth2.Token].
//
// A refresh response may omit the refresh token; prev carries the one already
// on file so it is never dropped.
func FromToken(t *oauth2.Token, prev *Credentials) *Credentials {
	creds := &Credentials{
		AccessToken:  t.AccessToken,
		RefreshToken: t.RefreshToken,
		ExpiresAt:    t.Expiry,
	}
	if creds.RefreshToken == "" && prev != nil {
		creds.RefreshToken = prev.RefreshToken
	}
	return creds
}

// CredentialStore persists the token pair between executions.
//
// Load returns an error wrapping [shared.ErrAuthBootstrap] when no record
// exists yet; callers treat that as "no credentials", not a failure.
type CredentialStore interface {
	Load(ctx context.Context) (*Credentials, error)
	Save(ctx context.Context, creds *Credentials) error
}

// ObjectCredentialStore keeps the token pair as a small JSON blob in the
// object store, mirroring every refresh so the durable copy is always the
// source of truth once the execution environment is torn down.
type ObjectCredentialStore struct {
	store  storage.ObjectStore
	bucket string
	key    string
}

// NewObjectCredentialStore creates a credential store persisting to bucket/key.
func NewObjectCredentialStore(store storage.ObjectStore, bucket, key string) *ObjectCredentialStore {
	if key == "" {
		key = "secrets/spotify_token.json"
	}
	return &ObjectCredentialStore{store: store, bucket: bucket, key: key}
}

// Load retrieves the persisted token pair.
func (s *ObjectCredentialStore) Load(ctx context.Context) (*Credentials, error) {
	data, err := s.store.GetObject(ctx, s.bucket, s.key)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: no stored credentials", shared.ErrAuthBootstrap)
		}
		return nil, fmt.Errorf("failed to load credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrStateCorrupt, err)
	}
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: credential record missing refresh token", shared.ErrStateCorrupt)
	}

	return &creds, nil
}

// Save persists the token pair, replacing any previous record atomically.
func (s *ObjectCredentialStore) Save(ctx context.Context, creds *Credentials) error {
	if creds == nil || creds.RefreshToken == "" {
		return fmt.Errorf("%w: refusing to save credentials without refresh token", shared.ErrInvalidInput)
	}

	data, err := json.MarshalIndent(creds, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCredentialSave, err)
	}

	if err := s.store.PutObject(ctx, s.bucket, s.key, data, "application/json"); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrCredentialSave, err)
	}
	return nil
}
