package storage

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/soundfold/playlog/internal/shared"
)

func TestLocalStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Put And Get Roundtrip", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		data := []byte(`{"hello": "world"}`)
		if err := store.PutObject(ctx, "bucket", "raw/year=2025/month=06/day=01/plays.json", data, "application/json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got, err := store.GetObject(ctx, "bucket", "raw/year=2025/month=06/day=01/plays.json")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if !bytes.Equal(got, data) {
			t.Errorf("expected %s, got %s", data, got)
		}
	})

	t.Run("Get Missing Key Wraps ErrNotFound", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		_, err := store.GetObject(ctx, "bucket", "missing.json")
		if !errors.Is(err, shared.ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("Put Replaces Existing Key", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		store.PutObject(ctx, "bucket", "state.json", []byte("old"), "application/json")
		if err := store.PutObject(ctx, "bucket", "state.json", []byte("new"), "application/json"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		got, err := store.GetObject(ctx, "bucket", "state.json")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if string(got) != "new" {
			t.Errorf("expected replaced content, got %s", got)
		}
	})

	t.Run("ListPrefix", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		store.PutObject(ctx, "bucket", "raw/year=2025/month=06/day=01/a.json", []byte("{}"), "application/json")
		store.PutObject(ctx, "bucket", "raw/year=2025/month=06/day=02/b.json", []byte("{}"), "application/json")
		store.PutObject(ctx, "bucket", "artists/year=2025/month=06/day=01/c.json", []byte("{}"), "application/json")

		keys, err := store.ListPrefix(ctx, "bucket", "raw/")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(keys) != 2 {
			t.Fatalf("expected 2 keys under raw/, got %d: %v", len(keys), keys)
		}
		if keys[0] != "raw/year=2025/month=06/day=01/a.json" {
			t.Errorf("expected sorted keys, got %v", keys)
		}
	})

	t.Run("ListPrefix Of Empty Bucket", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		keys, err := store.ListPrefix(ctx, "bucket", "raw/")
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if len(keys) != 0 {
			t.Errorf("expected no keys, got %v", keys)
		}
	})

	t.Run("EnsureBucket Is Idempotent", func(t *testing.T) {
		store := NewLocalStore(t.TempDir())

		if err := store.EnsureBucket(ctx, "bucket"); err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if err := store.EnsureBucket(ctx, "bucket"); err != nil {
			t.Errorf("expected no error on second ensure, got %v", err)
		}
	})
}

func TestNewS3Store(t *testing.T) {
	t.Run("Requires Endpoint", func(t *testing.T) {
		_, err := NewS3Store(S3Opts{AccessKeyID: "key", SecretAccessKey: "secret"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Requires Access Keys", func(t *testing.T) {
		_, err := NewS3Store(S3Opts{Endpoint: "localhost:9000"})
		if !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("Accepts URL Style Endpoint", func(t *testing.T) {
		store, err := NewS3Store(S3Opts{
			Endpoint:        "https://s3.amazonaws.com",
			AccessKeyID:     "key",
			SecretAccessKey: "secret",
			Region:          "us-east-1",
		})
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		if store == nil {
			t.Fatal("expected store to be created")
		}
	})
}
