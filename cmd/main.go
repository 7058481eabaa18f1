package main

import (
	"context"
	"errors"
	"os"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/soundfold/playlog/internal/auth"
	"github.com/soundfold/playlog/internal/repositories"
	"github.com/soundfold/playlog/internal/services"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/soundfold/playlog/internal/state"
	"github.com/soundfold/playlog/internal/storage"
	"github.com/soundfold/playlog/internal/tasks"
	"github.com/urfave/cli/v3"
)

func main() {
	logger := shared.NewLogger(nil)

	godotenv.Load()

	if os.Getenv("PLAYLOG_DEBUG") != "" {
		shared.SetLogLevel(logger, log.DebugLevel)
	}

	config := shared.DefaultConfig()
	if _, err := os.Stat("config.toml"); err == nil {
		if loadedConfig, err := shared.LoadConfig("config.toml"); err == nil {
			config = loadedConfig
		} else {
			logger.Warn("failed to load config.toml, using defaults", "error", err)
		}
	}
	config.ApplyEnv()

	var store storage.ObjectStore
	if config.Storage.Endpoint != "" {
		s3, err := storage.NewS3Store(storage.S3Opts{
			Endpoint:        config.Storage.Endpoint,
			AccessKeyID:     config.Storage.AccessKeyID,
			SecretAccessKey: config.Storage.SecretAccessKey,
			Region:          config.Storage.Region,
			UseSSL:          config.Storage.UseSSL,
		})
		if err != nil {
			logger.Fatalf("failed to initialize object store: %v", err)
		}
		store = s3
	} else {
		store = storage.NewLocalStore(config.Storage.LocalPath)
	}

	credStore := auth.NewObjectCredentialStore(store, config.Storage.Bucket, config.Storage.TokenKey)
	oauthConfig := auth.NewSpotifyOAuthConfig(
		config.Credentials.Spotify.ClientID,
		config.Credentials.Spotify.ClientSecret,
		config.Credentials.Spotify.RedirectURI,
	)
	manager := auth.NewManager(oauthConfig, credStore, logger)

	spotify, err := services.NewSpotifyService(services.SpotifyOpts{
		Tokens:     manager,
		RateLimit:  config.Ingestion.RateLimit,
		RateBurst:  config.Ingestion.RateBurst,
		MaxRetries: config.Ingestion.MaxRetries,
		PageLimit:  config.Ingestion.PageLimit,
		MaxPages:   config.Ingestion.MaxPages,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatalf("failed to initialize Spotify client: %v", err)
	}

	cursor := state.NewCursorStore(store, config.Storage.Bucket, config.Storage.StateKey, logger)
	writer := storage.NewBatchWriter(storage.BatchWriterOpts{
		Store:       store,
		Bucket:      config.Storage.Bucket,
		Prefix:      config.Storage.RawPrefix,
		MaxAttempts: config.Ingestion.MaxRetries,
		Logger:      logger,
	})

	// Ledger is best-effort: a broken local database never blocks ingestion.
	var runs *repositories.RunRepository
	if db, err := shared.NewDatabase(config.Database.Path); err != nil {
		logger.Warn("run ledger unavailable", "error", err)
	} else if err := shared.RunMigrations(db); err != nil {
		logger.Warn("run ledger migrations failed", "error", err)
		db.Close()
	} else {
		shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)
		runs = repositories.NewRunRepository(db)
		defer db.Close()
	}

	var recorder tasks.RunRecorder
	if runs != nil {
		recorder = runs
	}

	engine := tasks.NewIngestEngine(tasks.EngineOpts{
		Tokens:        manager,
		Fetcher:       spotify,
		Cursor:        cursor,
		Writer:        writer,
		Runs:          recorder,
		Store:         store,
		Bucket:        config.Storage.Bucket,
		RawPrefix:     config.Storage.RawPrefix,
		ArtistsPrefix: config.Storage.ArtistsPrefix,
		FirstRunLimit: config.Ingestion.FirstRunLimit,
		Logger:        logger,
	})

	runner := NewRunner(RunnerOpts{
		Config:  config,
		Store:   store,
		Auth:    manager,
		Spotify: spotify,
		Engine:  engine,
		Runs:    runs,
		Logger:  logger,
	})

	app := &cli.Command{
		Name:     "playlog",
		Usage:    "Incrementally sync Spotify listening history to object storage",
		Version:  "0.3.0",
		Commands: runner.register(),
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		if errors.Is(err, shared.ErrAuthBootstrap) || errors.Is(err, shared.ErrAuthExpired) {
			logger.Error(err.Error())
			os.Exit(1)
		}
		logger.Fatalf("application error: %v", err)
	}
}
