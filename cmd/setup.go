package main

import (
	"context"
	"fmt"

	"github.com/soundfold/playlog/internal/shared"
	"github.com/urfave/cli/v3"
)

// SetupConfig writes a config.toml from the embedded template.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	if err := shared.CreateConfigFile(configPath); err != nil {
		return err
	}

	r.logger.Info("config file created", "path", configPath)
	r.writePlain("✓ Config written to %s\n", configPath)
	return r.writePlain("Fill in credentials.spotify and storage, then run 'playlog auth login'\n")
}

// SetupDatabase initializes the run-ledger database and runs migrations.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	configPath := cmd.String("config")

	config := r.config
	if loaded, err := shared.LoadConfig(configPath); err == nil {
		config = loaded
	}

	r.logger.Info("initializing database", "path", config.Database.Path)

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}
	defer db.Close()

	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	r.logger.Info("running database migrations")
	if err := shared.RunMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	return nil
}

// SetupStorage verifies object store connectivity and creates the bucket.
func (r *Runner) SetupStorage(ctx context.Context, cmd *cli.Command) error {
	if r.config.Storage.Bucket == "" {
		return fmt.Errorf("%w: storage bucket is required", shared.ErrInvalidConfig)
	}

	r.logger.Info("checking object store connectivity")
	if err := r.store.Ping(ctx); err != nil {
		return fmt.Errorf("object store unreachable: %w", err)
	}

	if err := r.store.EnsureBucket(ctx, r.config.Storage.Bucket); err != nil {
		return fmt.Errorf("failed to ensure bucket: %w", err)
	}

	r.logger.Info("storage ready", "bucket", r.config.Storage.Bucket)
	return r.writePlain("✓ Bucket %q is ready\n", r.config.Storage.Bucket)
}
