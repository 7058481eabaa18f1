package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/soundfold/playlog/internal/server"
	"github.com/soundfold/playlog/internal/shared"
	"github.com/urfave/cli/v3"
)

// loginTimeout bounds how long the callback server waits for the browser.
const loginTimeout = 5 * time.Minute

// AuthLogin runs the browser OAuth2 authorization flow.
//
// Starts a temporary HTTP server on the configured callback address, opens
// the authorization URL, waits for the callback, and persists the resulting
// credentials to the object store.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	state := shared.GenerateID()
	handler := server.NewCallbackHandler(state, func(code string) error {
		return r.auth.Exchange(ctx, code)
	})

	router := server.NewBasicRouter()
	router.Use(server.RequestLogger(r.logger))
	router.Handler(handler)

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	srv := &http.Server{Addr: addr, Handler: router}

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	authURL := r.auth.AuthURL(state)
	if cmd.Bool("no-browser") {
		r.writePlain("Open this URL in your browser to authorize:\n%s\n", authURL)
	} else {
		r.logger.Info("opening browser for authorization", "callback", addr)
		if err := shared.OpenBrowser(authURL); err != nil {
			r.logger.Warn("failed to open browser", "error", err)
			r.writePlain("Open this URL in your browser to authorize:\n%s\n", authURL)
		}
	}

	select {
	case result := <-handler.Result():
		if err := result.Error(); err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
		}
	case err := <-serveErr:
		return fmt.Errorf("callback server failed: %w", err)
	case <-time.After(loginTimeout):
		return fmt.Errorf("%w: timed out waiting for authorization", shared.ErrAuthFailed)
	case <-ctx.Done():
		return ctx.Err()
	}

	r.logger.Info("authorization complete, credentials stored")
	return r.writePlain("✓ Spotify account connected\n")
}

// AuthStatus reports the stored credential state.
//
// When credentials are usable it also fetches the user profile so the
// operator can confirm which account is connected.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	if err := r.config.Validate(); err != nil {
		return err
	}

	_, err := r.auth.EnsureValidToken(ctx)
	switch {
	case errors.Is(err, shared.ErrAuthBootstrap):
		r.writePlain("✗ Not authenticated\n")
		return r.writePlain("Run 'playlog auth login' to connect a Spotify account\n")
	case errors.Is(err, shared.ErrAuthExpired):
		r.writePlain("✗ Stored refresh token was rejected\n")
		return r.writePlain("Run 'playlog auth login' to re-authorize\n")
	case err != nil:
		return fmt.Errorf("failed to check credentials: %w", err)
	}

	r.writePlain("✓ Authenticated (state: %s)\n", r.auth.State())

	profile, err := r.spotify.UserProfile(ctx)
	if err != nil {
		r.logger.Warn("credentials valid but profile fetch failed", "error", err)
		return nil
	}

	name := profile.DisplayName
	if name == "" {
		name = profile.ID
	}
	return r.writePlain("Account: %s\n", name)
}
