// Package auth manages the OAuth token lifecycle across stateless executions.
//
// [Manager] drives a small state machine over the stored token pair:
//
//	NoCredentials -> (interactive authorization) -> Valid
//	Valid -> access token past expiry -> Expired
//	Expired -> Refreshing -> Valid (new record persisted first) or Failed
//
// Failed is terminal for the current execution: the refresh token itself was
// rejected, recovery requires an operator to re-authorize, and the condition
// is surfaced as [shared.ErrAuthExpired] so callers never retry it as a
// transient fault. Every other component assumes the token returned by
// [Manager.EnsureValidToken] stays valid for the duration of the next call.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/soundfold/playlog/internal/shared"
	"golang.org/x/oauth2"
)

// State identifies where the manager is in the token lifecycle.
type State int

const (
	StateNoCredentials State = iota
	StateValid
	StateExpired
	StateRefreshing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoCredentials:
		return "no_credentials"
	case StateValid:
		return "valid"
	case StateExpired:
		return "expired"
	case StateRefreshing:
		return "refreshing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// expiryLeeway refreshes slightly early so a token handed out is still valid
// for the duration of the network call that uses it.
const expiryLeeway = 30 * time.Second

// Manager guarantees a valid, non-expired access token for every API call,
// refreshing and re-persisting through the [CredentialStore] as needed.
type Manager struct {
	config *oauth2.Config
	store  CredentialStore
	logger *log.Logger

	state State
	creds *Credentials

	// injectable for tests
	now          func() time.Time
	refreshToken func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error)
}

// NewManager creates a Manager over the given OAuth config and credential store.
func NewManager(config *oauth2.Config, store CredentialStore, logger *log.Logger) *Manager {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	m := &Manager{
		config: config,
		store:  store,
		logger: logger,
		state:  StateNoCredentials,
		now:    time.Now,
	}
	m.refreshToken = func(ctx context.Context, stale *oauth2.Token) (*oauth2.Token, error) {
		// TokenSource performs the refresh grant; Expiry on the returned token
		// is derived from the server's expires_in, never estimated locally.
		return m.config.TokenSource(ctx, stale).Token()
	}
	return m
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	return m.state
}

// AuthURL returns the authorization URL for the interactive bootstrap flow.
func (m *Manager) AuthURL(state string) string {
	return m.config.AuthCodeURL(state, oauth2.AccessTypeOffline)
}

// Exchange completes the authorization-code flow and persists the resulting
// token pair, moving the manager from NoCredentials to Valid.
func (m *Manager) Exchange(ctx context.Context, code string) error {
	token, err := m.config.Exchange(ctx, code)
	if err != nil {
		return fmt.Errorf("%w: code exchange: %v", shared.ErrAuthFailed, err)
	}

	creds := FromToken(token, nil)
	if err := m.store.Save(ctx, creds); err != nil {
		return err
	}

	m.creds = creds
	m.state = StateValid
	m.logger.Info("authorization complete", "expires_at", creds.ExpiresAt)
	return nil
}

// EnsureValidToken returns an access token guaranteed to be valid, driving
// the state machine and leaving the credential store holding the freshest
// known-valid record before returning.
func (m *Manager) EnsureValidToken(ctx context.Context) (string, error) {
	if m.state == StateFailed {
		return "", fmt.Errorf("%w: re-authorization required", shared.ErrAuthExpired)
	}

	if m.creds == nil {
		creds, err := m.store.Load(ctx)
		if err != nil {
			if errors.Is(err, shared.ErrAuthBootstrap) {
				m.state = StateNoCredentials
			}
			return "", err
		}
		m.creds = creds
	}

	if m.now().Add(expiryLeeway).Before(m.creds.ExpiresAt) {
		m.state = StateValid
		return m.creds.AccessToken, nil
	}

	m.state = StateExpired
	return m.refresh(ctx)
}

// refresh submits the refresh token and persists the new record before
// handing the access token back.
func (m *Manager) refresh(ctx context.Context) (string, error) {
	m.state = StateRefreshing
	m.logger.Info("access token expired, refreshing")

	token, err := m.refreshToken(ctx, m.creds.Token())
	if err != nil {
		if isRefreshRejected(err) {
			m.state = StateFailed
			m.logger.Error("refresh token rejected, operator re-authorization required")
			return "", fmt.Errorf("%w: %v", shared.ErrAuthExpired, err)
		}
		m.state = StateExpired
		return "", fmt.Errorf("%w: token refresh: %v", shared.ErrTransient, err)
	}

	creds := FromToken(token, m.creds)

	// An unsaved refreshed token is silently lost when the execution
	// environment is torn down, surfacing later as an unrecoverable
	// expired-refresh-token failure. Escalate save failures here.
	if err := m.store.Save(ctx, creds); err != nil {
		m.state = StateExpired
		return "", err
	}

	m.creds = creds
	m.state = StateValid
	m.logger.Info("token refreshed", "expires_at", creds.ExpiresAt)
	return creds.AccessToken, nil
}

// isRefreshRejected reports whether the authorization server rejected the
// refresh grant itself, as opposed to a transient transport failure.
func isRefreshRejected(err error) bool {
	var retrieveErr *oauth2.RetrieveError
	if errors.As(err, &retrieveErr) {
		switch retrieveErr.Response.StatusCode {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
			return true
		}
	}
	return false
}
