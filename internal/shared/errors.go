package shared

import "fmt"

var (
	// Configuration errors
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Authentication errors
	//
	// ErrAuthBootstrap means no stored credentials exist and an operator must
	// run the interactive authorization flow. ErrAuthExpired means the refresh
	// token itself was rejected; re-authorization is the only recovery and the
	// condition is never retried automatically.
	ErrAuthBootstrap    = fmt.Errorf("authorization required")
	ErrAuthExpired      = fmt.Errorf("refresh token rejected")
	ErrAuthFailed       = fmt.Errorf("authentication failed")
	ErrNotAuthenticated = fmt.Errorf("not authenticated")
	ErrCredentialSave   = fmt.Errorf("credential save failed")

	// API errors, kept distinct so auth failures are never mistaken for transient ones
	ErrForbidden   = fmt.Errorf("permission denied")
	ErrNotFound    = fmt.Errorf("not found")
	ErrRateLimited = fmt.Errorf("rate limited")
	ErrTransient   = fmt.Errorf("transient network error")

	// Storage errors
	ErrStorageWrite = fmt.Errorf("storage write failed")
	ErrStateCorrupt = fmt.Errorf("state record corrupt")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidFlag     = fmt.Errorf("invalid flag value")
)
