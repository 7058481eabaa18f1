// Package server provides HTTP routing, middleware, and the local OAuth
// callback handler used when linking a Spotify account.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Callback Handler
//
// [CallbackHandler] implements the OAuth2 authorization code callback.
//
// The handler validates the state parameter (CSRF protection), runs the
// injected exchange function to obtain and persist credentials, and sends the
// result through a channel.
//
// It only processes one callback to prevent replay attacks.
//
// # Usage
//
// When the user runs `playlog auth login`, a temporary HTTP server starts on
// the configured redirect address, handles the callback, and shuts down after
// the result arrives.
package server
