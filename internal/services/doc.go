// Package services implements the Spotify Web API client that feeds the
// ingestion pipeline.
//
// # Fetching
//
// [SpotifyService] wraps the recently-played endpoint with cursor-based
// pagination in both directions:
//
//   - [SpotifyService.RecentPlaysSince] pages forward from a watermark using
//     the after parameter, for incremental runs
//   - [SpotifyService.RecentPlays] fetches the single most recent page, used
//     on a first run to bound cost
//   - [SpotifyService.RecentHistory] pages backward with before until the
//     provider runs out of history, used by the backfill command
//
// Page sequences are finite and non-restartable: a failed fetch is retried by
// re-invoking from the original cursor, never by resuming mid-sequence.
//
// # Error handling
//
// Responses map onto the shared taxonomy so the orchestrator can tell auth
// failures from transient ones: 401 -> [shared.ErrAuthFailed], 403 ->
// [shared.ErrForbidden], 404 -> [shared.ErrNotFound], 429 -> bounded
// Retry-After wait then [shared.ErrRateLimited], 5xx and transport errors ->
// bounded exponential backoff then [shared.ErrTransient]. Individual records
// that fail to parse are dropped and counted, never aborting the page.
//
// Requests are paced with a [rate.Limiter] and authenticated per call through
// a [TokenProvider], so a token is never reused past its expiry.
package services
