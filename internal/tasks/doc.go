// Package tasks orchestrates pipeline executions over the injected auth,
// fetch, storage, and state dependencies.
//
// # Core Operations
//
// [IngestEngine] provides three operations:
//
//  1. [IngestEngine.Ingest] : one incremental ingestion run
//     - Ensures a valid token before any fetch
//     - Resumes from the persisted watermark (bounded single page on first run)
//     - Deduplicates by (track_id, played_at), first occurrence wins
//     - Writes the batch; the watermark only advances after the write lands
//
//  2. [IngestEngine.Backfill] : capture all history the provider retains
//     - Pages backward until the provider runs out
//     - Writes one batch, never touches the watermark
//
//  3. [IngestEngine.Enrich] : the weekly artist-enrichment batch
//     - Scans plays files for unique artist IDs
//     - Fetches artist details in provider-sized chunks
//     - Writes one date-partitioned artists file
//
// # Retry Safety
//
// An execution either commits fully (write then advance) or leaves all
// durable state untouched. Failures map onto the shared error taxonomy so the
// caller can distinguish "retry later" from "needs operator".
//
// # Run Ledger
//
// Every run is appended to the optional [RunRecorder] for local diagnostics.
// Ledger writes are best-effort and never change an execution's outcome.
package tasks
