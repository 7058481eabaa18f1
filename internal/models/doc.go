// Package models defines the domain records that flow through the ingestion pipeline.
//
// The package contains two categories of types:
//
// 1. Wire records persisted to the object store and re-read by the downstream
// transformation layer:
//   - [PlayEvent] : one listening event, normalized from the provider payload
//   - [Batch] : the ordered events produced by a single execution plus metadata
//   - [Artist] : artist details written by the enrichment job
//
// 2. Operational records:
//   - [IngestRun] : one row in the local run ledger, recording what an
//     execution fetched, wrote, and advanced
//
// A PlayEvent is identified by (TrackID, PlayedAtMS): the same track may be
// played at two different times, but the same pair is never a legitimate
// duplicate. [DedupPlays] removes exact duplicates across overlapping pages,
// keeping the first occurrence in provider order.
package models
