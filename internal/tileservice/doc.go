// Package tileservice is the server-side orchestration layer between the HTTP
// API and the tile store. It is structured into small files by concern:
//
//   - service.go: Service type, constructor, descriptor and tile reads.
//   - config.go: ServiceConfig and package defaults.
//   - ingest.go: Ingest/IngestDir/WatchDir, building and committing pyramids.
//   - errors.go: error types and predicates (IsNotFound, IsConflict, ...).
//   - events.go: lifecycle events and publishers.
//   - status_report.go: ingestion records and the /status payload.
//   - metrics.go: Prometheus collectors.
//
// Tile reads go through a ristretto cache of encoded payloads; misses for the
// same tile are collapsed with singleflight so a burst of viewers panning onto
// the same region costs one store read.
package tileservice
