// Package services defines shared utilities consumed by the pipeline stages
// and the detector integrations.
//
// Key responsibilities:
//   - Context helpers that stamp run IDs, stage names, and scan roots for
//     logging.
//   - Structured error markers plus the Wrap helper that separate run-level
//     failures (configuration, validation) from per-file ones.
//
// Use these helpers when wiring new stage logic so error handling and
// observability stay uniform across the pipeline.
package services
