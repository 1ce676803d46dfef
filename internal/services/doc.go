// Package services defines shared utilities consumed by the conversion
// pipeline and its transports.
//
// Key responsibilities:
//   - Context helpers that stamp batch IDs, item IDs, session IDs, and
//     correlation identifiers for logging and tracing.
//   - Structured error markers plus the Wrap helper that tag failures with a
//     class the transport can map to a user-facing response.
//
// Use these helpers when wiring new pipeline logic so operational behaviour
// (error handling, observability) stays uniform.
package services
