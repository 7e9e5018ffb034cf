// Package services defines shared utilities consumed by the conversion
// pipeline and the API layer.
//
// Key responsibilities:
//   - Context helpers that stamp job names, stage names, and correlation
//     identifiers for logging.
//   - Structured error markers plus the Wrap helper so failures from the
//     readiness gate, the converter, and the resolver can be classified
//     uniformly (HTTPStatus).
//
// Use these helpers when wiring new pipeline steps so error handling and
// observability stay consistent.
package services
