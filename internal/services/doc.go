// Package services defines shared utilities consumed by the model manager,
// the request handler, and the serving harness.
//
// Key responsibilities:
//   - Context helpers that stamp prediction IDs, modes, and languages for
//     logging and tracing.
//   - Structured error markers plus the Wrap helper that translate failures
//     into consistent API statuses (invalid argument vs internal failure).
//
// Use these helpers when wiring new components so operational behaviour
// (error classification, observability) stays uniform across the service.
package services
