// Package engine defines the contract between the daemon and the external
// media pipeline execution engine.
//
// The engine accepts an opaque textual pipeline description and turns it
// into a running Instance. Instances report their lifecycle asynchronously
// through a typed Notification channel: state transitions, errors,
// warnings, end-of-stream, and buffering progress. The daemon never calls
// back into the engine from a notification context; it consumes the
// channel from its own goroutine.
//
// Two implementations ship with the daemon:
//   - sim: a self-contained simulation used by default and in integration
//     tests, so the daemon runs without a native media runtime.
//   - enginetest: a scripted fake for unit tests.
package engine
