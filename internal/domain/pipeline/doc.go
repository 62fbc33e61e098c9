// Package pipeline owns the daemon's pipeline registry and the per-pipeline
// state machine that reconciles caller-issued commands with asynchronous
// engine notifications.
package pipeline
