// Package log provides structured logging for Casparian Flow using zerolog.
//
// A single package-level Logger is initialized once via Init and shared by
// every component. Long-lived loops (the scout walker, the sentinel
// dispatch loop, the worker job loop) derive a child logger via
// WithComponent and the relevant With<Entity>ID helper rather than logging
// against the bare global Logger, so every line carries enough context to
// reconstruct which source root, job, or node it came from.
package log
