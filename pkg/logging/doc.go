// Package logging provides the structured logging used across
// system-manager-engine.
//
// # Architecture
//
// Logging is built around a single package-level logger, configured once at
// process start via InitForCLI, and a small set of subsystem-tagged helpers
// (Debug, Info, Warn, Error) that every internal package calls into. Every
// log line carries:
//
//   - a severity level
//   - a subsystem tag (e.g. "etcactivator", "jobdispatcher")
//   - a message, with optional error context
//
// This mirrors how a privileged one-shot CLI tool should log: everything
// goes to stderr as structured text, filtered by level, with no secondary
// consumer (no TUI channel, no remote sink) — activation runs are invoked
// once per call and their output is read by the operator or captured by the
// calling wrapper's own logs.
package logging
