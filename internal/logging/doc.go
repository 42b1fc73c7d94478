// Package logging builds the daemon's slog loggers and carries standardized
// structured fields (job, node, stage, component) through contexts so every
// subsystem logs with the same keys.
package logging
