/*
Package log provides structured logging for coscribe built on zerolog.

Init configures the global logger once at startup (console output for
interactive use, JSON for production). Packages obtain child loggers with
the With* helpers so every line carries its component and, where relevant,
the document, socket or job it concerns:

	logger := log.WithComponent("gateway")
	logger.Info().Str("document_id", docID).Msg("session joined")

The realtime paths log at debug level for per-frame events and info level
for lifecycle transitions; durable-path failures log at error level with
the wrapped cause.
*/
package log
