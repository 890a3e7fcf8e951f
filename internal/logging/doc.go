// Package logging provides structured logging for the webhost server.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used throughout the host, plus an operator-facing Sink
// that writes the "[time] [LEVEL] [actor] message" lines the desktop shell
// displays.
//
// # Log Levels
//
//   - Debug: WebSocket frames, TLS handshakes, store lookups
//   - Info: lifecycle changes, connections, requests
//   - Warn: per-connection and per-request failures
//   - Error: startup failures and certificate problems
//
// # Configuration
//
// Logging is silent unless a level is given explicitly or through the
// WEBHOST_LOG_LEVEL environment variable:
//
//	if err := logging.InitializeWithOptions(logging.Options{
//	    Level: "info",
//	    File:  "/var/log/webhost/webhost.log",
//	}); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When File is set, entries are also written as JSON to a lumberjack
// rotating file.
//
// # Thread Safety
//
// All logging functions and WriterSink are safe for concurrent use.
package logging
