// Package ui renders terminal output for the webhost-cfg CLI.
//
// Commands print through a Printer: a Header banner, then a Result box
// (success, warning or failure with troubleshooting tips). The monitor
// command uses the Bubble Tea MonitorModel, a scrolling view of the
// events a running host broadcasts on /ws. When stdout is not a terminal
// the same events are streamed as plain lines instead.
//
// # Logging Integration
//
// zap logging stays silent unless WEBHOST_LOG_LEVEL is set, so the styled
// output is not interleaved with log lines.
package ui
