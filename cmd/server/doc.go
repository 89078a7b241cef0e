// Package main is the entry point for the SCORM host.
//
// The server resolves learning units from the LMS course preview, owns one
// runtime session per player, runs content headlessly in a sandbox or
// relays bridge messages from external web views, and records progress.
//
// Configuration:
//   - Environment variables (12-factor)
//   - CONFIG_FILE or -config: YAML or TOML overlay applied before the environment
//   - CLI flags for port and development logging
//
// Usage:
//
//	# Production mode
//	LMS_ORIGIN=https://learn.ideo-cloud.ma ./server -port 8000
//
//	# Development mode (colored logs, debug level)
//	./server -dev -config scormhost.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
