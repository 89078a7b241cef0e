// Package server wires the SCORM host together.
//
// It builds the logger, metrics, tracer, LMS client, sandbox pool, progress
// ledger and session manager from a config.Config, mounts the JSON API and
// the WebSocket relay on a gin router, and serves it with gzip compression.
//
// Example Usage:
//
//	cfg, err := config.Load()
//	srv, err := server.NewServer(cfg)
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
