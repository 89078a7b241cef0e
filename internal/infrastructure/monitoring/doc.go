/*
Package monitoring provides Prometheus metrics for the player host.

# Overview

Metrics cover the HTTP API, runtime sessions, sandboxed content loads, the
bridge between content and host, calls to the LMS and the WebSocket relay.
Each Metrics value owns a private registry.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	metrics.SessionOpened("open")
	metrics.BridgeMessage("scorm_finish")
	metrics.BridgeDiscard("outbox_full")

	timer := monitoring.NewTimer(metrics, "course_preview")
	// ... call the LMS ...
	timer.Stop("ok")
*/
package monitoring
