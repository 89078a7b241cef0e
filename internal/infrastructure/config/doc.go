// Package config provides 12-factor configuration for the SCORM player host.
//
// Configuration is assembled from Default(), an optional YAML or TOML file
// named by CONFIG_FILE, and environment variables, later sources winning.
//
// Configuration Sections:
//   - Server: HTTP listener and public URL
//   - LMS: upstream learning platform origin, tenant API path, timeouts
//   - Player: resolver policy, outbox size, headless playback
//   - Sandbox: goja execution limits
//   - Store: progress ledger database
//   - Logging, RateLimit, CORS
//
// Environment Variables:
//   - PORT, HOST, PUBLIC_URL
//   - LMS_ORIGIN, LMS_API_PATH, LMS_TIMEOUT, LMS_RETRY_MAX, LMS_RATE_LIMIT_RPS, LMS_TRACK_ENABLED
//   - RESOLVER_POLICY, OUTBOX_SIZE, HEADLESS
//   - SANDBOX_TIMEOUT, SANDBOX_POOL_SIZE, SANDBOX_MAX_CALL_STACK, SANDBOX_MAX_PAGE_BYTES
//   - PROGRESS_STORE_ENABLED, PROGRESS_DB
//   - LOG_LEVEL, LOG_DEV, RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED, CORS_ALLOW_ORIGINS
package config
