// Package logging provides structured logging using uber/zap.
//
// Two encodings are supported:
//   - Production: JSON output for log shipping
//   - Development: colored console output
//
// Components never build their own logger; they receive a named child:
//
//	logger := logging.NewOrNop(logging.DefaultConfig())
//	bridgeLog := logger.Component("bridge")
//	bridgeLog.Info("session opened", zap.String("session_id", id))
//
// Sandbox console output is forwarded to the owning session's logger at
// debug level, so content chatter never reaches production logs by default.
package logging
