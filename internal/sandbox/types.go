package sandbox

import (
	"time"
)

// Config defines sandbox configuration
type Config struct {
	Timeout       time.Duration // Per-script execution timeout
	MaxCallStack  int           // goja call stack limit
	MaxPageBytes  int64         // Largest page or script the loader accepts
	MaxScripts    int           // External scripts fetched per page
	MaxTimerTicks int           // Queued setTimeout callbacks run per page
	EnableConsole bool          // Capture console.* output
	EnableDOM     bool          // Expose the page document
}

// Result holds execution result
type Result struct {
	Value    interface{}   // Return value
	Console  []LogEntry    // Console output
	Duration time.Duration // Execution time
	Error    error         // Execution error
}

// LogEntry represents console output
type LogEntry struct {
	Level   string    // log, warn, error, info, debug
	Message string    // Log message
	Time    time.Time // Timestamp
}

// DOMChange represents a DOM modification made by content
type DOMChange struct {
	Type     string      // set_attribute, set_text, set_title
	Selector string      // CSS selector
	Property string      // Property name
	Value    interface{} // New value
}

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		Timeout:       5 * time.Second,
		MaxCallStack:  1024,
		MaxPageBytes:  10 << 20,
		MaxScripts:    32,
		MaxTimerTicks: 256,
		EnableConsole: true,
		EnableDOM:     true,
	}
}
