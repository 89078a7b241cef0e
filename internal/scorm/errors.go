package scorm

import (
	"errors"
	"fmt"
)

var (
	// ErrMessageParse marks a raw payload that is not a valid bridge message.
	ErrMessageParse = errors.New("malformed bridge message")
	// ErrProgressParse marks a score value with no leading integer.
	ErrProgressParse = errors.New("unparseable progress value")
	// ErrContentLoad marks a sandboxed resource that failed to load.
	ErrContentLoad = errors.New("content failed to load")
	// ErrOutboxFull is reported when a message is dropped on a full outbox.
	ErrOutboxFull = errors.New("outbox full")
	// ErrOutboxClosed is reported when a message is posted after teardown.
	ErrOutboxClosed = errors.New("outbox closed")
)

// ParseError describes a rejected message or value. It is logged by the host
// and never surfaced to content.
type ParseError struct {
	Kind    error
	Element string
	Raw     string
	Err     error
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Element != "" {
		msg = fmt.Sprintf("%s for %s", msg, e.Element)
	}
	if e.Raw != "" {
		msg = fmt.Sprintf("%s: %q", msg, truncate(e.Raw, 64))
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ParseError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// LoadError reports that the sandboxed resource failed to load. Retrying
// reloads the resource; session state is kept.
type LoadError struct {
	URL    string
	Status int
	Err    error
}

func (e *LoadError) Error() string {
	switch {
	case e.Status != 0 && e.Err != nil:
		return fmt.Sprintf("%v: %s (status %d): %v", ErrContentLoad, e.URL, e.Status, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%v: %s (status %d)", ErrContentLoad, e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%v: %s: %v", ErrContentLoad, e.URL, e.Err)
	default:
		return fmt.Sprintf("%v: %s", ErrContentLoad, e.URL)
	}
}

func (e *LoadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrContentLoad}
	}
	return []error{ErrContentLoad, e.Err}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
