package scorm

import (
	"sort"
	"sync"
)

// Data model elements the content reads or writes.
const (
	ElemStudentID     = "cmi.core.student_id"
	ElemStudentName   = "cmi.core.student_name"
	ElemLessonStatus  = "cmi.core.lesson_status"
	ElemLessonMode    = "cmi.core.lesson_mode"
	ElemScoreRaw      = "cmi.core.score.raw"
	ElemSessionTime   = "cmi.core.session_time"
	ElemLearnerID     = "cmi.learner_id"
	ElemLearnerName   = "cmi.learner_name"
	ElemCompletion    = "cmi.completion_status"
	ElemSuccess       = "cmi.success_status"
	ElemMode          = "cmi.mode"
	ElemScoreRaw2004  = "cmi.score.raw"
	ElemSessionTime04 = "cmi.session_time"
)

// DefaultTracked lists the elements whose writes are forwarded to the host.
var DefaultTracked = []string{
	ElemLessonStatus,
	ElemScoreRaw,
	ElemSessionTime,
	ElemCompletion,
	ElemSuccess,
	ElemScoreRaw2004,
	ElemSessionTime04,
}

// Elements is the tracked-element allow-list. It is an open set: elements
// may be added while sessions are running.
type Elements struct {
	mu  sync.RWMutex
	set map[string]struct{}
}

// NewElements creates an allow-list seeded with names.
func NewElements(names ...string) *Elements {
	e := &Elements{set: make(map[string]struct{}, len(names))}
	for _, n := range names {
		e.set[n] = struct{}{}
	}
	return e
}

// DefaultElements returns a fresh allow-list seeded with DefaultTracked.
func DefaultElements() *Elements {
	return NewElements(DefaultTracked...)
}

// Tracked reports whether writes to name are forwarded.
func (e *Elements) Tracked(name string) bool {
	e.mu.RLock()
	_, ok := e.set[name]
	e.mu.RUnlock()
	return ok
}

// Add extends the allow-list.
func (e *Elements) Add(names ...string) {
	e.mu.Lock()
	for _, n := range names {
		if n != "" {
			e.set[n] = struct{}{}
		}
	}
	e.mu.Unlock()
}

// List returns the sorted element names.
func (e *Elements) List() []string {
	e.mu.RLock()
	out := make([]string, 0, len(e.set))
	for n := range e.set {
		out = append(out, n)
	}
	e.mu.RUnlock()
	sort.Strings(out)
	return out
}

// IsScore reports whether name carries a raw score in either version.
func IsScore(name string) bool {
	return name == ElemScoreRaw || name == ElemScoreRaw2004
}
