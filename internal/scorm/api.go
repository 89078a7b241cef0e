package scorm

import (
	"sync"

	"go.uber.org/zap"
)

// Return values of the runtime API. Content only ever sees success.
const (
	True       = "true"
	NoError    = "0"
	NoErrorMsg = "No error"
)

// Identity defaults when no learner is signed in.
const (
	GuestID     = "guest"
	DefaultName = "Student"
)

// State is the lifecycle of one API instance.
type State int

const (
	StateUninitialized State = iota
	StateActive
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateTerminated:
		return "terminated"
	default:
		return "uninitialized"
	}
}

// Identity is the learner as presented to content.
type Identity struct {
	StudentID   string `json:"student_id"`
	StudentName string `json:"student_name"`
}

// NewIdentity fills the guest defaults for empty fields.
func NewIdentity(userID, fullName string) Identity {
	if userID == "" {
		userID = GuestID
	}
	if fullName == "" {
		fullName = DefaultName
	}
	return Identity{StudentID: userID, StudentName: fullName}
}

// API is the runtime object bound into one sandbox. Every method returns
// immediately with a success string; writes to tracked elements, commits
// and the first finish are posted to the outbox.
//
// Calls made before Initialize are served as if the session were active.
// After Finish every call still succeeds but nothing more is posted.
type API struct {
	mu       sync.Mutex
	state    State
	identity Identity
	elements *Elements
	outbox   *Outbox
	values   map[string]string
	logger   *zap.Logger
}

// NewAPI creates an API for one runtime session.
func NewAPI(identity Identity, elements *Elements, outbox *Outbox, logger *zap.Logger) *API {
	if elements == nil {
		elements = DefaultElements()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		identity: NewIdentity(identity.StudentID, identity.StudentName),
		elements: elements,
		outbox:   outbox,
		values:   make(map[string]string),
		logger:   logger,
	}
}

// State returns the current lifecycle state.
func (a *API) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Identity returns the learner identity the API serves.
func (a *API) Identity() Identity {
	return a.identity
}

// LMSInitialize activates the session.
func (a *API) LMSInitialize(string) string {
	a.mu.Lock()
	if a.state == StateUninitialized {
		a.state = StateActive
	}
	a.mu.Unlock()
	return True
}

// LMSFinish posts scorm_finish once and terminates the session.
func (a *API) LMSFinish(string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateTerminated {
		a.state = StateTerminated
		a.post(Finish())
	}
	return True
}

// LMSGetValue returns a value set earlier in this session, then the static
// defaults, then "".
func (a *API) LMSGetValue(element string) string {
	a.mu.Lock()
	v, ok := a.values[element]
	a.mu.Unlock()
	if ok {
		return v
	}
	return a.defaultValue(element)
}

func (a *API) defaultValue(element string) string {
	switch element {
	case ElemStudentID, ElemLearnerID:
		return a.identity.StudentID
	case ElemStudentName, ElemLearnerName:
		return a.identity.StudentName
	case ElemLessonStatus, ElemCompletion:
		return "not attempted"
	case ElemLessonMode, ElemMode:
		return "normal"
	default:
		return ""
	}
}

// LMSSetValue stores the value locally and posts it when the element is
// tracked.
func (a *API) LMSSetValue(element, value string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == StateTerminated {
		a.logger.Debug("set after finish ignored", zap.String("element", element))
		return True
	}
	a.values[element] = value
	if a.elements.Tracked(element) {
		a.post(SetValue(element, value))
	}
	return True
}

// LMSCommit posts scorm_commit.
func (a *API) LMSCommit(string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state != StateTerminated {
		a.post(Commit())
	}
	return True
}

// LMSGetLastError always reports no error.
func (a *API) LMSGetLastError() string { return NoError }

// LMSGetErrorString always reports no error.
func (a *API) LMSGetErrorString(string) string { return NoErrorMsg }

// LMSGetDiagnostic always reports no error.
func (a *API) LMSGetDiagnostic(string) string { return NoErrorMsg }

// SCORM 2004 names share the same state and emissions.

func (a *API) Initialize(p string) string        { return a.LMSInitialize(p) }
func (a *API) Terminate(p string) string         { return a.LMSFinish(p) }
func (a *API) GetValue(element string) string    { return a.LMSGetValue(element) }
func (a *API) SetValue(element, v string) string { return a.LMSSetValue(element, v) }
func (a *API) Commit(p string) string            { return a.LMSCommit(p) }
func (a *API) GetLastError() string              { return a.LMSGetLastError() }
func (a *API) GetErrorString(c string) string    { return a.LMSGetErrorString(c) }
func (a *API) GetDiagnostic(c string) string     { return a.LMSGetDiagnostic(c) }

// post is called with a.mu held so emissions keep call order. It never
// blocks.
func (a *API) post(m Message) {
	if a.outbox == nil {
		return
	}
	raw, err := Encode(m)
	if err != nil {
		a.logger.Warn("encode bridge message", zap.String("type", string(m.Type)), zap.Error(err))
		return
	}
	if err := a.outbox.Post(raw); err != nil {
		a.logger.Debug("bridge message dropped", zap.String("type", string(m.Type)), zap.Error(err))
	}
}
