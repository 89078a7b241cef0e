package player

import (
	"context"
	"crypto/subtle"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/sandbox"
	"github.com/GriffinCanCode/ScormHost/backend/internal/scorm"
	"github.com/GriffinCanCode/ScormHost/backend/internal/shared/id"
)

// LoadState is the content load state shown by the player.
type LoadState string

const (
	LoadLoading LoadState = "loading"
	LoadLoaded  LoadState = "loaded"
	LoadFailed  LoadState = "failed"
)

// Mode says where the content runs.
type Mode string

const (
	ModeHeadless Mode = "headless"
	ModeExternal Mode = "external"
)

// Viewer is the caller a session is opened for.
type Viewer struct {
	UserID   string
	FullName string
	Token    string
	// PlayerID distinguishes devices of the same user. For a guest it is
	// the server-issued id that proves ownership of its sessions.
	PlayerID string
}

// Identity returns the learner identity handed to content.
func (v Viewer) Identity() scorm.Identity {
	return scorm.NewIdentity(v.UserID, v.FullName)
}

// Guest reports whether the viewer is signed out.
func (v Viewer) Guest() bool { return v.UserID == "" }

func (v Viewer) key(courseID string) string {
	if v.Guest() {
		return "guest:" + v.PlayerID + "/" + courseID
	}
	return "user:" + v.UserID + ":" + v.PlayerID + "/" + courseID
}

// OwnedBy reports whether v may act on the session. A user owns every
// session opened under their id; a guest only those opened with its
// player id.
func (s *Session) OwnedBy(v Viewer) bool {
	if !s.Viewer.Guest() {
		return v.UserID == s.Viewer.UserID
	}
	return v.Guest() && v.PlayerID != "" &&
		subtle.ConstantTimeCompare([]byte(v.PlayerID), []byte(s.Viewer.PlayerID)) == 1
}

// Session is one runtime session.
type Session struct {
	ID         id.RuntimeSessionID
	CourseID   string
	Viewer     Viewer
	Mode       Mode
	ContentURL string
	CreatedAt  time.Time

	preview   *course.Preview
	selection resolver.Selection
	nav       resolver.Navigator
	key       string
	elements  *scorm.Elements

	outbox *scorm.Outbox
	host   *scorm.Host
	hub    *hub
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	api      *scorm.API
	load     LoadState
	loadErr  error
	runtime  *sandbox.Runtime
	attempts int
	closed   bool
}

// View is the serializable state of a session.
type View struct {
	ID          string           `json:"id"`
	CourseID    string           `json:"course_id"`
	PlayerID    string           `json:"player_id,omitempty"`
	UnitID      string           `json:"unit_id"`
	SCOID       string           `json:"sco_id"`
	Title       string           `json:"title"`
	Index       int              `json:"index"`
	Count       int              `json:"count"`
	Position    string           `json:"position"`
	ContentURL  string           `json:"content_url"`
	Mode        Mode             `json:"mode"`
	LoadState   LoadState        `json:"load_state"`
	LoadError   string           `json:"load_error,omitempty"`
	Progress    scorm.Progress   `json:"progress"`
	Finished    bool             `json:"finished"`
	HasPrevious bool             `json:"has_previous"`
	HasNext     bool             `json:"has_next"`
	Next        *resolver.Target `json:"next,omitempty"`
	Attempts    int              `json:"attempts"`
	Dropped     uint64           `json:"dropped"`
	CreatedAt   time.Time        `json:"created_at"`
}

// Unit returns the selected unit.
func (s *Session) Unit() *course.LearningUnit { return s.selection.Unit }

// SCO returns the selected content object.
func (s *Session) SCO() *course.SCO { return s.selection.SCO }

// Navigator returns the previous/next state of the session's unit.
func (s *Session) Navigator() resolver.Navigator { return s.nav }

// API returns the bridge object currently bound for the session.
func (s *Session) API() *scorm.API {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.api
}

// Progress returns the host-side progress snapshot.
func (s *Session) Progress() scorm.Progress { return s.host.Progress() }

// LoadState returns the current load state and the last load error.
func (s *Session) LoadState() (LoadState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load, s.loadErr
}

// Closed reports whether the session was torn down.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Shim renders the bridge script for external web views.
func (s *Session) Shim() (string, error) {
	return scorm.Shim(s.Viewer.Identity(), s.elements)
}

// Subscribe returns a channel of notices and a function that stops them.
// The channel is closed when the session closes.
func (s *Session) Subscribe() (<-chan Notice, func()) {
	return s.hub.subscribe()
}

// View returns a snapshot for API responses.
func (s *Session) View() View {
	progress := s.host.Progress()
	current, total := s.nav.Position()

	s.mu.Lock()
	state, loadErr, attempts := s.load, s.loadErr, s.attempts
	s.mu.Unlock()

	v := View{
		ID:          s.ID.String(),
		CourseID:    s.CourseID,
		PlayerID:    s.Viewer.PlayerID,
		UnitID:      s.selection.Unit.ID.String(),
		SCOID:       s.selection.SCO.UUID,
		Title:       course.UnitTitle(s.selection.Unit),
		Index:       s.nav.Index,
		Count:       s.nav.Count,
		Position:    fmt.Sprintf("%d / %d", current, total),
		ContentURL:  s.ContentURL,
		Mode:        s.Mode,
		LoadState:   state,
		Progress:    progress,
		Finished:    progress.Finished,
		HasPrevious: s.nav.HasPrevious(),
		HasNext:     s.nav.HasNext(),
		Attempts:    attempts,
		Dropped:     s.outbox.Dropped(),
		CreatedAt:   s.CreatedAt,
	}
	if loadErr != nil {
		v.LoadError = loadErr.Error()
	}
	if next, ok := s.nav.NextTarget(s.preview.LearningUnits); ok && progress.Finished {
		v.Next = &next
	}
	return v
}

// Deliver applies one raw bridge message relayed from an external web view.
func (s *Session) Deliver(raw []byte) (scorm.Event, error) {
	if s.Closed() {
		return scorm.Event{}, ErrSessionClosed
	}
	return s.host.Handle(raw)
}

func (s *Session) setLoad(state LoadState, err error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.load, s.loadErr = state, err
	s.mu.Unlock()

	s.hub.publish(Notice{Type: NoticeLoad, SessionID: s.ID.String(), LoadState: state})
}

// rebind replaces the bound API with a fresh one on the same outbox, as a
// page reload would. Host progress is kept.
func (s *Session) rebind() *scorm.API {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	s.api = scorm.NewAPI(s.Viewer.Identity(), s.elements, s.outbox, s.logger)
	return s.api
}

func (s *Session) claimRuntime(rt *sandbox.Runtime) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	if s.runtime != nil {
		return ErrLoadInProgress
	}
	s.runtime = rt
	return nil
}

func (s *Session) releaseRuntime(rt *sandbox.Runtime) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runtime == rt {
		s.runtime = nil
	}
}

func (s *Session) loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runtime != nil
}

// teardown stops the drain goroutine and the sandbox without draining.
// It reports false when the session was already closed.
func (s *Session) teardown() bool {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return false
	}
	s.closed = true
	s.runtime = nil
	s.mu.Unlock()

	// Cancelling the session interrupts a script still running in play.
	s.cancel()
	s.outbox.Close()
	<-s.done

	s.hub.close(Notice{Type: NoticeClosed, SessionID: s.ID.String()})
	return true
}
