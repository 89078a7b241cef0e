package player

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/ScormHost/backend/internal/course"
	"github.com/GriffinCanCode/ScormHost/backend/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/sandbox"
	"github.com/GriffinCanCode/ScormHost/backend/internal/scorm"
	"github.com/GriffinCanCode/ScormHost/backend/internal/shared/id"
	"github.com/GriffinCanCode/ScormHost/backend/internal/store"
)

// PreviewSource fetches course previews from the LMS.
type PreviewSource interface {
	FetchCoursePreview(ctx context.Context, token, courseID string) (*course.Preview, error)
}

// PageLoader fetches content pages for headless playback.
type PageLoader interface {
	Load(ctx context.Context, pageURL string) (*sandbox.Page, error)
}

// RuntimePool hands out sandbox runtimes.
type RuntimePool interface {
	Acquire(ctx context.Context) (*sandbox.Runtime, error)
	Release(rt *sandbox.Runtime) error
	Discard(rt *sandbox.Runtime) error
}

// Recorder appends accepted bridge events to the progress ledger.
type Recorder interface {
	RecordEvent(ctx context.Context, ev store.Event) error
}

// Config holds session manager settings.
type Config struct {
	// Origin is prefixed to every preview_track_url.
	Origin     string
	OutboxSize int
	// Headless makes headless the default mode for new sessions.
	Headless      bool
	RecordTimeout time.Duration
}

// Option configures a Manager.
type Option func(*Manager)

// WithSandbox enables headless playback.
func WithSandbox(pool RuntimePool, loader PageLoader) Option {
	return func(m *Manager) {
		m.pool = pool
		m.loader = loader
	}
}

// WithRecorder writes accepted events to a progress ledger.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorder = r }
}

// WithMetrics sets the metrics collector.
func WithMetrics(metrics *monitoring.Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithElements replaces the tracked element set.
func WithElements(elements *scorm.Elements) Option {
	return func(m *Manager) { m.elements = elements }
}

// OpenRequest asks for a unit of a course.
type OpenRequest struct {
	Viewer   Viewer
	CourseID string
	UnitID   string
	SCOID    string
	// Mode overrides the configured default.
	Mode Mode
}

// Manager owns every live runtime session. A player (user or device within
// a course) has at most one session.
type Manager struct {
	cfg      Config
	previews PreviewSource
	resolver *resolver.Resolver
	pool     RuntimePool
	loader   PageLoader
	recorder Recorder
	metrics  *monitoring.Metrics
	elements *scorm.Elements
	logger   *zap.Logger

	mu       sync.RWMutex
	sessions map[id.RuntimeSessionID]*Session
	players  map[string]id.RuntimeSessionID
	closed   bool
}

// NewManager creates a session manager.
func NewManager(cfg Config, previews PreviewSource, res *resolver.Resolver, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if res == nil {
		res = resolver.New(resolver.PolicyStrict)
	}
	if cfg.RecordTimeout <= 0 {
		cfg.RecordTimeout = 2 * time.Second
	}
	m := &Manager{
		cfg:      cfg,
		previews: previews,
		resolver: res,
		logger:   logger,
		sessions: make(map[id.RuntimeSessionID]*Session),
		players:  make(map[string]id.RuntimeSessionID),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.metrics == nil {
		m.metrics = monitoring.NewMetrics()
	}
	if m.elements == nil {
		m.elements = scorm.DefaultElements()
	}
	return m
}

// Elements returns the tracked element set shared by new sessions.
func (m *Manager) Elements() *scorm.Elements { return m.elements }

// HeadlessAvailable reports whether a sandbox is configured.
func (m *Manager) HeadlessAvailable() bool {
	return m.pool != nil && m.loader != nil
}

// Open resolves the request and starts a session for it, replacing the
// player's current session. A guest without an issued player id gets a
// fresh one, so guests never share sessions. A content load failure does not fail Open: the
// session reports it through its load state and can be retried.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (*Session, error) {
	if m.isClosed() {
		return nil, ErrManagerClosed
	}
	mode, err := m.mode(req.Mode)
	if err != nil {
		return nil, err
	}

	if req.Viewer.Guest() && !id.HasPrefix(req.Viewer.PlayerID, id.GuestPrefix) {
		req.Viewer.PlayerID = id.NewGuestPlayerID()
	}

	preview, err := m.previews.FetchCoursePreview(ctx, req.Viewer.Token, req.CourseID)
	if err != nil {
		return nil, err
	}

	sel, err := m.resolver.Resolve(preview.LearningUnits, req.UnitID, req.SCOID)
	if err != nil {
		m.logger.Info("content not available",
			zap.String("course", req.CourseID),
			zap.String("unit", req.UnitID),
			zap.String("sco", req.SCOID),
			zap.Error(err))
		return nil, err
	}

	return m.start(ctx, req.Viewer, req.CourseID, preview, sel, mode, "open")
}

func (m *Manager) mode(requested Mode) (Mode, error) {
	switch requested {
	case ModeHeadless:
		if !m.HeadlessAvailable() {
			return "", ErrHeadlessDisabled
		}
		return ModeHeadless, nil
	case ModeExternal:
		return ModeExternal, nil
	}
	if m.cfg.Headless && m.HeadlessAvailable() {
		return ModeHeadless, nil
	}
	return ModeExternal, nil
}

func (m *Manager) start(ctx context.Context, viewer Viewer, courseID string, preview *course.Preview,
	sel resolver.Selection, mode Mode, reason string) (*Session, error) {
	contentURL, err := resolver.ContentURL(m.cfg.Origin, sel.SCO)
	if err != nil {
		return nil, err
	}

	s := m.newSession(viewer, courseID, preview, sel, mode, contentURL)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		s.cancel()
		return nil, ErrManagerClosed
	}
	var prev *Session
	if prevID, ok := m.players[s.key]; ok {
		prev = m.sessions[prevID]
		delete(m.sessions, prevID)
	}
	m.sessions[s.ID] = s
	m.players[s.key] = s.ID
	m.mu.Unlock()

	if prev != nil {
		m.teardown(prev)
	}

	go func() {
		defer close(s.done)
		s.host.Run(s.ctx, s.outbox)
	}()
	m.metrics.SessionOpened(reason)

	m.logger.Info("session opened",
		zap.String("session", s.ID.String()),
		zap.String("course", courseID),
		zap.String("unit", sel.Unit.ID.String()),
		zap.String("sco", sel.SCO.UUID),
		zap.String("mode", string(mode)),
		zap.String("reason", reason))

	if mode == ModeHeadless {
		_ = m.play(ctx, s)
	} else {
		m.metrics.ContentLoad("external")
	}
	return s, nil
}

func (m *Manager) newSession(viewer Viewer, courseID string, preview *course.Preview,
	sel resolver.Selection, mode Mode, contentURL string) *Session {
	sid := id.NewRuntimeSessionID()
	logger := m.logger.With(zap.String("session", sid.String()))

	s := &Session{
		ID:         sid,
		CourseID:   courseID,
		Viewer:     viewer,
		Mode:       mode,
		ContentURL: contentURL,
		CreatedAt:  time.Now(),
		preview:    preview,
		selection:  sel,
		nav:        resolver.NewNavigator(sel.Index, len(preview.LearningUnits)),
		key:        viewer.key(courseID),
		elements:   m.elements,
		outbox:     scorm.NewOutbox(m.cfg.OutboxSize),
		hub:        newHub(),
		logger:     logger,
		done:       make(chan struct{}),
		load:       LoadLoading,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.outbox.OnDrop(func(reason error) {
		if errors.Is(reason, scorm.ErrOutboxClosed) {
			m.metrics.BridgeDiscard("outbox_closed")
			return
		}
		m.metrics.BridgeDiscard("outbox_full")
	})

	s.host = scorm.NewHost(logger.Named("bridge"),
		scorm.WithEventHandler(func(ev scorm.Event) { m.onEvent(s, ev) }),
		scorm.WithFinishHandler(func(p scorm.Progress) { m.onFinish(s, p) }),
		scorm.WithRejectHandler(func(err error) {
			if errors.Is(err, scorm.ErrProgressParse) {
				m.metrics.BridgeDiscard("progress_parse")
				return
			}
			m.metrics.BridgeDiscard("message_parse")
		}),
	)
	s.api = scorm.NewAPI(viewer.Identity(), m.elements, s.outbox, logger.Named("api"))
	return s
}

func (m *Manager) onEvent(s *Session, ev scorm.Event) {
	m.metrics.BridgeMessage(string(ev.Type))
	m.record(s, ev)

	progress := ev.Progress
	s.hub.publish(Notice{
		Type:      NoticeProgress,
		SessionID: s.ID.String(),
		Element:   ev.Element,
		Value:     ev.Value,
		Progress:  &progress,
	})
}

func (m *Manager) onFinish(s *Session, p scorm.Progress) {
	n := Notice{
		Type:      NoticeFinished,
		SessionID: s.ID.String(),
		Progress:  &p,
	}
	if next, ok := s.nav.NextTarget(s.preview.LearningUnits); ok {
		n.OfferNext = true
		n.Next = &next
	}
	s.logger.Info("unit finished", zap.Bool("offer_next", n.OfferNext), zap.Int("score", p.Score))
	s.hub.publish(n)
}

func (m *Manager) record(s *Session, ev scorm.Event) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.RecordTimeout)
	defer cancel()

	err := m.recorder.RecordEvent(ctx, store.Event{
		SessionID:    s.ID.String(),
		UserID:       s.Viewer.Identity().StudentID,
		CourseID:     s.CourseID,
		UnitID:       s.selection.Unit.ID.String(),
		SCOID:        s.selection.SCO.UUID,
		Type:         string(ev.Type),
		Element:      ev.Element,
		Value:        ev.Value,
		Score:        ev.Progress.Score,
		HasScore:     ev.Progress.HasScore,
		LessonStatus: ev.Progress.LessonStatus,
		SessionTime:  ev.Progress.SessionTime,
		Finished:     ev.Progress.Finished,
		Commits:      ev.Progress.Commits,
		At:           time.Now(),
	})
	if err != nil {
		s.logger.Warn("progress ledger write failed", zap.Error(err))
	}
}

// play fetches the content page and runs it in a pooled runtime with the
// session's API bound.
func (m *Manager) play(ctx context.Context, s *Session) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.ctx, cancel)
	defer stop()

	s.setLoad(LoadLoading, nil)

	page, err := m.loader.Load(ctx, s.ContentURL)
	if err != nil {
		return m.loadFailed(s, err)
	}

	rt, err := m.pool.Acquire(ctx)
	if err != nil {
		return m.loadFailed(s, err)
	}
	// A runtime that hit its script timeout is not reused.
	timedOut := false
	defer func() {
		s.releaseRuntime(rt)
		giveBack := m.pool.Release
		if timedOut {
			giveBack = m.pool.Discard
		}
		if rerr := giveBack(rt); rerr != nil {
			s.logger.Warn("sandbox release failed", zap.Error(rerr))
		}
	}()
	if err := s.claimRuntime(rt); err != nil {
		return err
	}

	if err := rt.BindAPI(s.API()); err != nil {
		return m.loadFailed(s, err)
	}
	if err := rt.RunPage(ctx, page); err != nil {
		timedOut = errors.Is(err, sandbox.ErrTimeout)
		if s.Closed() {
			return ErrSessionClosed
		}
		return m.loadFailed(s, err)
	}

	for _, entry := range rt.Console() {
		s.logger.Debug("content console", zap.String("level", entry.Level), zap.String("message", entry.Message))
	}

	s.setLoad(LoadLoaded, nil)
	m.metrics.ContentLoad("loaded")
	return nil
}

func (m *Manager) loadFailed(s *Session, err error) error {
	if s.Closed() {
		return ErrSessionClosed
	}
	var le *scorm.LoadError
	if !errors.As(err, &le) {
		le = &scorm.LoadError{URL: s.ContentURL, Err: err}
	}
	s.logger.Warn("content failed to load", zap.Error(le))
	s.setLoad(LoadFailed, le)
	m.metrics.ContentLoad("failed")
	return le
}

// Get returns a live session.
func (m *Manager) Get(sessionID string) (*Session, error) {
	if !id.HasPrefix(sessionID, id.RuntimeSessionPrefix) {
		return nil, ErrSessionNotFound
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id.RuntimeSessionID(sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Next tears the session down and opens the next unit with its first SCO.
// At the last unit nothing changes and moved is false.
func (m *Manager) Next(ctx context.Context, sessionID string) (*Session, bool, error) {
	return m.move(ctx, sessionID, resolver.Navigator.Next, "next")
}

// Previous is Next in the other direction.
func (m *Manager) Previous(ctx context.Context, sessionID string) (*Session, bool, error) {
	return m.move(ctx, sessionID, resolver.Navigator.Previous, "previous")
}

func (m *Manager) move(ctx context.Context, sessionID string, step func(resolver.Navigator) int, reason string) (*Session, bool, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, false, err
	}
	index := step(s.nav)
	if index == s.nav.Index {
		return s, false, nil
	}

	sel, err := m.resolver.At(s.preview.LearningUnits, index)
	if err != nil {
		return s, false, err
	}
	next, err := m.start(ctx, s.Viewer, s.CourseID, s.preview, sel, s.Mode, reason)
	if err != nil {
		return s, false, err
	}
	return next, true, nil
}

// Retry reloads the session's content only: a fresh API is bound on the
// same outbox and the host keeps its progress.
func (m *Manager) Retry(ctx context.Context, sessionID string) (*Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if s.Closed() {
		return nil, ErrSessionClosed
	}
	if s.loading() {
		return s, ErrLoadInProgress
	}

	s.rebind()
	m.metrics.ContentLoad("retried")
	s.logger.Info("content retry")

	if s.Mode == ModeHeadless {
		if err := m.play(ctx, s); errors.Is(err, ErrLoadInProgress) || errors.Is(err, ErrSessionClosed) {
			return s, err
		}
		return s, nil
	}
	s.setLoad(LoadLoading, nil)
	return s, nil
}

// ReportLoadError records a load failure seen by an external web view.
func (m *Manager) ReportLoadError(sessionID string, status int, reason string) (*Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	var cause error
	if reason != "" {
		cause = errors.New(reason)
	}
	_ = m.loadFailed(s, &scorm.LoadError{URL: s.ContentURL, Status: status, Err: cause})
	return s, nil
}

// ReportLoaded records that an external web view finished loading.
func (m *Manager) ReportLoaded(sessionID string) (*Session, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return nil, err
	}
	s.setLoad(LoadLoaded, nil)
	m.metrics.ContentLoad("loaded")
	return s, nil
}

// Deliver relays one raw bridge message to the session host.
func (m *Manager) Deliver(sessionID string, raw []byte) (scorm.Event, error) {
	s, err := m.Get(sessionID)
	if err != nil {
		return scorm.Event{}, err
	}
	return s.Deliver(raw)
}

// Close tears a session down without draining its outbox.
func (m *Manager) Close(sessionID string) error {
	sid := id.RuntimeSessionID(sessionID)

	m.mu.Lock()
	s, ok := m.sessions[sid]
	if ok {
		delete(m.sessions, sid)
		if m.players[s.key] == sid {
			delete(m.players, s.key)
		}
	}
	m.mu.Unlock()

	if !ok {
		return ErrSessionNotFound
	}
	m.teardown(s)
	return nil
}

func (m *Manager) teardown(s *Session) {
	if !s.teardown() {
		return
	}
	m.metrics.SessionClosed()
	s.logger.Info("session closed",
		zap.Int("pending", s.outbox.Len()),
		zap.Uint64("dropped", s.outbox.Dropped()))
}

// Shutdown closes every session. New opens fail afterwards.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[id.RuntimeSessionID]*Session)
	m.players = make(map[string]id.RuntimeSessionID)
	m.mu.Unlock()

	for _, s := range sessions {
		m.teardown(s)
	}
}

func (m *Manager) isClosed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.closed
}
