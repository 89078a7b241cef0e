package scorm

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// Event is an accepted bridge message together with the progress it
// produced.
type Event struct {
	Type     MessageType `json:"type"`
	Element  string      `json:"element,omitempty"`
	Value    string      `json:"value,omitempty"`
	Progress Progress    `json:"progress"`
}

// HostOption configures a Host.
type HostOption func(*Host)

// WithEventHandler is called for every accepted message, in order.
func WithEventHandler(fn func(Event)) HostOption {
	return func(h *Host) { h.onEvent = fn }
}

// WithFinishHandler is called once, on the first scorm_finish. The player
// uses it to offer the next unit.
func WithFinishHandler(fn func(Progress)) HostOption {
	return func(h *Host) { h.onFinish = fn }
}

// WithRejectHandler is called for every rejected payload.
func WithRejectHandler(fn func(error)) HostOption {
	return func(h *Host) { h.onReject = fn }
}

// Host consumes bridge messages for one runtime session. Messages may arrive
// from the session's outbox or from an external web view relay; Handle is
// safe for concurrent use and applies messages in the order it is called.
type Host struct {
	mu       sync.Mutex
	progress Progress
	logger   *zap.Logger

	onEvent  func(Event)
	onFinish func(Progress)
	onReject func(error)
}

// NewHost creates a host for one session.
func NewHost(logger *zap.Logger, opts ...HostOption) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Host{logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Progress returns a snapshot of the session progress.
func (h *Host) Progress() Progress {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.progress.clone()
}

// Handle decodes and applies one raw message. Malformed messages and bad
// score values are logged and returned; they never change progress.
func (h *Host) Handle(raw []byte) (Event, error) {
	msg, err := Decode(raw)
	if err != nil {
		h.reject(err)
		return Event{}, err
	}
	return h.Apply(msg)
}

// Apply applies an already decoded message.
func (h *Host) Apply(msg Message) (Event, error) {
	if !msg.Known() {
		err := &ParseError{Kind: ErrMessageParse, Raw: string(msg.Type)}
		h.reject(err)
		return Event{}, err
	}

	h.mu.Lock()

	ev := Event{Type: msg.Type, Element: msg.Element, Value: msg.ValueString()}
	first := false

	switch msg.Type {
	case TypeSetValue:
		if IsScore(msg.Element) {
			score, err := ParseScore(ev.Value)
			if err != nil {
				h.mu.Unlock()
				var pe *ParseError
				if errors.As(err, &pe) {
					pe.Element = msg.Element
				}
				h.reject(err)
				return Event{}, err
			}
			h.progress.Score = score
			h.progress.HasScore = true
		}
		switch msg.Element {
		case ElemLessonStatus, ElemCompletion:
			h.progress.LessonStatus = ev.Value
		case ElemSessionTime, ElemSessionTime04:
			h.progress.SessionTime = ev.Value
		}
		if h.progress.Values == nil {
			h.progress.Values = make(map[string]string)
		}
		h.progress.Values[msg.Element] = ev.Value

	case TypeCommit:
		h.progress.Commits++

	case TypeFinish:
		if h.progress.Finished {
			h.mu.Unlock()
			h.logger.Debug("duplicate finish ignored")
			return Event{}, nil
		}
		h.progress.Finished = true
		first = true
	}

	ev.Progress = h.progress.clone()
	h.mu.Unlock()

	h.logger.Debug("bridge message",
		zap.String("type", string(ev.Type)),
		zap.String("element", ev.Element),
		zap.String("value", ev.Value),
		zap.Int("score", ev.Progress.Score))

	if h.onEvent != nil {
		h.onEvent(ev)
	}
	if first && h.onFinish != nil {
		h.onFinish(ev.Progress)
	}
	return ev, nil
}

func (h *Host) reject(err error) {
	h.logger.Warn("bridge message rejected", zap.Error(err))
	if h.onReject != nil {
		h.onReject(err)
	}
}

// Run drains the outbox until it is closed or ctx is done. Messages still
// buffered when ctx is cancelled are abandoned.
func (h *Host) Run(ctx context.Context, outbox *Outbox) {
	msgs := outbox.Messages()
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-msgs:
			if !ok {
				return
			}
			if ctx.Err() != nil {
				return
			}
			_, _ = h.Handle(raw)
		}
	}
}
