package player

import (
	"sync"

	"github.com/GriffinCanCode/ScormHost/backend/internal/resolver"
	"github.com/GriffinCanCode/ScormHost/backend/internal/scorm"
)

// NoticeType names a session notification.
type NoticeType string

const (
	NoticeProgress NoticeType = "progress"
	NoticeFinished NoticeType = "finished"
	NoticeLoad     NoticeType = "load"
	NoticeClosed   NoticeType = "closed"
)

// Notice is pushed to session subscribers.
type Notice struct {
	Type      NoticeType       `json:"type"`
	SessionID string           `json:"session_id"`
	Element   string           `json:"element,omitempty"`
	Value     string           `json:"value,omitempty"`
	Progress  *scorm.Progress  `json:"progress,omitempty"`
	LoadState LoadState        `json:"load_state,omitempty"`
	OfferNext bool             `json:"offer_next,omitempty"`
	Next      *resolver.Target `json:"next,omitempty"`
}

const subscriberBuffer = 32

// hub fans notices out to subscribers. Slow subscribers miss notices rather
// than stall the bridge.
type hub struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan Notice
	closed bool
}

func newHub() *hub {
	return &hub{subs: make(map[int]chan Notice)}
}

func (h *hub) subscribe() (<-chan Notice, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := make(chan Notice, subscriberBuffer)
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	key := h.next
	h.next++
	h.subs[key] = ch

	return ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if c, ok := h.subs[key]; ok {
			delete(h.subs, key)
			close(c)
		}
	}
}

func (h *hub) publish(n Notice) (dropped int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
			dropped++
		}
	}
	return dropped
}

// close delivers a final notice where there is room and closes every
// subscriber channel.
func (h *hub) close(final Notice) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for key, ch := range h.subs {
		select {
		case ch <- final:
		default:
		}
		close(ch)
		delete(h.subs, key)
	}
}
