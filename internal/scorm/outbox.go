package scorm

import (
	"sync"
	"sync/atomic"
)

// DefaultOutboxSize is the buffer used when a non-positive size is given.
const DefaultOutboxSize = 64

// Outbox is the bounded FIFO between a session's API and its host. Post
// never blocks: a full or closed outbox drops the message.
type Outbox struct {
	ch      chan []byte
	mu      sync.RWMutex
	closed  bool
	dropped atomic.Uint64
	onDrop  func(reason error)
}

// NewOutbox creates an outbox with the given capacity.
func NewOutbox(size int) *Outbox {
	if size <= 0 {
		size = DefaultOutboxSize
	}
	return &Outbox{ch: make(chan []byte, size)}
}

// OnDrop registers a callback invoked for each dropped message. It must be
// set before the outbox is shared.
func (o *Outbox) OnDrop(fn func(reason error)) {
	o.onDrop = fn
}

// Post enqueues raw without blocking.
func (o *Outbox) Post(raw []byte) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		o.drop(ErrOutboxClosed)
		return ErrOutboxClosed
	}
	select {
	case o.ch <- raw:
		return nil
	default:
		o.drop(ErrOutboxFull)
		return ErrOutboxFull
	}
}

func (o *Outbox) drop(reason error) {
	o.dropped.Add(1)
	if o.onDrop != nil {
		o.onDrop(reason)
	}
}

// Messages is the receive side, closed by Close. Buffered messages remain
// readable after Close; consumers that tear down without draining simply
// stop reading.
func (o *Outbox) Messages() <-chan []byte {
	return o.ch
}

// Close stops accepting messages. It is safe to call more than once.
func (o *Outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	close(o.ch)
}

// Closed reports whether Close has been called.
func (o *Outbox) Closed() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.closed
}

// Dropped returns the number of discarded messages.
func (o *Outbox) Dropped() uint64 {
	return o.dropped.Load()
}

// Len returns the number of buffered messages.
func (o *Outbox) Len() int {
	return len(o.ch)
}
