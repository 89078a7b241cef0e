package scorm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxFIFO(t *testing.T) {
	o := NewOutbox(4)
	require.NoError(t, o.Post([]byte("1")))
	require.NoError(t, o.Post([]byte("2")))
	require.NoError(t, o.Post([]byte("3")))

	assert.Equal(t, "1", string(<-o.Messages()))
	assert.Equal(t, "2", string(<-o.Messages()))
	assert.Equal(t, "3", string(<-o.Messages()))
}

func TestOutboxDropsWhenFull(t *testing.T) {
	var reasons []error
	o := NewOutbox(2)
	o.OnDrop(func(reason error) { reasons = append(reasons, reason) })

	require.NoError(t, o.Post([]byte("a")))
	require.NoError(t, o.Post([]byte("b")))
	assert.ErrorIs(t, o.Post([]byte("c")), ErrOutboxFull)

	assert.Equal(t, uint64(1), o.Dropped())
	assert.Equal(t, []error{ErrOutboxFull}, reasons)
	assert.Equal(t, 2, o.Len())
}

func TestOutboxClosed(t *testing.T) {
	o := NewOutbox(2)
	o.Close()
	o.Close()

	assert.True(t, o.Closed())
	assert.ErrorIs(t, o.Post([]byte("late")), ErrOutboxClosed)
	assert.Equal(t, uint64(1), o.Dropped())

	_, ok := <-o.Messages()
	assert.False(t, ok)
}

func TestOutboxDefaultSize(t *testing.T) {
	o := NewOutbox(0)
	assert.Equal(t, DefaultOutboxSize, cap(o.ch))
}

func TestOutboxConcurrentPostAndClose(t *testing.T) {
	o := NewOutbox(8)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = o.Post([]byte("x"))
			}
		}()
	}
	o.Close()
	wg.Wait()

	n := 0
	for range o.Messages() {
		n++
	}
	assert.Equal(t, uint64(16*50), o.Dropped()+uint64(n))
}
