package loop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldsync/internal/clock"
)

func startLoop(t *testing.T, ts clock.TimeSource) (*Loop, context.CancelFunc) {
	t.Helper()
	l := New(ts, 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-l.Done()
	})
	return l, cancel
}

func TestLoopRunsTasksInOrder(t *testing.T) {
	l, _ := startLoop(t, clock.NewRealTimeSource())

	var order []int
	for i := 0; i < 10; i++ {
		i := i
		require.NoError(t, l.Post(func() { order = append(order, i) }))
	}
	require.NoError(t, l.Do(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, order)
}

func TestLoopAfterRunsOnLoop(t *testing.T) {
	ts := clock.NewEventTimeSource()
	l, _ := startLoop(t, ts)

	var ran atomic.Bool
	l.After(50*time.Millisecond, func() { ran.Store(true) })
	ts.Advance(50 * time.Millisecond)

	// The timer callback only posted; a round trip guarantees it executed.
	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.True(t, ran.Load())
}

func TestLoopCancelAfterQueued(t *testing.T) {
	ts := clock.NewEventTimeSource()
	l, _ := startLoop(t, ts)

	var ran atomic.Bool
	block := make(chan struct{})

	// Hold the loop so the timer's posted callback stays queued.
	require.NoError(t, l.Post(func() { <-block }))
	cancel := l.After(10*time.Millisecond, func() { ran.Store(true) })
	ts.Advance(10 * time.Millisecond)
	cancel()
	close(block)

	require.NoError(t, l.Do(context.Background(), func() {}))
	assert.False(t, ran.Load())
}

func TestLoopPostAfterStop(t *testing.T) {
	l := New(nil, 1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	cancel()
	<-l.Done()

	assert.ErrorIs(t, l.Post(func() {}), ErrStopped)
}

func TestLoopRecoversPanics(t *testing.T) {
	l, _ := startLoop(t, clock.NewRealTimeSource())

	require.NoError(t, l.Post(func() { panic("boom") }))
	var ran atomic.Bool
	require.NoError(t, l.Do(context.Background(), func() { ran.Store(true) }))
	assert.True(t, ran.Load())
}
