package loop

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startLoop(t *testing.T) (*Loop, context.CancelFunc, <-chan error) {
	t.Helper()
	l := New(nil, 4)
	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- l.Run(ctx) }()
	t.Cleanup(cancel)
	return l, cancel, errCh
}

func TestPostRunsInOrder(t *testing.T) {
	l, _, _ := startLoop(t)

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
			if i == 99 {
				close(done)
			}
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not run")
	}
	mu.Lock()
	defer mu.Unlock()
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestPostFromInsideTask(t *testing.T) {
	l, _, _ := startLoop(t)
	done := make(chan struct{})
	l.Post(func() {
		l.Post(func() { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("nested post did not run")
	}
}

func TestStopDrainsQueueAndRejectsPosts(t *testing.T) {
	l := New(nil, 0)
	ran := 0
	l.Post(func() { ran++ })
	l.Post(func() { ran++ })
	l.Stop()

	assert.False(t, l.Post(func() { ran++ }))
	assert.True(t, l.Stopped())
	require.NoError(t, l.Run(context.Background()))
	assert.Equal(t, 2, ran)

	select {
	case <-l.Done():
	default:
		t.Fatal("Done not closed after Run returned")
	}
}

func TestRunReturnsContextError(t *testing.T) {
	_, cancel, errCh := startLoop(t)
	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}

func TestPanickingTaskDoesNotStopLoop(t *testing.T) {
	l, _, _ := startLoop(t)
	done := make(chan struct{})
	l.Post(func() { panic("boom") })
	l.Post(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after panic")
	}
}

func TestPostNilAndDoubleRun(t *testing.T) {
	l, _, _ := startLoop(t)
	assert.False(t, l.Post(nil))

	require.Eventually(t, func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.running
	}, time.Second, time.Millisecond)
	assert.Error(t, l.Run(context.Background()))
}
