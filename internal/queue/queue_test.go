package queue

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 5 * time.Second

func waitCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	t.Cleanup(cancel)
	return ctx
}

// tracked reports how many keys still hold bookkeeping.
func (q *Queue) tracked() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending) + len(q.active)
}

func TestEnqueueReturnsTaskResult(t *testing.T) {
	q := New()
	got, err := Enqueue(q, "s1", func() (string, error) { return "done", nil }).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "done", got)
}

func TestSameKeyRunsInArrivalOrder(t *testing.T) {
	q := New()

	var (
		mu    sync.Mutex
		order []int
	)
	record := func(n int, delay time.Duration) func() (int, error) {
		return func() (int, error) {
			time.Sleep(delay)
			mu.Lock()
			order = append(order, n)
			mu.Unlock()
			return n, nil
		}
	}

	f1 := Enqueue(q, "session", record(1, 50*time.Millisecond))
	f2 := Enqueue(q, "session", record(2, 0))
	f3 := Enqueue(q, "session", record(3, 0))

	ctx := waitCtx(t)
	for _, f := range []*Future[int]{f1, f2, f3} {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestOneTaskPerKeyAtATime(t *testing.T) {
	q := New()

	var (
		mu      sync.Mutex
		running int
		maxSeen int
	)
	var futures []*Future[struct{}]
	for i := 0; i < 20; i++ {
		futures = append(futures, Enqueue(q, "k", func() (struct{}, error) {
			mu.Lock()
			running++
			if running > maxSeen {
				maxSeen = running
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			running--
			mu.Unlock()
			return struct{}{}, nil
		}))
	}
	ctx := waitCtx(t)
	for _, f := range futures {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, maxSeen)
}

func TestDifferentKeysRunConcurrently(t *testing.T) {
	q := New()
	bDone := make(chan struct{})

	// A waits for B; if keys were serialized together this would never finish.
	fa := Enqueue(q, "A", func() (string, error) {
		select {
		case <-bDone:
			return "a", nil
		case <-time.After(waitTimeout):
			return "", errors.New("key B never ran")
		}
	})
	fb := Enqueue(q, "B", func() (string, error) {
		close(bDone)
		return "b", nil
	})

	ctx := waitCtx(t)
	a, err := fa.Wait(ctx)
	require.NoError(t, err)
	b, err := fb.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a", a)
	assert.Equal(t, "b", b)
}

func TestFailureIsolation(t *testing.T) {
	q := New()
	boom := errors.New("boom")

	failing := Enqueue(q, "A", func() (int, error) { return 0, boom })
	other := Enqueue(q, "B", func() (int, error) { return 2, nil })
	after := Enqueue(q, "A", func() (int, error) { return 3, nil })

	ctx := waitCtx(t)

	_, err := failing.Wait(ctx)
	assert.ErrorIs(t, err, boom)

	v, err := other.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	v, err = after.Wait(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, v)
}

func TestPanicBecomesError(t *testing.T) {
	q := New()

	_, err := Enqueue(q, "p", func() (int, error) { panic("kaboom") }).Wait(waitCtx(t))
	require.ErrorIs(t, err, ErrPanic)
	assert.Contains(t, err.Error(), "kaboom")

	v, err := Enqueue(q, "p", func() (int, error) { return 7, nil }).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestLenCountsWaitingTasks(t *testing.T) {
	q := New()
	assert.Equal(t, 0, q.Len("missing"))

	started := make(chan struct{})
	release := make(chan struct{})
	first := Enqueue(q, "k", func() (int, error) {
		close(started)
		<-release
		return 1, nil
	})
	<-started

	second := Enqueue(q, "k", func() (int, error) { return 2, nil })
	third := Enqueue(q, "k", func() (int, error) { return 3, nil })

	assert.Equal(t, 2, q.Len("k"))
	assert.True(t, q.Active("k"))
	stats := q.Stats()
	require.Len(t, stats, 1)
	assert.Equal(t, KeyStats{Key: "k", Pending: 2, Active: true}, stats[0])

	close(release)
	ctx := waitCtx(t)
	for _, f := range []*Future[int]{first, second, third} {
		_, err := f.Wait(ctx)
		require.NoError(t, err)
	}
}

func TestDrainedKeyIsForgotten(t *testing.T) {
	q := New()

	_, err := Enqueue(q, "k", func() (int, error) { return 1, nil }).Wait(waitCtx(t))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return q.tracked() == 0 }, waitTimeout, time.Millisecond)
	assert.Equal(t, 0, q.Len("k"))
	assert.False(t, q.Active("k"))
	assert.Empty(t, q.Stats())

	// A later burst starts a fresh drain.
	v, err := Enqueue(q, "k", func() (int, error) { return 2, nil }).Wait(waitCtx(t))
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	require.Eventually(t, func() bool { return q.tracked() == 0 }, waitTimeout, time.Millisecond)
}

func TestDoAbandonsWaitOnCancel(t *testing.T) {
	q := New()
	release := make(chan struct{})
	finished := make(chan struct{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := q.Do(ctx, "k", func() error {
		<-release
		close(finished)
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	// The task itself still runs to completion.
	close(release)
	select {
	case <-finished:
	case <-time.After(waitTimeout):
		t.Fatal("task did not complete after caller stopped waiting")
	}
}

func TestFutureDone(t *testing.T) {
	q := New()
	f := Enqueue(q, "k", func() (int, error) { return 1, nil })
	select {
	case <-f.Done():
	case <-time.After(waitTimeout):
		t.Fatal("future never settled")
	}
}
