// Package queue serializes tasks per key. Tasks sharing a key run one at a
// time in arrival order; tasks under different keys run concurrently.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ccbridge/ccbridge/internal/debug"
	"github.com/ccbridge/ccbridge/internal/telemetry"
)

// ErrPanic wraps the value recovered from a task that panicked.
var ErrPanic = errors.New("queue: task panicked")

type entry struct {
	run      func() error
	enqueued time.Time
}

// Queue holds the pending tasks of every key. A key with no pending or
// running task has no entry in either map.
type Queue struct {
	mu      sync.Mutex
	pending map[string][]*entry
	active  map[string]bool

	name    string
	logger  *log.Logger
	metrics *telemetry.QueueInstruments
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger used for task failures.
func WithLogger(l *log.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.logger = l
		}
	}
}

// WithName labels the queue's metrics (default "commands").
func WithName(name string) Option {
	return func(q *Queue) {
		if name != "" {
			q.name = name
		}
	}
}

// New creates an empty queue.
func New(opts ...Option) *Queue {
	q := &Queue{
		pending: make(map[string][]*entry),
		active:  make(map[string]bool),
		name:    "commands",
		logger:  debug.Discard(),
		metrics: telemetry.NewQueueInstruments(),
	}
	for _, opt := range opts {
		opt(q)
	}
	return q
}

// Enqueue appends task to key's pending list and returns a future that
// settles with the task's own result. A drain goroutine is started only if
// none is running for key.
func Enqueue[T any](q *Queue, key string, task func() (T, error)) *Future[T] {
	f := newFuture[T]()
	q.push(key, func() error {
		v, err := runTask(task)
		f.settle(v, err)
		return err
	})
	return f
}

// Do enqueues fn under key and waits for it. Cancelling ctx abandons the wait
// but not the task.
func (q *Queue) Do(ctx context.Context, key string, fn func() error) error {
	_, err := Enqueue(q, key, func() (struct{}, error) {
		return struct{}{}, fn()
	}).Wait(ctx)
	return err
}

func runTask[T any](task func() (T, error)) (v T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrPanic, r)
		}
	}()
	return task()
}

func (q *Queue) push(key string, run func() error) {
	q.mu.Lock()
	q.pending[key] = append(q.pending[key], &entry{run: run, enqueued: time.Now()})
	start := !q.active[key]
	if start {
		q.active[key] = true
	}
	q.mu.Unlock()

	if start {
		go q.drain(key)
	}
}

// drain runs key's tasks until its pending list is empty, then forgets the key.
func (q *Queue) drain(key string) {
	for {
		q.mu.Lock()
		list := q.pending[key]
		if len(list) == 0 {
			delete(q.pending, key)
			delete(q.active, key)
			q.mu.Unlock()
			return
		}
		next := list[0]
		list[0] = nil
		if len(list) == 1 {
			delete(q.pending, key)
		} else {
			q.pending[key] = list[1:]
		}
		q.mu.Unlock()

		started := time.Now()
		err := next.run()
		q.metrics.Task(context.Background(), q.name, started.Sub(next.enqueued), time.Since(started), err)
		if err != nil {
			q.logger.Debug("task failed", "key", key, "err", err)
		}
	}
}

// Len returns the number of tasks waiting under key, not counting one that
// is currently running.
func (q *Queue) Len(key string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[key])
}

// Active reports whether a drain is running for key.
func (q *Queue) Active(key string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active[key]
}

// KeyStats describes one busy key.
type KeyStats struct {
	Key     string
	Pending int
	Active  bool
}

// Stats returns every key with queued or running work, sorted by key.
func (q *Queue) Stats() []KeyStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]KeyStats, 0, len(q.active))
	for key := range q.active {
		out = append(out, KeyStats{Key: key, Pending: len(q.pending[key]), Active: true})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
