package bridge

import (
	"sync"

	"github.com/ccbridge/ccbridge/internal/queue"
)

// Lanes runs inbound messages one at a time per conversation, in the order
// the adapter received them. Different conversations run in parallel.
//
// Adapters submit from their receive loop, so arrival order is fixed before
// any handler goroutine is scheduled.
type Lanes struct {
	q *queue.Queue

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

// NewLanes creates an empty set of lanes.
func NewLanes() *Lanes {
	return &Lanes{q: queue.New(queue.WithName("inbound"))}
}

// Go queues fn behind earlier work submitted for key. It reports false,
// without running fn, once Close has been called.
func (l *Lanes) Go(key string, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.wg.Add(1)
	queue.Enqueue(l.q, key, func() (struct{}, error) {
		defer l.wg.Done()
		fn()
		return struct{}{}, nil
	})
	return true
}

// Submit queues a Handle call for in on its conversation's lane.
func (l *Lanes) Submit(in Inbound, handle func(Inbound)) bool {
	return l.Go(SessionKey(in.Platform, in.ChannelID, in.ThreadID), func() { handle(in) })
}

// Wait blocks until every submitted message has been handled. It must not
// race with Go; use Close on shutdown.
func (l *Lanes) Wait() {
	l.wg.Wait()
}

// Close stops accepting messages and waits for those already submitted.
func (l *Lanes) Close() {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.wg.Wait()
}
