package bridge

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLanesKeepOrderPerKey(t *testing.T) {
	l := NewLanes()
	var mu sync.Mutex
	got := map[string][]int{}

	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			l.Go(key, func() {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	l.Wait()

	want := make([]int, 50)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got["a"])
	assert.Equal(t, want, got["b"])
}

func TestLanesRunKeysInParallel(t *testing.T) {
	l := NewLanes()
	release := make(chan struct{})
	done := make(chan struct{})

	l.Go("slow", func() { <-release })
	l.Go("fast", func() { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fast lane blocked behind slow lane")
	}
	close(release)
	l.Wait()
}

func TestLanesSubmitUsesSessionKey(t *testing.T) {
	l := NewLanes()
	release := make(chan struct{})
	var order []string
	var mu sync.Mutex
	record := func(in Inbound) {
		mu.Lock()
		order = append(order, in.Text)
		mu.Unlock()
	}

	l.Go(SessionKey("slack", "C1", "t1"), func() { <-release })
	l.Submit(Inbound{Platform: "slack", ChannelID: "C1", ThreadID: "t1", Text: "queued"}, record)
	l.Submit(Inbound{Platform: "slack", ChannelID: "C1", Text: "other thread"}, record)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 1
	}, 2*time.Second, 5*time.Millisecond)
	close(release)
	l.Wait()
	assert.Equal(t, []string{"other thread", "queued"}, order)
}

func TestLanesCloseDrainsAndRejects(t *testing.T) {
	l := NewLanes()
	ran := make(chan struct{}, 2)

	assert.True(t, l.Go("k", func() {
		time.Sleep(10 * time.Millisecond)
		ran <- struct{}{}
	}))
	l.Close()
	assert.Len(t, ran, 1)

	assert.False(t, l.Go("k", func() { ran <- struct{}{} }))
	assert.Len(t, ran, 1)
}
