package bridge

import (
	"context"
	"sync"
	"time"
)

// Progress shows streamed updates as one message that is edited in place.
// The first update posts the message; later ones edit it, at most once per
// interval. Updates arriving faster are dropped except the newest, which is
// written by the next update after the interval or by Flush.
type Progress struct {
	post     func(ctx context.Context, text string) (string, error)
	edit     func(ctx context.Context, id, text string) error
	interval time.Duration
	limit    int
	now      func() time.Time

	mu     sync.Mutex
	id     string
	last   time.Time
	shown  string
	latest string
}

// NewProgress creates a progress message. post returns the id of the message
// it created; limit truncates text to the platform's size (0 for none).
func NewProgress(post func(ctx context.Context, text string) (string, error),
	edit func(ctx context.Context, id, text string) error,
	interval time.Duration, limit int) *Progress {
	return &Progress{post: post, edit: edit, interval: interval, limit: limit, now: time.Now}
}

// Update implements dispatch.Context.StreamUpdate.
func (p *Progress) Update(ctx context.Context, text string) error {
	text = Truncate(text, p.limit)

	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = text
	if p.id == "" {
		id, err := p.post(ctx, text)
		if err != nil {
			return err
		}
		p.id, p.shown, p.last = id, text, p.now()
		return nil
	}
	if p.now().Sub(p.last) < p.interval {
		return nil
	}
	return p.write(ctx)
}

// Flush writes the newest update if it has not been shown yet.
func (p *Progress) Flush(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.id == "" {
		return nil
	}
	return p.write(ctx)
}

// ID returns the progress message id, or "" before the first update.
func (p *Progress) ID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.id
}

func (p *Progress) write(ctx context.Context) error {
	if p.latest == p.shown {
		return nil
	}
	if err := p.edit(ctx, p.id, p.latest); err != nil {
		return err
	}
	p.shown, p.last = p.latest, p.now()
	return nil
}

// Truncate shortens s to at most max bytes, ending in "..." when cut.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	if max <= 3 {
		return "..."[:max]
	}
	chunks := SplitMessage(s, max-3)
	return chunks[0] + "..."
}
