package assistant

import (
	"fmt"
	"time"

	"github.com/ccbridge/ccbridge/internal/sessionstore"
)

// maxStoredTurns caps the turns kept per conversation file.
const maxStoredTurns = 200

// Sessions persists conversations, one JSON file per chat session.
type Sessions struct {
	store *sessionstore.Store[Conversation]
	now   func() time.Time
}

// NewSessions stores conversations under dir.
func NewSessions(dir string) *Sessions {
	return &Sessions{
		store: sessionstore.New[Conversation](dir),
		now:   time.Now,
	}
}

// Store exposes the underlying session store.
func (s *Sessions) Store() *sessionstore.Store[Conversation] {
	return s.store
}

// Get returns the stored conversation, or a zero one and false.
func (s *Sessions) Get(id string) (Conversation, bool) {
	return s.store.Load(id)
}

// Record appends a completed turn and saves the conversation. A non-empty
// reply.ResumeID replaces the stored one.
func (s *Sessions) Record(id, backend, prompt string, reply Reply) (Conversation, error) {
	now := s.now()
	conv, ok := s.store.Load(id)
	if !ok {
		conv = Conversation{CreatedAt: now}
	}
	conv.Backend = backend
	if reply.ResumeID != "" {
		conv.ResumeID = reply.ResumeID
	}
	conv.Turns = append(conv.Turns, Turn{Prompt: prompt, Reply: reply.Text, At: now})
	if len(conv.Turns) > maxStoredTurns {
		conv.Turns = conv.Turns[len(conv.Turns)-maxStoredTurns:]
	}
	conv.CostUSD += reply.CostUSD
	conv.UpdatedAt = now

	if err := s.store.Save(id, conv); err != nil {
		return conv, fmt.Errorf("record turn for %s: %w", id, err)
	}
	return conv, nil
}

// Forget deletes the session's conversation.
func (s *Sessions) Forget(id string) error {
	return s.store.Clear(id)
}

// List returns the stored session ids.
func (s *Sessions) List() ([]string, error) {
	return s.store.List()
}
