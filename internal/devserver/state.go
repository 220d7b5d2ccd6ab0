package devserver

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eloquent-ai/operator-client/internal/model"
)

// conversation is a stored conversation thread. Every thread starts with a
// system message, which the real backend also returns and clients are
// expected to filter.
type conversation struct {
	ID        string
	UserID    string
	Messages  []model.Message
	CreatedAt time.Time
	UpdatedAt time.Time
}

type account struct {
	ID       string
	Name     string
	Email    string
	Password string
}

// turnResult caches a settled turn by its idempotency key, so the same
// turn retried over the other transport replays instead of reprocessing.
type turnResult struct {
	ConversationID string
	Messages       []model.Message
}

// state is the in-memory backing store of the stub backend.
type state struct {
	mu            sync.Mutex
	conversations map[string]*conversation
	accounts      map[string]*account // by email
	turns         map[string]turnResult
}

func newState() *state {
	return &state{
		conversations: make(map[string]*conversation),
		accounts:      make(map[string]*account),
		turns:         make(map[string]turnResult),
	}
}

const systemPrompt = "You are Eloquent Operator, a helpful assistant."

func (s *state) getOrCreateConversation(id, userID string) *conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id != "" && id != "0" {
		if c, ok := s.conversations[id]; ok {
			return c
		}
	}

	now := time.Now().UTC()
	c := &conversation{
		ID:     uuid.NewString(),
		UserID: userID,
		Messages: []model.Message{{
			ID:        uuid.NewString(),
			Role:      model.RoleSystem,
			Content:   systemPrompt,
			CreatedAt: now.Format(time.RFC3339),
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[c.ID] = c
	return c
}

func (s *state) lookup(id string) (*conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	return c, ok
}

func (s *state) remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conversations[id]; !ok {
		return false
	}
	delete(s.conversations, id)
	return true
}

func (s *state) listFor(userID string) []*conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*conversation
	for _, c := range s.conversations {
		if userID == "" || c.UserID == userID {
			out = append(out, c)
		}
	}
	return out
}

func (s *state) appendMessages(c *conversation, msgs ...model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Messages = append(c.Messages, msgs...)
	c.UpdatedAt = time.Now().UTC()
}

// snapshot returns a copy of the conversation's messages.
func (s *state) snapshot(c *conversation) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

func (s *state) recordTurn(turnID string, result turnResult) {
	if turnID == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[turnID] = result
}

func (s *state) replayTurn(turnID string) (turnResult, bool) {
	if turnID == "" {
		return turnResult{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.turns[turnID]
	return r, ok
}

func (s *state) upsertAccount(name, email, password string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.accounts[email]; exists {
		return nil, false
	}
	a := &account{ID: uuid.NewString(), Name: name, Email: email, Password: password}
	s.accounts[email] = a
	return a, true
}

func (s *state) authenticate(email, password string) (*account, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[email]
	if !ok || a.Password != password {
		return nil, false
	}
	return a, true
}
