package gateway

import (
	"sync"

	"github.com/stellarlinkco/mealclaw/internal/llm"
)

// Sessions keeps the recent conversation of every chat.
type Sessions struct {
	mu      sync.Mutex
	max     int
	history map[string][]llm.Turn
}

func NewSessions(maxTurns int) *Sessions {
	return &Sessions{max: maxTurns, history: make(map[string][]llm.Turn)}
}

// History returns a copy of the turns recorded for key.
func (s *Sessions) History(key string) []llm.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]llm.Turn(nil), s.history[key]...)
}

// Record appends an exchange and keeps only the newest turns.
func (s *Sessions) Record(key, user, assistant string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	turns := append(s.history[key], llm.UserTurn(user), llm.AssistantTurn(assistant))
	s.history[key] = llm.Trim(turns, s.max)
}

func (s *Sessions) Reset(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.history, key)
}
