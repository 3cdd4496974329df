package orchestrator

import (
	"sync"
	"time"

	"github.com/opsrelay/opsrelay/internal/relay/conversation"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// clarificationTTL bounds how long a pending clarification question stays
// live. An answer arriving later is treated as a fresh request.
const clarificationTTL = 5 * time.Minute

type clarification struct {
	question string
	original string
	askedAt  time.Time
}

func (c *clarification) expired(now time.Time) bool {
	return now.Sub(c.askedAt) > clarificationTTL
}

// Session is the per-conversation state: the bounded turn history, the fix
// ledger and any clarification still awaiting an answer. Turn handling
// within a session is serialized on mu; distinct sessions proceed
// concurrently.
type Session struct {
	ID      string
	History *conversation.History
	Ledger  *fix.Ledger

	mu      sync.Mutex
	pending *clarification
}

func newSession(id string) *Session {
	return &Session{
		ID:      id,
		History: conversation.NewHistory(),
		Ledger:  fix.NewLedger(),
	}
}

// Sessions tracks live sessions by ID, creating them on first use.
type Sessions struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

// NewSessions returns an empty session tracker.
func NewSessions() *Sessions {
	return &Sessions{sessions: make(map[string]*Session)}
}

// Get returns the session with the given ID, creating it if needed.
func (s *Sessions) Get(id string) *Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		session = newSession(id)
		s.sessions[id] = session
	}
	return session
}

// Lookup returns the session only if it already exists.
func (s *Sessions) Lookup(id string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	return session, ok
}

// Remove tears down the session with the given ID and reports whether it
// existed. A later Get with the same ID starts a fresh session.
func (s *Sessions) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}
