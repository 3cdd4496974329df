// Package conversation keeps the per-session turn history that gives the
// orchestrator conversational continuity: an ordered turn log, a count-based
// context window handed to downstream handlers, and deterministic resolution
// of continuation phrases ("yes", "do it", "that fix") against prior turns.
package conversation

import (
	"sync"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// DefaultWindow is the number of most-recent turns passed as context to
// downstream handlers.
const DefaultWindow = 3

// Turn is a single entry in a session's conversation log.
type Turn struct {
	// Role is user or agent.
	Role Role `json:"role"`
	// Content is the turn's text.
	Content string `json:"content"`
	// Intent is the classified intent label; empty until classification.
	Intent string `json:"intent,omitempty"`
	// FixRefs are the IDs of fix actions produced or referenced by this turn.
	FixRefs []string `json:"fix_refs,omitempty"`
	// Sequence increases monotonically within a session, starting at 1.
	Sequence int `json:"sequence"`
	// Timestamp is when the turn was recorded.
	Timestamp time.Time `json:"timestamp"`
}

// History is the ordered turn log for one session. Storage is unbounded;
// only the window is passed downstream. Safe for concurrent use, though turn
// handling within a session is serialized above it.
type History struct {
	mu      sync.Mutex
	turns   []Turn
	nextSeq int
}

// NewHistory returns an empty History.
func NewHistory() *History {
	return &History{nextSeq: 1}
}

// Append records a turn, assigning its sequence number and timestamp.
func (h *History) Append(t Turn) Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	t.Sequence = h.nextSeq
	h.nextSeq++
	if t.Timestamp.IsZero() {
		t.Timestamp = time.Now().UTC()
	}
	t.FixRefs = append([]string(nil), t.FixRefs...)
	h.turns = append(h.turns, t)
	return t
}

// Context returns copies of the most recent window turns in chronological
// order. window <= 0 falls back to DefaultWindow. The guarantee is
// count-based recency only; content truncation is the caller's concern.
func (h *History) Context(window int) []Turn {
	h.mu.Lock()
	defer h.mu.Unlock()

	if window <= 0 {
		window = DefaultWindow
	}
	start := len(h.turns) - window
	if start < 0 {
		start = 0
	}
	out := make([]Turn, 0, len(h.turns)-start)
	for _, t := range h.turns[start:] {
		t.FixRefs = append([]string(nil), t.FixRefs...)
		out = append(out, t)
	}
	return out
}

// Len returns the number of recorded turns.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.turns)
}

// lastTurnWithFixRefs returns a copy of the most recent turn carrying a
// non-empty fix reference set, or false when there is none.
func (h *History) lastTurnWithFixRefs() (Turn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if len(h.turns[i].FixRefs) > 0 {
			t := h.turns[i]
			t.FixRefs = append([]string(nil), t.FixRefs...)
			return t, true
		}
	}
	return Turn{}, false
}

// lastAgentTurn returns a copy of the most recent agent turn, or false.
func (h *History) lastAgentTurn() (Turn, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for i := len(h.turns) - 1; i >= 0; i-- {
		if h.turns[i].Role == RoleAgent {
			t := h.turns[i]
			t.FixRefs = append([]string(nil), t.FixRefs...)
			return t, true
		}
	}
	return Turn{}, false
}
