package fix

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Contract-violation sentinels. These indicate a caller bug, not a runtime
// condition, and are never retried or converted to partial responses.
var (
	// ErrDuplicateAction is returned when Record sees an ID collision.
	ErrDuplicateAction = errors.New("fix: duplicate action id")
	// ErrNotFound is returned when no action exists with the given ID.
	ErrNotFound = errors.New("fix: action not found")
	// ErrInvalidTransition is returned when a status update violates the
	// state machine.
	ErrInvalidTransition = errors.New("fix: invalid status transition")
)

// Ledger is the append-only record of every remediation action in one
// session. It is the single authority for action status; callers never
// mutate an Action directly.
//
// Ledger is safe for concurrent use, though turn handling within a session
// is serialized above it.
type Ledger struct {
	mu      sync.Mutex
	order   []string
	actions map[string]*Action
}

// NewLedger returns an empty Ledger.
func NewLedger() *Ledger {
	return &Ledger{actions: make(map[string]*Action)}
}

// Record appends an action. The action must carry a unique ID; a collision
// fails with ErrDuplicateAction and writes nothing.
func (l *Ledger) Record(a *Action) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.actions[a.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAction, a.ID)
	}
	l.actions[a.ID] = a.clone()
	l.order = append(l.order, a.ID)
	return nil
}

// Get returns a copy of the action with the given ID, or ErrNotFound.
func (l *Ledger) Get(id string) (*Action, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.actions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return a.clone(), nil
}

// StatusUpdate carries the optional fields that may change alongside a
// status transition.
type StatusUpdate struct {
	// AfterState, when non-nil, replaces the recorded after snapshot.
	AfterState State
	// ErrorDetail is recorded for failure statuses.
	ErrorDetail string
	// ValidatedAt stamps the validation time; defaults to now for
	// validated_* targets when zero.
	ValidatedAt time.Time
}

// UpdateStatus transitions an action to newStatus. Illegal transitions —
// including any transition out of a terminal status — fail with
// ErrInvalidTransition and change nothing.
func (l *Ledger) UpdateStatus(id string, newStatus Status, upd StatusUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	a, ok := l.actions[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !CanTransition(a.Status, newStatus) {
		return fmt.Errorf("%w: %s: %s → %s", ErrInvalidTransition, id, a.Status, newStatus)
	}

	a.Status = newStatus
	if upd.AfterState != nil {
		a.AfterState = upd.AfterState.Clone()
	}
	if upd.ErrorDetail != "" {
		a.ErrorDetail = upd.ErrorDetail
	}
	if newStatus == StatusValidatedSuccess || newStatus == StatusValidatedFailed {
		ts := upd.ValidatedAt
		if ts.IsZero() {
			ts = time.Now().UTC()
		}
		a.ValidatedAt = &ts
	}
	return nil
}

// All returns copies of every recorded action in insertion order. This is
// the session's cumulative fix history.
func (l *Ledger) All() []*Action {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Action, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, l.actions[id].clone())
	}
	return out
}

// Pending returns the IDs of actions currently in applied_success, in
// insertion order. These are the candidates for an "all pending" validation.
func (l *Ledger) Pending() []string {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ids []string
	for _, id := range l.order {
		if l.actions[id].Status == StatusAppliedSuccess {
			ids = append(ids, id)
		}
	}
	return ids
}

// Len returns the number of recorded actions.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}
