// Package fix implements the remediation audit trail: every automated
// change an agent applies is recorded as an Action with full before/after
// state, and tracked through an explicit validation lifecycle.
//
// Actions are append-only. A failed action is never retried in place —
// a retry is always a fresh Action with its own identity.
package fix

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a single remediation action.
type Status string

const (
	// StatusAppliedSuccess means the mutating call completed successfully.
	StatusAppliedSuccess Status = "applied_success"
	// StatusAppliedFailed means the mutating call raised or returned an error.
	StatusAppliedFailed Status = "applied_failed"
	// StatusPendingValidation means validation was requested but has not run yet.
	StatusPendingValidation Status = "pending_validation"
	// StatusValidatedSuccess means the post-check confirmed the desired state.
	StatusValidatedSuccess Status = "validated_success"
	// StatusValidatedFailed means the post-check found a regression or no change.
	StatusValidatedFailed Status = "validated_failed"
)

// legalTransitions is the per-action state machine. A status missing from the
// outer map is terminal.
var legalTransitions = map[Status]map[Status]bool{
	StatusAppliedSuccess:    {StatusPendingValidation: true},
	StatusPendingValidation: {StatusValidatedSuccess: true, StatusValidatedFailed: true},
}

// CanTransition reports whether from → to is a legal status transition.
func CanTransition(from, to Status) bool {
	return legalTransitions[from][to]
}

// Terminal reports whether s admits no further transitions.
func (s Status) Terminal() bool {
	return len(legalTransitions[s]) == 0
}

// State is an opaque snapshot of a resource's attributes at a point in time.
type State map[string]string

// Clone returns an independent copy of s. Clone of nil is nil.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	cp := make(State, len(s))
	for k, v := range s {
		cp[k] = v
	}
	return cp
}

// Equal reports whether two snapshots carry identical attributes.
func (s State) Equal(other State) bool {
	if len(s) != len(other) {
		return false
	}
	for k, v := range s {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// Subsumes reports whether every attribute in want is present with the same
// value in s. Used by validation to check a live snapshot against the
// recorded desired outcome without requiring the snapshots to be identical.
func (s State) Subsumes(want State) bool {
	for k, v := range want {
		if sv, ok := s[k]; !ok || sv != v {
			return false
		}
	}
	return true
}

// Action is one recorded remediation attempt.
//
// ID, Description, TargetResource, CommandIssued and BeforeState are immutable
// after creation. Status, AfterState (on retry of the post-capture),
// ValidatedAt and ErrorDetail are the only fields the Ledger will update.
type Action struct {
	// ID is unique within a session, generated at creation.
	ID string `json:"action_id"`
	// Description is a human-readable summary of what was changed and why.
	Description string `json:"description"`
	// TargetResource identifies the resource (service + ARN or name).
	TargetResource string `json:"target_resource"`
	// CommandIssued is the exact operation invoked, recorded verbatim.
	CommandIssued string `json:"command_issued"`
	// BeforeState is captured strictly before the mutating call.
	BeforeState State `json:"before_state"`
	// AfterState is captured strictly after the mutating call. When the call
	// fails it may equal BeforeState.
	AfterState State `json:"after_state"`
	// Status is the current lifecycle state.
	Status Status `json:"status"`
	// AppliedAt is when the mutating call was attempted.
	AppliedAt time.Time `json:"applied_at"`
	// ValidatedAt is set when a post-check runs; nil until then.
	ValidatedAt *time.Time `json:"validated_at,omitempty"`
	// ErrorDetail is populated only for failure statuses.
	ErrorDetail string `json:"error_detail,omitempty"`
}

// NewAction builds an Action for a mutation that has just been attempted.
// The caller supplies the outcome of the call; the before snapshot must have
// been captured before the call and the after snapshot after it.
func NewAction(description, targetResource, commandIssued string, before, after State, callErr error) *Action {
	a := &Action{
		ID:             uuid.New().String()[:8],
		Description:    description,
		TargetResource: targetResource,
		CommandIssued:  commandIssued,
		BeforeState:    before.Clone(),
		AfterState:     after.Clone(),
		AppliedAt:      time.Now().UTC(),
	}
	if callErr != nil {
		a.Status = StatusAppliedFailed
		a.ErrorDetail = callErr.Error()
	} else {
		a.Status = StatusAppliedSuccess
	}
	return a
}

// ChangedState returns the attributes this action actually changed: the
// keys whose value differs between the before and after snapshots. This is
// the action's desired outcome for validation purposes; attributes that
// merely appeared in the snapshots (and may since have been changed by a
// later fix to the same resource) are excluded.
func (a *Action) ChangedState() State {
	delta := make(State)
	for k, v := range a.AfterState {
		if bv, ok := a.BeforeState[k]; !ok || bv != v {
			delta[k] = v
		}
	}
	return delta
}

// Succeeded reports whether the action is in a success status.
func (a *Action) Succeeded() bool {
	return a.Status == StatusAppliedSuccess || a.Status == StatusValidatedSuccess
}

// Failed reports whether the action is in a failure status.
func (a *Action) Failed() bool {
	return a.Status == StatusAppliedFailed || a.Status == StatusValidatedFailed
}

// Summary returns a one-line human-readable summary of the action.
func (a *Action) Summary() string {
	marker := "✅"
	if a.Failed() {
		marker = "❌"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s] %s — %s", marker, a.ID, a.TargetResource, a.Description)
	if a.ErrorDetail != "" {
		fmt.Fprintf(&b, " (%s)", a.ErrorDetail)
	}
	return b.String()
}

// clone returns a deep copy so ledger internals never leak to callers.
func (a *Action) clone() *Action {
	cp := *a
	cp.BeforeState = a.BeforeState.Clone()
	cp.AfterState = a.AfterState.Clone()
	if a.ValidatedAt != nil {
		t := *a.ValidatedAt
		cp.ValidatedAt = &t
	}
	return &cp
}
