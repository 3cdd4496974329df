package fix

import "fmt"

// Result is the aggregated outcome of the actions produced (or examined) by
// one orchestrator invocation. Counts are always derived from Actions at
// aggregation time and never stored separately, so they cannot drift from
// the underlying statuses.
type Result struct {
	// Actions in application order.
	Actions []*Action `json:"actions"`
	// Total is len(Actions).
	Total int `json:"total"`
	// Succeeded counts applied_success and validated_success actions.
	Succeeded int `json:"succeeded"`
	// Failed counts applied_failed and validated_failed actions.
	Failed int `json:"failed"`
	// RequiresValidation is true when any action has been applied
	// successfully but not yet validated.
	RequiresValidation bool `json:"requires_validation"`
	// Suggestions are advisory follow-up steps for the user. Never persisted.
	Suggestions []string `json:"suggestions,omitempty"`
}

// Aggregate computes a Result over an ordered action sequence. It is a pure
// function of the actions' current statuses; callers re-aggregate after any
// external status update rather than caching.
func Aggregate(actions []*Action, suggestions ...string) *Result {
	r := &Result{
		Actions:     actions,
		Total:       len(actions),
		Suggestions: suggestions,
	}
	for _, a := range actions {
		switch {
		case a.Succeeded():
			r.Succeeded++
		case a.Failed():
			r.Failed++
		}
		if a.Status == StatusAppliedSuccess || a.Status == StatusPendingValidation {
			r.RequiresValidation = true
		}
	}
	return r
}

// Summary returns the N/M overall line shown in conversation responses.
func (r *Result) Summary() string {
	if r.Total == 0 {
		return "No fixes applied"
	}
	return fmt.Sprintf("%d/%d fixes successful", r.Succeeded, r.Total)
}

// IDs returns the action IDs in order, for tagging conversation turns.
func (r *Result) IDs() []string {
	ids := make([]string, 0, len(r.Actions))
	for _, a := range r.Actions {
		ids = append(ids, a.ID)
	}
	return ids
}
