// Package intent defines the classification contract between the
// orchestrator and the external intent-classification service, plus the
// deterministic keyword fallback used when that service is unreachable or
// produces a label outside the known set.
//
// The classifier only labels requests; it never executes anything. Routing
// decisions stay in the capability router.
package intent

import (
	"context"
	"errors"
)

// Label is a classified intent category.
type Label string

const (
	// LabelTroubleshooting covers failures, errors, and diagnosis requests.
	LabelTroubleshooting Label = "troubleshooting"
	// LabelExecution covers standard operations: list, create, describe,
	// configure, delete.
	LabelExecution Label = "execution"
	// LabelVerification covers requests to check previously applied fixes.
	LabelVerification Label = "verification"
	// LabelDocumentation covers explanation and guidance requests.
	LabelDocumentation Label = "documentation"
)

// Known reports whether l is in the closed label set. Any label outside it
// is treated as a documentation-fallback trigger, never an error.
func Known(l Label) bool {
	switch l {
	case LabelTroubleshooting, LabelExecution, LabelVerification, LabelDocumentation:
		return true
	}
	return false
}

// Confidence thresholds governing how classifications are acted on.
//
//   - ≥ HighConfidenceThreshold: proceed directly.
//   - ≥ MidConfidenceThreshold:  proceed, noting the reasoning in the reply.
//   - < MidConfidenceThreshold:  ask a clarifying question first.
const (
	HighConfidenceThreshold = 0.8
	MidConfidenceThreshold  = 0.5
)

// ErrUnavailable is returned by a Provider when the upstream classification
// service cannot be reached or returns an unusable response. Callers recover
// locally with the keyword fallback.
var ErrUnavailable = errors.New("intent: classification service unavailable")

// Step is one element of a compound intent, in execution order.
type Step struct {
	// Label is the capability this step needs.
	Label Label `json:"label"`
	// Request is the step-scoped request text; empty means reuse the
	// original turn text.
	Request string `json:"request,omitempty"`
}

// Classification is the structured result of classifying one user turn.
type Classification struct {
	// Label is the primary intent category.
	Label Label `json:"intent_category"`
	// Service is the AWS service the request concerns, or "unknown".
	Service string `json:"aws_service,omitempty"`
	// Confidence is the classifier's 0–1 certainty.
	Confidence float64 `json:"confidence"`
	// Reasoning is a short explanation, surfaced for observability.
	Reasoning string `json:"reasoning,omitempty"`
	// Steps is non-empty only for compound intents (e.g. a fix followed by
	// a verification). Handlers for the steps run strictly sequentially.
	Steps []Step `json:"steps,omitempty"`
	// NeedsClarification is set when confidence is too low to act; Question
	// then carries the clarifying question to surface.
	NeedsClarification bool   `json:"-"`
	Question           string `json:"-"`
}

// ContextTurn is a prior conversation turn passed to the classifier so it
// sees the bounded context window.
type ContextTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Provider classifies free-form user requests. Implementations must be safe
// for concurrent use and should return ErrUnavailable (possibly wrapped) for
// transport-level failures so callers can degrade to the keyword path.
type Provider interface {
	Classify(ctx context.Context, text string, contextTurns []ContextTurn) (*Classification, error)
}
