package intent

import (
	"context"
	"fmt"
	"log/slog"
)

// Resolver wraps a Provider with the local enforcement layers the
// orchestrator relies on:
//
//  1. Availability fallback: when the provider errors, classification
//     degrades to the deterministic keyword table instead of failing the
//     turn.
//  2. Label validation: a label outside the known set is rewritten to
//     documentation, the fallback capability.
//  3. Confidence policy: low-confidence classifications are converted into
//     a clarification request instead of being acted on.
//
// A nil provider is valid and means keyword-only classification.
type Resolver struct {
	provider Provider
	keywords KeywordClassifier
}

// NewResolver returns a Resolver backed by provider (may be nil).
func NewResolver(provider Provider) *Resolver {
	return &Resolver{provider: provider}
}

// Resolve classifies text, applying the fallback and confidence layers.
// It never returns an error: every failure mode degrades to a usable
// Classification.
func (r *Resolver) Resolve(ctx context.Context, text string, contextTurns []ContextTurn) *Classification {
	var c *Classification

	if r.provider != nil {
		resp, err := r.provider.Classify(ctx, text, contextTurns)
		if err != nil {
			slog.Warn("intent: provider failed, using keyword fallback", "err", err)
		} else {
			c = resp
		}
	}
	if c == nil {
		c = r.keywords.Classify(contextTurns, text)
	}

	if !Known(c.Label) {
		slog.Info("intent: unknown label, routing to documentation", "label", c.Label)
		c.Reasoning = fmt.Sprintf("label %q outside known set; documentation fallback", c.Label)
		c.Label = LabelDocumentation
	}
	for i, s := range c.Steps {
		if !Known(s.Label) {
			c.Steps[i].Label = LabelDocumentation
		}
	}

	if c.Confidence > 0 && c.Confidence < MidConfidenceThreshold {
		c.NeedsClarification = true
		if c.Question == "" {
			c.Question = "Could you share more detail about the AWS service or resource you mean, and what outcome you're after?"
		}
	}

	return c
}
