package capability

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// LogSource surfaces recent error lines for a resource so diagnoses can
// quote evidence. Implementations may return an empty slice when the
// resource has no logs.
type LogSource interface {
	RecentErrors(ctx context.Context, resource string) ([]string, error)
}

// Troubleshooting diagnoses a reported problem, applies the remediations
// its planner proposes and reports each one with before/after evidence.
type Troubleshooting struct {
	Log     *slog.Logger
	Reader  StateReader
	Invoker discovery.Invoker
	Planner Planner
	Logs    LogSource // optional
}

func (h *Troubleshooting) Name() string { return "troubleshooting" }

func (h *Troubleshooting) Handle(ctx context.Context, req *Request) (*Response, error) {
	resource := ExtractResource(req.Text, req.Intent)
	if resource == "" {
		return &Response{
			Text:  "I couldn't identify which resource you mean. Please name the function, bucket or log group you'd like me to look at.",
			Tools: toolsInfo(req.Query, req.Tools),
		}, nil
	}

	var evidence []string
	if h.Logs != nil {
		lines, err := h.Logs.RecentErrors(ctx, resource)
		if err != nil {
			h.Log.Warn("log lookup failed", "resource", resource, "error", err)
		} else {
			evidence = lines
		}
	}

	plan, err := h.Planner.Plan(ctx, req, req.Tools)
	if err != nil {
		return nil, fmt.Errorf("planning fixes for %s: %w", resource, err)
	}
	if len(plan) == 0 {
		return &Response{
			Text:  fmt.Sprintf("I inspected %s and found nothing that needs fixing.", resource),
			Tools: toolsInfo(req.Query, req.Tools),
		}, nil
	}

	var actions []*fix.Action
	for _, planned := range plan {
		action, err := applyFix(ctx, h.Log, h.Reader, h.Invoker, req.Ledger, planned)
		if err != nil {
			return nil, err
		}
		actions = append(actions, action)
	}

	return &Response{
		Text:        h.report(resource, evidence, actions),
		Actions:     actions,
		Suggestions: suggestValidation(actions),
		Tools:       toolsInfo(req.Query, req.Tools),
	}, nil
}

func (h *Troubleshooting) report(resource string, evidence []string, actions []*fix.Action) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I investigated %s", resource)
	if len(evidence) > 0 {
		fmt.Fprintf(&b, " and found recent errors:\n")
		for _, line := range evidence {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	} else {
		b.WriteString(".\n")
	}
	b.WriteString("\nApplied fixes:\n")
	for _, a := range actions {
		fmt.Fprintf(&b, "  [%s] %s\n", a.ID, a.Summary())
	}
	return b.String()
}

func suggestValidation(actions []*fix.Action) []string {
	for _, a := range actions {
		if a.Status == fix.StatusAppliedSuccess {
			return []string{"Say \"validate the fixes\" once the change has had time to take effect."}
		}
	}
	return nil
}
