package capability

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// Execution carries out explicit operator requests. Requests that name a
// concrete change ("set the timeout to 60") become fix actions; purely
// descriptive requests ("show me the configuration") read state and report
// it without touching the ledger.
type Execution struct {
	Log     *slog.Logger
	Reader  StateReader
	Invoker discovery.Invoker
}

func (h *Execution) Name() string { return "execution" }

var setDirective = regexp.MustCompile(`(?i)\bset\s+(?:the\s+)?(memory|timeout)\s+(?:to|=)\s+(\d+)`)

func (h *Execution) Handle(ctx context.Context, req *Request) (*Response, error) {
	resource := ExtractResource(req.Text, req.Intent)
	if resource == "" {
		return &Response{
			Text:  "I couldn't identify the target resource. Please name it explicitly.",
			Tools: toolsInfo(req.Query, req.Tools),
		}, nil
	}

	if plan := h.planDirectives(resource, req.Text, req.Tools); len(plan) > 0 {
		var actions []*fix.Action
		for _, planned := range plan {
			action, err := applyFix(ctx, h.Log, h.Reader, h.Invoker, req.Ledger, planned)
			if err != nil {
				return nil, err
			}
			actions = append(actions, action)
		}
		var b strings.Builder
		b.WriteString("Done:\n")
		for _, a := range actions {
			fmt.Fprintf(&b, "  [%s] %s\n", a.ID, a.Summary())
		}
		return &Response{
			Text:        b.String(),
			Actions:     actions,
			Suggestions: suggestValidation(actions),
			Tools:       toolsInfo(req.Query, req.Tools),
		}, nil
	}

	// Read-only path: no mutation, so nothing enters the ledger.
	state, err := h.Reader.ReadState(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resource, err)
	}
	return &Response{
		Text:  renderState(resource, state),
		Tools: toolsInfo(req.Query, req.Tools),
	}, nil
}

// planDirectives parses imperative "set X to N" phrases into planned fixes.
// Only lambda configuration is mutable this way today.
func (h *Execution) planDirectives(resource, text string, tools []discovery.Tool) []PlannedFix {
	if !strings.HasPrefix(resource, "lambda:") {
		return nil
	}
	tool, ok := findTool(tools, "UpdateFunctionConfiguration")
	if !ok {
		return nil
	}
	name := strings.TrimPrefix(resource, "lambda:")

	var plan []PlannedFix
	for _, m := range setDirective.FindAllStringSubmatch(text, -1) {
		value, err := strconv.Atoi(m[2])
		if err != nil {
			continue
		}
		switch strings.ToLower(m[1]) {
		case "memory":
			plan = append(plan, PlannedFix{
				Description: fmt.Sprintf("Set memory of function %s to %dMB", name, value),
				Resource:    resource,
				Tool:        tool,
				Parameters:  map[string]any{"FunctionName": name, "MemorySize": value},
			})
		case "timeout":
			plan = append(plan, PlannedFix{
				Description: fmt.Sprintf("Set timeout of function %s to %ds", name, value),
				Resource:    resource,
				Tool:        tool,
				Parameters:  map[string]any{"FunctionName": name, "Timeout": value},
			})
		}
	}
	return plan
}

func renderState(resource string, state fix.State) string {
	if len(state) == 0 {
		return fmt.Sprintf("%s exists but reported no attributes.", resource)
	}
	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "Current configuration of %s:\n", resource)
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %s\n", k, state[k])
	}
	return b.String()
}
