package capability

import (
	"context"
	"fmt"
	"strings"
)

// Documentation explains capabilities and answers how-to questions. It is
// also the fallback when discovery returns no tools, so its reply must be
// useful with an empty tool list. It never mutates anything.
type Documentation struct{}

func (h *Documentation) Name() string { return "documentation" }

func (h *Documentation) Handle(ctx context.Context, req *Request) (*Response, error) {
	var b strings.Builder

	if len(req.Tools) == 0 {
		b.WriteString("I don't have any operational tools available for that request, so I can only explain.\n\n")
	}

	b.WriteString("I can help with:\n")
	b.WriteString("  - troubleshooting: describe a problem (\"my function payment-api is timing out\") and I will diagnose and fix it\n")
	b.WriteString("  - execution: ask for a specific change (\"set the timeout to 60 on function payment-api\") or a configuration readout\n")
	b.WriteString("  - validation: say \"validate the fixes\" to re-check applied changes against live state\n")

	if len(req.Tools) > 0 {
		b.WriteString("\nTools matching your request:\n")
		for _, t := range req.Tools {
			desc := t.Description
			if desc == "" {
				desc = "(no description)"
			}
			fmt.Fprintf(&b, "  %s: %s\n", t.Name, desc)
		}
	}

	return &Response{
		Text:  b.String(),
		Tools: toolsInfo(req.Query, req.Tools),
	}, nil
}
