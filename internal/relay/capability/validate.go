package capability

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// Validation re-checks previously applied fixes against live state. Each
// target in applied_success moves through pending_validation to a terminal
// validated status within a single call; targets in any other status are
// skipped untouched, which makes repeated validation idempotent.
type Validation struct {
	Log    *slog.Logger
	Reader StateReader
}

func (h *Validation) Name() string { return "validation" }

func (h *Validation) Handle(ctx context.Context, req *Request) (*Response, error) {
	ids := make([]string, 0, len(req.Referenced))
	for _, a := range req.Referenced {
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		ids = req.Ledger.Pending()
	}
	if len(ids) == 0 {
		return &Response{
			Text:  "There are no fixes awaiting validation.",
			Tools: toolsInfo(req.Query, req.Tools),
		}, nil
	}

	result := RunValidation(ctx, h.Log, h.Reader, req.Ledger, ids)
	return &Response{
		Text:    renderValidation(result),
		Actions: result.Actions,
		Tools:   toolsInfo(req.Query, req.Tools),
	}, nil
}

// RunValidation validates the given fix actions and returns the aggregate
// over exactly the actions whose status changed. Unknown IDs and actions
// not in applied_success are skipped without error.
func RunValidation(ctx context.Context, log *slog.Logger, reader StateReader, ledger *fix.Ledger, ids []string) *fix.Result {
	var examined []*fix.Action
	for _, id := range ids {
		action, err := ledger.Get(id)
		if err != nil {
			log.Warn("validation target not found", "action_id", id)
			continue
		}
		if action.Status != fix.StatusAppliedSuccess {
			log.Debug("skipping validation", "action_id", id, "status", action.Status)
			continue
		}

		if err := ledger.UpdateStatus(id, fix.StatusPendingValidation, fix.StatusUpdate{}); err != nil {
			log.Warn("validation transition failed", "action_id", id, "error", err)
			continue
		}

		// The desired outcome is what this fix changed, not the whole after
		// snapshot: a later fix to the same resource may legitimately have
		// moved attributes this one only observed.
		want := action.ChangedState()
		if len(want) == 0 {
			want = action.AfterState
		}

		update := fix.StatusUpdate{}
		status := fix.StatusValidatedSuccess
		live, err := reader.ReadState(ctx, action.TargetResource)
		switch {
		case errors.Is(err, ErrResourceNotFound):
			status = fix.StatusValidatedFailed
			update.ErrorDetail = fmt.Sprintf("resource %s no longer exists", action.TargetResource)
		case err != nil:
			status = fix.StatusValidatedFailed
			update.ErrorDetail = fmt.Sprintf("state read failed: %v", err)
		case !live.Subsumes(want):
			status = fix.StatusValidatedFailed
			update.ErrorDetail = "live state diverged: " + stateDiff(want, live)
		}

		if err := ledger.UpdateStatus(id, status, update); err != nil {
			log.Error("recording validation outcome failed", "action_id", id, "error", err)
			continue
		}
		validated, err := ledger.Get(id)
		if err != nil {
			continue
		}
		examined = append(examined, validated)
		log.Info("fix validated", "action_id", id, "status", status)
	}

	var suggestions []string
	for _, a := range examined {
		if a.Status == fix.StatusValidatedFailed {
			suggestions = append(suggestions, fmt.Sprintf("Fix %s did not hold; ask me to re-apply it.", a.ID))
		}
	}
	return fix.Aggregate(examined, suggestions...)
}

// stateDiff lists the expected attributes the live state is missing or has
// changed, keyed alphabetically so messages are stable.
func stateDiff(want, live fix.State) string {
	keys := make([]string, 0, len(want))
	for k := range want {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var parts []string
	for _, k := range keys {
		got, ok := live[k]
		if !ok {
			parts = append(parts, fmt.Sprintf("%s missing (expected %q)", k, want[k]))
		} else if got != want[k] {
			parts = append(parts, fmt.Sprintf("%s=%q (expected %q)", k, got, want[k]))
		}
	}
	return strings.Join(parts, ", ")
}

func renderValidation(result *fix.Result) string {
	if result.Total == 0 {
		return "No fixes needed validation; everything already has a final status."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Validated %d fix(es): %d passed, %d failed.\n", result.Total, result.Succeeded, result.Failed)
	for _, a := range result.Actions {
		mark := "PASS"
		if a.Status == fix.StatusValidatedFailed {
			mark = "FAIL"
		}
		fmt.Fprintf(&b, "  [%s] %s: %s", a.ID, mark, a.Description)
		if a.ErrorDetail != "" {
			fmt.Fprintf(&b, " (%s)", a.ErrorDetail)
		}
		b.WriteString("\n")
	}
	return b.String()
}
