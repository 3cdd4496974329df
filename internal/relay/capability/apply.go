package capability

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
)

// PlannedFix is one concrete mutation a planner proposes: which tool to
// call, with which parameters, against which resource.
type PlannedFix struct {
	Description string
	Resource    string
	Tool        discovery.Tool
	Parameters  map[string]any
}

// Planner turns a request plus the available tools into zero or more
// planned fixes. Returning an empty slice means nothing needs changing.
type Planner interface {
	Plan(ctx context.Context, req *Request, tools []discovery.Tool) ([]PlannedFix, error)
}

// actionRecorder is the slice of the ledger applyFix needs.
type actionRecorder interface {
	Record(*fix.Action) error
}

// applyFix executes one planned mutation end to end and records the outcome
// in the ledger. It always produces exactly one fix action, whatever
// happens: parameter validation failures, invocation errors and timeouts
// all become recorded applied_failed actions rather than returned errors.
// A Record failure is a ledger contract violation and is the only error
// applyFix returns.
func applyFix(ctx context.Context, log *slog.Logger, reader StateReader, invoker discovery.Invoker, ledger actionRecorder, planned PlannedFix) (*fix.Action, error) {
	before := readStateOrEmpty(ctx, log, reader, planned.Resource)
	command := renderCommand(planned.Tool.Name, planned.Parameters)

	var callErr error
	if err := discovery.ValidateParams(planned.Tool, planned.Parameters); err != nil {
		callErr = err
	} else if _, err := invoker.Invoke(ctx, planned.Tool.Name, planned.Parameters); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			// The call may or may not have landed; without a confirmed
			// outcome the action is recorded as failed.
			callErr = fmt.Errorf("call outcome unknown: %w", err)
		} else {
			callErr = err
		}
	}

	after := before.Clone()
	if callErr == nil {
		after = readStateOrEmpty(ctx, log, reader, planned.Resource)
	}

	action := fix.NewAction(planned.Description, planned.Resource, command, before, after, callErr)
	if err := ledger.Record(action); err != nil {
		log.Error("failed to record fix action", "action_id", action.ID, "error", err)
		return nil, fmt.Errorf("recording fix action %s: %w", action.ID, err)
	}
	log.Info("fix applied",
		"action_id", action.ID,
		"resource", planned.Resource,
		"status", action.Status,
	)
	return action, nil
}

func readStateOrEmpty(ctx context.Context, log *slog.Logger, reader StateReader, resource string) fix.State {
	if reader == nil {
		return fix.State{}
	}
	state, err := reader.ReadState(ctx, resource)
	if err != nil {
		log.Warn("state read failed", "resource", resource, "error", err)
		return fix.State{}
	}
	return state
}

// renderCommand serialises the exact call for the ledger. Parameters are
// marshalled with sorted keys so the recorded command is stable.
func renderCommand(tool string, params map[string]any) string {
	raw, err := json.Marshal(params)
	if err != nil {
		return tool
	}
	return fmt.Sprintf("%s %s", tool, raw)
}
