// Package orchestrator runs the turn loop: classify the request, resolve
// references to earlier fixes, discover tools, route to a capability
// handler and fold the outcome back into the session's history and ledger.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/opsrelay/opsrelay/common/trace"
	"github.com/opsrelay/opsrelay/internal/relay/capability"
	"github.com/opsrelay/opsrelay/internal/relay/conversation"
	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

// Recorder persists turns, fix actions and audit events. Persistence is
// write-through: the in-memory session stays authoritative and recorder
// failures never fail a turn.
type Recorder interface {
	RecordTurn(ctx context.Context, sessionID string, turn conversation.Turn) error
	RecordActions(ctx context.Context, sessionID string, actions []*fix.Action) error
	RecordAudit(ctx context.Context, sessionID, event, detail string) error
}

// AgentResponse is the orchestrator's reply for one turn.
type AgentResponse struct {
	SessionID     string                   `json:"session_id"`
	Text          string                   `json:"text"`
	Intent        *intent.Classification   `json:"intent,omitempty"`
	FixResult     *fix.Result              `json:"fix_result,omitempty"`
	Tools         capability.ToolsInfo     `json:"tools"`
	Clarification bool                     `json:"clarification,omitempty"`
}

// Engine wires the classifier, gateway and handlers into the turn loop.
type Engine struct {
	Log      *slog.Logger
	Resolver *intent.Resolver
	Searcher discovery.Searcher
	Router   *capability.Router
	Reader   capability.StateReader
	Sessions *Sessions
	Recorder Recorder // optional

	// TurnTimeout bounds one turn end to end, zero means no limit.
	TurnTimeout time.Duration
}

// HandleTurn processes one user request in a session. Both the user turn
// and the agent turn are appended to history whatever happens; handler
// failures produce a partial response rather than an error.
func (e *Engine) HandleTurn(ctx context.Context, sessionID, text string) (*AgentResponse, error) {
	session := e.Sessions.Get(sessionID)
	session.mu.Lock()
	defer session.mu.Unlock()

	traceID := trace.GenerateID()
	ctx = trace.WithTraceID(ctx, traceID)
	e.Log.Info("turn started", "session_id", sessionID, "trace_id", traceID)

	if e.TurnTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.TurnTimeout)
		defer cancel()
	}

	// A pending clarification folds the answer into the question's original
	// request. Stale clarifications are dropped and the answer stands alone.
	effective := text
	if session.pending != nil {
		if !session.pending.expired(time.Now()) {
			effective = session.pending.original + " " + text
		}
		session.pending = nil
	}

	// Context and references resolve against the history as it stood before
	// this turn.
	contextTurns := session.History.Context(conversation.DefaultWindow)
	ref := session.History.Resolve(effective)

	session.History.Append(conversation.Turn{Role: conversation.RoleUser, Content: text})

	class := e.Resolver.Resolve(ctx, effective, toContextTurns(contextTurns))
	if class.NeedsClarification {
		session.pending = &clarification{
			question: class.Question,
			original: effective,
			askedAt:  time.Now(),
		}
		resp := &AgentResponse{
			SessionID:     sessionID,
			Text:          class.Question,
			Intent:        class,
			Clarification: true,
		}
		e.finishTurn(ctx, session, resp, nil)
		return resp, nil
	}

	referenced := e.referencedActions(session, ref)
	// An affirmation after fixes were applied means "go ahead and check
	// them", whatever the classifier made of the bare "yes".
	if ref.Kind == conversation.RefAffirmation && len(session.Ledger.Pending()) > 0 {
		class.Label = intent.LabelVerification
	}

	resp, err := e.runSteps(ctx, session, class, effective, contextTurns, referenced)
	if err != nil {
		// Ledger contract violations indicate a core invariant breach; they
		// are never converted into a reply.
		return nil, err
	}
	e.finishTurn(ctx, session, resp, resp.FixResult)
	return resp, nil
}

// runSteps executes the classification's steps in order, or the single
// implicit step for a simple request. Step results feed forward so later
// steps can act on earlier fixes. Handler failures become partial
// responses; only ledger contract violations surface as errors.
func (e *Engine) runSteps(ctx context.Context, session *Session, class *intent.Classification, text string, contextTurns []conversation.Turn, referenced []*fix.Action) (*AgentResponse, error) {
	steps := class.Steps
	if len(steps) == 0 {
		steps = []intent.Step{{Label: class.Label, Request: text}}
	}

	resp := &AgentResponse{SessionID: session.ID, Intent: class}
	var (
		texts   []string
		actions []*fix.Action
		suggest []string
		prior   *fix.Result
	)

	for i, step := range steps {
		// An empty step request means the step applies to the turn as a
		// whole.
		if step.Request == "" {
			step.Request = text
		}
		stepClass := *class
		stepClass.Label = step.Label
		stepClass.Steps = nil

		query := capability.SearchQuery(&stepClass, step.Request)
		tools, err := e.Searcher.Search(ctx, query)
		if err != nil {
			// Degrade to the no-tools path rather than fail the turn.
			e.Log.Warn("tool discovery failed", "session_id", session.ID, "query", query, "error", err)
			tools = nil
		}

		handler := e.Router.Route(stepClass.Label, tools)
		e.Log.Info("routing step",
			"session_id", session.ID,
			"step", i+1,
			"intent", stepClass.Label,
			"handler", handler.Name(),
			"tools", len(tools),
		)

		recorded := session.Ledger.Len()
		out, err := handler.Handle(ctx, &capability.Request{
			SessionID:  session.ID,
			Text:       step.Request,
			Context:    contextTurns,
			Intent:     &stepClass,
			Query:      query,
			Tools:      tools,
			Referenced: referenced,
			Ledger:     session.Ledger,
			Prior:      prior,
		})
		if err != nil {
			if isLedgerContractError(err) {
				return nil, fmt.Errorf("handler %s: %w", handler.Name(), err)
			}
			e.Log.Error("handler failed", "session_id", session.ID, "handler", handler.Name(), "error", err)
			// Anything the handler recorded before failing still counts.
			actions = append(actions, session.Ledger.All()[recorded:]...)
			texts = append(texts, fmt.Sprintf("I ran into a problem while working on %q: %v", step.Request, err))
			break
		}

		texts = append(texts, strings.TrimRight(out.Text, "\n"))
		actions = append(actions, out.Actions...)
		suggest = append(suggest, out.Suggestions...)
		resp.Tools = out.Tools
		prior = fix.Aggregate(out.Actions, out.Suggestions...)
	}

	resp.Text = strings.Join(texts, "\n\n")
	if len(actions) > 0 {
		resp.FixResult = fix.Aggregate(actions, suggest...)
	}
	return resp, nil
}

// isLedgerContractError reports whether err is a fix ledger programming
// contract violation. These indicate a caller bug and must reach the
// caller, not become a conversational reply.
func isLedgerContractError(err error) bool {
	return errors.Is(err, fix.ErrDuplicateAction) ||
		errors.Is(err, fix.ErrNotFound) ||
		errors.Is(err, fix.ErrInvalidTransition)
}

// finishTurn appends the agent turn and write-through persists the turn's
// outcome. Errors here are logged, never surfaced.
func (e *Engine) finishTurn(ctx context.Context, session *Session, resp *AgentResponse, result *fix.Result) {
	var refs []string
	if result != nil {
		refs = result.IDs()
	}
	label := ""
	if resp.Intent != nil {
		label = string(resp.Intent.Label)
	}
	agentTurn := session.History.Append(conversation.Turn{
		Role:    conversation.RoleAgent,
		Content: resp.Text,
		Intent:  label,
		FixRefs: refs,
	})

	if e.Recorder == nil {
		return
	}
	turns := session.History.Context(2)
	for _, turn := range turns {
		if turn.Sequence < agentTurn.Sequence-1 {
			continue
		}
		if err := e.Recorder.RecordTurn(ctx, session.ID, turn); err != nil {
			e.Log.Warn("persisting turn failed", "session_id", session.ID, "error", err)
		}
	}
	if result != nil && len(result.Actions) > 0 {
		if err := e.Recorder.RecordActions(ctx, session.ID, result.Actions); err != nil {
			e.Log.Warn("persisting fix actions failed", "session_id", session.ID, "error", err)
		}
	}
	if err := e.Recorder.RecordAudit(ctx, session.ID, "turn", resp.Text); err != nil {
		e.Log.Warn("persisting audit event failed", "session_id", session.ID, "error", err)
	}
}

// referencedActions materialises a resolved fix reference into ledger
// entries, dropping IDs the ledger no longer knows.
func (e *Engine) referencedActions(session *Session, ref conversation.Reference) []*fix.Action {
	if ref.Kind != conversation.RefFix {
		return nil
	}
	var actions []*fix.Action
	for _, id := range ref.FixRefs {
		action, err := session.Ledger.Get(id)
		if err != nil {
			e.Log.Warn("referenced fix missing from ledger", "session_id", session.ID, "action_id", id)
			continue
		}
		actions = append(actions, action)
	}
	return actions
}

// Validate runs the validation workflow over the given fix IDs, or over
// every fix awaiting validation when ids is empty or ["all_pending"].
func (e *Engine) Validate(ctx context.Context, sessionID string, ids []string) (*fix.Result, error) {
	session, ok := e.Sessions.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	session.mu.Lock()
	defer session.mu.Unlock()

	if len(ids) == 0 || (len(ids) == 1 && ids[0] == "all_pending") {
		ids = session.Ledger.Pending()
	}
	result := capability.RunValidation(ctx, e.Log, e.Reader, session.Ledger, ids)

	if e.Recorder != nil && len(result.Actions) > 0 {
		if err := e.Recorder.RecordActions(ctx, sessionID, result.Actions); err != nil {
			e.Log.Warn("persisting validation outcome failed", "session_id", sessionID, "error", err)
		}
		if err := e.Recorder.RecordAudit(ctx, sessionID, "validation", result.Summary()); err != nil {
			e.Log.Warn("persisting audit event failed", "session_id", sessionID, "error", err)
		}
	}
	return result, nil
}

// EndSession tears down a session's in-memory state. Persisted turns and
// fix actions stay in the store. Ending an unknown session is an error.
func (e *Engine) EndSession(ctx context.Context, sessionID string) error {
	if !e.Sessions.Remove(sessionID) {
		return fmt.Errorf("unknown session %q", sessionID)
	}
	e.Log.Info("session ended", "session_id", sessionID)
	if e.Recorder != nil {
		if err := e.Recorder.RecordAudit(ctx, sessionID, "session_end", ""); err != nil {
			e.Log.Warn("persisting audit event failed", "session_id", sessionID, "error", err)
		}
	}
	return nil
}

// Fixes returns the session's cumulative fix history in application order.
func (e *Engine) Fixes(sessionID string) ([]*fix.Action, error) {
	session, ok := e.Sessions.Lookup(sessionID)
	if !ok {
		return nil, fmt.Errorf("unknown session %q", sessionID)
	}
	return session.Ledger.All(), nil
}

func toContextTurns(turns []conversation.Turn) []intent.ContextTurn {
	out := make([]intent.ContextTurn, 0, len(turns))
	for _, t := range turns {
		out = append(out, intent.ContextTurn{Role: string(t.Role), Content: t.Content})
	}
	return out
}
