package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"testing"

	"github.com/opsrelay/opsrelay/internal/relay/capability"
	"github.com/opsrelay/opsrelay/internal/relay/conversation"
	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type providerFunc func(ctx context.Context, text string, contextTurns []intent.ContextTurn) (*intent.Classification, error)

func (f providerFunc) Classify(ctx context.Context, text string, contextTurns []intent.ContextTurn) (*intent.Classification, error) {
	return f(ctx, text, contextTurns)
}

// scriptedProvider returns canned classifications in order.
func scriptedProvider(t *testing.T, script ...*intent.Classification) intent.Provider {
	i := 0
	return providerFunc(func(_ context.Context, text string, _ []intent.ContextTurn) (*intent.Classification, error) {
		if i >= len(script) {
			t.Fatalf("unexpected classification call %d for %q", i+1, text)
		}
		c := script[i]
		i++
		return c, nil
	})
}

type fakeEnv struct {
	states    map[string]fix.State
	searchErr error
	tools     []discovery.Tool
	queries   []string
}

func newFakeEnv() *fakeEnv {
	return &fakeEnv{
		states: make(map[string]fix.State),
		tools: []discovery.Tool{{
			Name:        "lambda___UpdateFunctionConfiguration",
			Description: "Update the configuration of a Lambda function",
		}},
	}
}

func (e *fakeEnv) Search(_ context.Context, query string) ([]discovery.Tool, error) {
	e.queries = append(e.queries, query)
	if e.searchErr != nil {
		return nil, e.searchErr
	}
	return e.tools, nil
}

func (e *fakeEnv) ReadState(_ context.Context, resource string) (fix.State, error) {
	s, ok := e.states[resource]
	if !ok {
		return nil, fmt.Errorf("%w: %s", capability.ErrResourceNotFound, resource)
	}
	return s.Clone(), nil
}

func (e *fakeEnv) Invoke(_ context.Context, tool string, params map[string]any) (*discovery.InvokeResult, error) {
	if strings.HasSuffix(tool, "UpdateFunctionConfiguration") {
		name, _ := params["FunctionName"].(string)
		state, ok := e.states["lambda:"+name]
		if !ok {
			return nil, &discovery.OperationError{Tool: tool, Detail: "function not found"}
		}
		if v, ok := params["MemorySize"].(int); ok {
			state["MemorySize"] = strconv.Itoa(v)
		}
		if v, ok := params["Timeout"].(int); ok {
			state["Timeout"] = strconv.Itoa(v)
		}
	}
	return &discovery.InvokeResult{}, nil
}

func newEngine(env *fakeEnv, provider intent.Provider) *Engine {
	log := testLogger()
	return &Engine{
		Log:      log,
		Resolver: intent.NewResolver(provider),
		Searcher: env,
		Router: capability.NewRouter(
			&capability.Troubleshooting{Log: log, Reader: env, Invoker: env, Planner: &capability.RulePlanner{Reader: env}},
			&capability.Execution{Log: log, Reader: env, Invoker: env},
			&capability.Validation{Log: log, Reader: env},
			&capability.Documentation{},
		),
		Reader:   env,
		Sessions: NewSessions(),
	}
}

func troubleshooting() *intent.Classification {
	return &intent.Classification{Label: intent.LabelTroubleshooting, Service: "lambda", Confidence: 0.95}
}

func verification() *intent.Classification {
	return &intent.Classification{Label: intent.LabelVerification, Service: "lambda", Confidence: 0.9}
}

func TestTroubleshootThenValidateConversation(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	e := newEngine(env, scriptedProvider(t, troubleshooting(), verification()))
	ctx := context.Background()

	resp, err := e.HandleTurn(ctx, "s1", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult == nil || resp.FixResult.Total != 2 {
		t.Fatalf("turn 1 fix result = %+v, want 2 fixes", resp.FixResult)
	}
	if resp.FixResult.Succeeded != 2 || !resp.FixResult.RequiresValidation {
		t.Fatalf("turn 1: succeeded=%d requiresValidation=%v", resp.FixResult.Succeeded, resp.FixResult.RequiresValidation)
	}

	resp2, err := e.HandleTurn(ctx, "s1", "validate those fixes")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp2.FixResult == nil || resp2.FixResult.Total != 2 {
		t.Fatalf("turn 2 fix result = %+v, want both fixes validated", resp2.FixResult)
	}
	if resp2.FixResult.Succeeded != 2 || resp2.FixResult.RequiresValidation {
		t.Fatalf("turn 2: succeeded=%d requiresValidation=%v", resp2.FixResult.Succeeded, resp2.FixResult.RequiresValidation)
	}

	actions, err := e.Fixes("s1")
	if err != nil {
		t.Fatalf("Fixes: %v", err)
	}
	if len(actions) != 2 {
		t.Fatalf("fix history has %d actions, want 2", len(actions))
	}
	for _, a := range actions {
		if a.Status != fix.StatusValidatedSuccess {
			t.Errorf("action %s status = %s, want %s", a.ID, a.Status, fix.StatusValidatedSuccess)
		}
	}
}

func TestEmptyDiscoveryRoutesToDocumentation(t *testing.T) {
	env := newFakeEnv()
	env.tools = nil
	e := newEngine(env, scriptedProvider(t, troubleshooting()))

	resp, err := e.HandleTurn(context.Background(), "s1", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult != nil {
		t.Fatalf("documentation fallback produced a fix result: %+v", resp.FixResult)
	}
	if !strings.Contains(resp.Text, "explain") {
		t.Errorf("fallback reply = %q, want an explanation of missing tools", resp.Text)
	}
	if resp.Tools.Count != 0 {
		t.Errorf("tools count = %d, want 0", resp.Tools.Count)
	}
}

func TestSearchErrorDegradesToDocumentation(t *testing.T) {
	env := newFakeEnv()
	env.searchErr = errors.New("gateway unreachable")
	e := newEngine(env, scriptedProvider(t, troubleshooting()))

	resp, err := e.HandleTurn(context.Background(), "s1", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("HandleTurn should degrade, got error: %v", err)
	}
	if resp.FixResult != nil {
		t.Fatalf("degraded turn produced a fix result")
	}
}

func TestClarificationRoundTrip(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	asker := &intent.Classification{
		Label:              intent.LabelTroubleshooting,
		Confidence:         0.3,
		NeedsClarification: true,
		Question:           "Which function do you mean?",
	}
	e := newEngine(env, scriptedProvider(t, asker, troubleshooting()))
	ctx := context.Background()

	resp, err := e.HandleTurn(ctx, "s1", "something is broken")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if !resp.Clarification {
		t.Fatal("low-confidence turn should ask for clarification")
	}
	if resp.Text != "Which function do you mean?" {
		t.Errorf("clarification text = %q", resp.Text)
	}
	if resp.FixResult != nil {
		t.Error("clarification turn must not carry fixes")
	}

	// The answer is folded into the original request, so the resource can
	// now be extracted and remediated.
	resp2, err := e.HandleTurn(ctx, "s1", "function payment-api")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp2.Clarification {
		t.Fatal("answered clarification should not ask again")
	}
	if resp2.FixResult == nil || resp2.FixResult.Total != 2 {
		t.Fatalf("after clarification fix result = %+v, want 2 fixes", resp2.FixResult)
	}
}

func TestAffirmationTriggersValidation(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	// The bare "yes" classifies as documentation; the affirmation override
	// must still validate the pending fixes.
	e := newEngine(env, scriptedProvider(t, troubleshooting(),
		&intent.Classification{Label: intent.LabelDocumentation, Confidence: 0.9}))
	ctx := context.Background()

	if _, err := e.HandleTurn(ctx, "s1", "my function payment-api keeps timing out"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	resp, err := e.HandleTurn(ctx, "s1", "yes")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult == nil || resp.FixResult.Total != 2 {
		t.Fatalf("affirmation fix result = %+v, want both fixes validated", resp.FixResult)
	}
}

func TestCompoundRequestRunsStepsInOrder(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	compound := &intent.Classification{
		Label:      intent.LabelTroubleshooting,
		Service:    "lambda",
		Confidence: 0.9,
		Steps: []intent.Step{
			{Label: intent.LabelTroubleshooting, Request: "fix function payment-api timeouts"},
			{Label: intent.LabelVerification, Request: "validate those fixes"},
		},
	}
	e := newEngine(env, scriptedProvider(t, compound))

	resp, err := e.HandleTurn(context.Background(), "s1", "fix the timeouts on payment-api and then validate")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult == nil {
		t.Fatal("compound turn produced no fix result")
	}
	// Two applications plus two validations examined in the same turn.
	if resp.FixResult.Total != 4 {
		t.Fatalf("fix result total = %d, want 4", resp.FixResult.Total)
	}

	actions, _ := e.Fixes("s1")
	for _, a := range actions {
		if a.Status != fix.StatusValidatedSuccess {
			t.Errorf("action %s status = %s, want validated in the same turn", a.ID, a.Status)
		}
	}
}

func TestCompoundStepEmptyRequestFallsBackToTurnText(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	compound := &intent.Classification{
		Label:      intent.LabelTroubleshooting,
		Service:    "lambda",
		Confidence: 0.9,
		Steps:      []intent.Step{{Label: intent.LabelTroubleshooting}},
	}
	e := newEngine(env, scriptedProvider(t, compound))

	resp, err := e.HandleTurn(context.Background(), "s1", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	// The step carried no request of its own, so it must run against the
	// turn text and still find the resource.
	if resp.FixResult == nil || resp.FixResult.Total != 2 {
		t.Fatalf("fix result = %+v, want 2 fixes from the turn text", resp.FixResult)
	}
}

func TestContinuationDoesNotTriggerValidation(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	docs := &intent.Classification{Label: intent.LabelDocumentation, Confidence: 0.9}
	e := newEngine(env, scriptedProvider(t, troubleshooting(), docs))
	ctx := context.Background()

	if _, err := e.HandleTurn(ctx, "s1", "my function payment-api keeps timing out"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	// "continue" asks for more of the previous answer; unlike a bare
	// "yes" it must not be rerouted into validating the pending fixes.
	resp, err := e.HandleTurn(ctx, "s1", "continue")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult != nil {
		t.Fatalf("continuation produced a fix result: %+v", resp.FixResult)
	}
	session := e.Sessions.Get("s1")
	if got := len(session.Ledger.Pending()); got != 2 {
		t.Fatalf("%d fixes still pending, want 2 untouched", got)
	}
}

// erroringHandler fails every request with a fixed error.
type erroringHandler struct{ err error }

func (h *erroringHandler) Name() string { return "erroring" }
func (h *erroringHandler) Handle(context.Context, *capability.Request) (*capability.Response, error) {
	return nil, h.err
}

func TestLedgerViolationPropagates(t *testing.T) {
	env := newFakeEnv()
	bad := &erroringHandler{err: fmt.Errorf("recording fix action deadbeef: %w", fix.ErrDuplicateAction)}
	e := newEngine(env, scriptedProvider(t, troubleshooting()))
	e.Router = capability.NewRouter(bad, bad, bad, bad)

	_, err := e.HandleTurn(context.Background(), "s1", "my function payment-api keeps timing out")
	if !errors.Is(err, fix.ErrDuplicateAction) {
		t.Fatalf("HandleTurn error = %v, want the ledger violation to surface", err)
	}
}

func TestEndSessionTearsDownState(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	e := newEngine(env, scriptedProvider(t, troubleshooting()))
	ctx := context.Background()

	if _, err := e.HandleTurn(ctx, "s1", "my function payment-api keeps timing out"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if err := e.EndSession(ctx, "s1"); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if _, err := e.Fixes("s1"); err == nil {
		t.Fatal("ended session still resolvable")
	}
	if err := e.EndSession(ctx, "s1"); err == nil {
		t.Fatal("ending an unknown session should fail")
	}
}

func TestTurnsAppendedEvenOnHandlerFailure(t *testing.T) {
	env := newFakeEnv()
	// No state for the resource: the troubleshooting planner fails to read
	// it and the handler errors out.
	e := newEngine(env, scriptedProvider(t, troubleshooting()))

	resp, err := e.HandleTurn(context.Background(), "s1", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("handler failure must not fail the turn: %v", err)
	}
	if !strings.Contains(resp.Text, "problem") {
		t.Errorf("partial response = %q, want a problem report", resp.Text)
	}

	session := e.Sessions.Get("s1")
	if got := session.History.Len(); got != 2 {
		t.Fatalf("history has %d turns, want user and agent turns despite the failure", got)
	}
}

func TestValidateAllPending(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	e := newEngine(env, scriptedProvider(t, troubleshooting()))
	ctx := context.Background()

	if _, err := e.HandleTurn(ctx, "s1", "my function payment-api keeps timing out"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}

	result, err := e.Validate(ctx, "s1", []string{"all_pending"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if result.Total != 2 || result.Succeeded != 2 {
		t.Fatalf("validate result = %+v, want 2 passed", result)
	}

	// Idempotent: everything is terminal now.
	again, err := e.Validate(ctx, "s1", []string{"all_pending"})
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if again.Total != 0 {
		t.Fatalf("second validation examined %d actions, want 0", again.Total)
	}
}

func TestValidateUnknownSession(t *testing.T) {
	e := newEngine(newFakeEnv(), scriptedProvider(t))
	if _, err := e.Validate(context.Background(), "nope", nil); err == nil {
		t.Fatal("Validate on unknown session should fail")
	}
	if _, err := e.Fixes("nope"); err == nil {
		t.Fatal("Fixes on unknown session should fail")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	env := newFakeEnv()
	env.states["lambda:payment-api"] = fix.State{"MemorySize": "128", "Timeout": "3"}
	e := newEngine(env, scriptedProvider(t, troubleshooting(), troubleshooting()))
	ctx := context.Background()

	if _, err := e.HandleTurn(ctx, "a", "my function payment-api keeps timing out"); err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	// Session b sees the already-remediated state, so nothing to fix.
	resp, err := e.HandleTurn(ctx, "b", "my function payment-api keeps timing out")
	if err != nil {
		t.Fatalf("HandleTurn: %v", err)
	}
	if resp.FixResult != nil {
		t.Fatalf("session b inherited fixes: %+v", resp.FixResult)
	}

	aFixes, _ := e.Fixes("a")
	bFixes, _ := e.Fixes("b")
	if len(aFixes) != 2 || len(bFixes) != 0 {
		t.Fatalf("ledgers not isolated: a=%d b=%d", len(aFixes), len(bFixes))
	}
}

func TestContextWindowPassedToClassifier(t *testing.T) {
	env := newFakeEnv()
	var seen [][]intent.ContextTurn
	provider := providerFunc(func(_ context.Context, _ string, turns []intent.ContextTurn) (*intent.Classification, error) {
		seen = append(seen, turns)
		return &intent.Classification{Label: intent.LabelDocumentation, Confidence: 0.9}, nil
	})
	e := newEngine(env, provider)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if _, err := e.HandleTurn(ctx, "s1", fmt.Sprintf("question %d", i)); err != nil {
			t.Fatalf("HandleTurn: %v", err)
		}
	}
	if len(seen) != 4 {
		t.Fatalf("classifier called %d times, want 4", len(seen))
	}
	if len(seen[0]) != 0 {
		t.Errorf("first turn had %d context turns, want 0", len(seen[0]))
	}
	// Each turn adds a user and an agent entry; the window stays bounded.
	if len(seen[3]) != conversation.DefaultWindow {
		t.Errorf("fourth turn had %d context turns, want %d", len(seen[3]), conversation.DefaultWindow)
	}
}
