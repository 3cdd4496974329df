// Package discovery talks to the tool gateway: a JSON-RPC endpoint exposing
// semantic tool search and tool invocation behind bearer-token auth.
//
// The gateway owns relevance ranking and the actual cloud mutations; this
// package only carries the wire contract, refreshes expired tokens, and
// validates operation parameters against each tool's declared input schema
// before anything is sent.
package discovery

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool is one invocable operation returned by a search.
type Tool struct {
	// Name is the gateway tool identifier, e.g. "lambda___UpdateFunctionConfiguration".
	Name string `json:"name"`
	// Description is the human-readable summary used for ranking display.
	Description string `json:"description"`
	// InputSchema is the JSON Schema for the tool's parameters.
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// InvokeResult is the outcome of a successful tool invocation.
type InvokeResult struct {
	// Result is the gateway's interpreted result payload.
	Result json.RawMessage
	// Raw is the full JSON-RPC response body, kept verbatim for the audit trail.
	Raw json.RawMessage
}

// OperationError reports a failed mutating call. It is a normal runtime
// condition: callers record it on the fix action and surface it to the user,
// never swallow it.
type OperationError struct {
	Tool   string
	Detail string
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("operation %s failed: %s", e.Tool, e.Detail)
}

// Searcher resolves a natural-language need to a ranked tool list. An empty
// result is the tool-starvation fallback signal, not an error.
type Searcher interface {
	Search(ctx context.Context, query string) ([]Tool, error)
}

// Invoker executes a named tool. Mutating calls go through this interface
// only.
type Invoker interface {
	Invoke(ctx context.Context, tool string, params map[string]any) (*InvokeResult, error)
}

// ValidateParams checks params against the tool's input schema. Tools
// without a schema accept anything. A violation is returned as an
// OperationError so the caller records it like any other failed call —
// without ever reaching the gateway.
func ValidateParams(tool Tool, params map[string]any) error {
	if len(tool.InputSchema) == 0 {
		return nil
	}

	schema, err := jsonschema.CompileString(tool.Name+".schema.json", string(tool.InputSchema))
	if err != nil {
		return &OperationError{Tool: tool.Name, Detail: fmt.Sprintf("unusable input schema: %v", err)}
	}

	// jsonschema validates any-typed values decoded from JSON; round-trip
	// the params so numeric types normalise the same way.
	raw, err := json.Marshal(params)
	if err != nil {
		return &OperationError{Tool: tool.Name, Detail: fmt.Sprintf("parameters not serialisable: %v", err)}
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return &OperationError{Tool: tool.Name, Detail: fmt.Sprintf("parameters not serialisable: %v", err)}
	}

	if err := schema.Validate(doc); err != nil {
		return &OperationError{Tool: tool.Name, Detail: fmt.Sprintf("parameters rejected by schema: %v", err)}
	}
	return nil
}
