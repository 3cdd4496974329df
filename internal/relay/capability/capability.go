// Package capability defines the closed set of specialised request handlers
// (troubleshooting, execution, validation, documentation) and the pure
// router that selects among them.
//
// Handlers are the only components that perform mutations, and every
// mutation follows the same discipline: capture the before snapshot, issue
// the call, capture the after snapshot, record a fix action. Handlers that
// only read or explain produce no fix actions.
package capability

import (
	"context"
	"errors"

	"github.com/opsrelay/opsrelay/internal/relay/conversation"
	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

// ErrResourceNotFound is returned by a StateReader when the resource does
// not exist.
var ErrResourceNotFound = errors.New("capability: resource not found")

// StateReader reads the current attribute snapshot of a resource. It backs
// both before/after capture and validation re-checks.
type StateReader interface {
	ReadState(ctx context.Context, resource string) (fix.State, error)
}

// Request is the unit of work handed to a handler for one turn (or one step
// of a compound turn).
type Request struct {
	// SessionID identifies the conversation.
	SessionID string
	// Text is the user's request for this step.
	Text string
	// Context is the bounded window of recent turns.
	Context []conversation.Turn
	// Intent is the classification that selected this handler.
	Intent *intent.Classification
	// Query is the discovery search query that produced Tools.
	Query string
	// Tools is the discovery result for this turn, already ranked.
	Tools []discovery.Tool
	// Referenced are previously recorded fix actions the user pointed at.
	Referenced []*fix.Action
	// Ledger is the session's fix ledger; handlers record every attempted
	// mutation here.
	Ledger *fix.Ledger
	// Prior is the fix result of the preceding step in a compound turn,
	// nil otherwise.
	Prior *fix.Result
}

// ToolsInfo is the discovery metadata echoed in responses for observability.
type ToolsInfo struct {
	SearchQuery string   `json:"search_query,omitempty"`
	ToolNames   []string `json:"tool_names,omitempty"`
	Count       int      `json:"count"`
}

// Response is a handler's outcome for one request.
type Response struct {
	// Text is the natural-language reply.
	Text string
	// Actions are the fix actions recorded during this invocation, in
	// application order.
	Actions []*fix.Action
	// Suggestions are advisory follow-ups for the user.
	Suggestions []string
	// Tools describes the discovery result that was used.
	Tools ToolsInfo
}

// Handler is one specialised capability. Implementations must not retain
// the request after returning.
type Handler interface {
	Name() string
	Handle(ctx context.Context, req *Request) (*Response, error)
}

func toolsInfo(query string, tools []discovery.Tool) ToolsInfo {
	info := ToolsInfo{SearchQuery: query, Count: len(tools)}
	for _, t := range tools {
		info.ToolNames = append(info.ToolNames, t.Name)
	}
	return info
}
