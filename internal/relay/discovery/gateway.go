package discovery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opsrelay/opsrelay/common/retry"
)

// searchToolName is the gateway's built-in semantic search tool.
const searchToolName = "x_amz_bedrock_agentcore_search"

const defaultGatewayTimeout = 60 * time.Second

// TokenSource supplies bearer tokens for the gateway. Refresh is called at
// most once per failed request, when the gateway answers 401.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (string, error)
}

// StaticToken is a TokenSource with a fixed token and no refresh capability.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error)   { return string(t), nil }
func (t StaticToken) Refresh(context.Context) (string, error) { return string(t), nil }

// Gateway is the HTTP JSON-RPC client for the tool gateway. It implements
// Searcher and Invoker and is safe for concurrent use.
type Gateway struct {
	url    string
	tokens TokenSource
	client *http.Client
	nextID atomic.Int64

	mu    sync.Mutex
	token string
}

// NewGateway returns a Gateway client for the given endpoint.
func NewGateway(url string, tokens TokenSource) *Gateway {
	return &Gateway{
		url:    url,
		tokens: tokens,
		client: &http.Client{Timeout: defaultGatewayTimeout},
	}
}

// --- JSON-RPC wire types ---

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int64     `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Result *rpcResult `json:"result,omitempty"`
	Error  *rpcError  `json:"error,omitempty"`
}

type rpcResult struct {
	Content []rpcContent    `json:"content,omitempty"`
	IsError bool            `json:"isError,omitempty"`
	Raw     json.RawMessage `json:"-"`
}

type rpcContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// searchRetry backs off transport-level search failures. Invoke is never
// retried here: a mutation whose outcome is unknown must surface as a failed
// action, and a retry is a new action.
var searchRetry = retry.Config{
	MaxAttempts:  3,
	InitialDelay: 250 * time.Millisecond,
	MaxDelay:     2 * time.Second,
	ShouldRetry: func(err error) bool {
		var opErr *OperationError
		return !errors.As(err, &opErr)
	},
}

// Search asks the gateway's semantic search tool for operations relevant to
// query. An empty slice (no error) means tool starvation — the caller's
// documentation fallback applies.
func (g *Gateway) Search(ctx context.Context, query string) ([]Tool, error) {
	var result *rpcResult
	err := retry.Do(ctx, searchRetry, func() error {
		var callErr error
		result, _, callErr = g.call(ctx, searchToolName, map[string]any{"query": query})
		return callErr
	})
	if err != nil {
		return nil, fmt.Errorf("tool search: %w", err)
	}
	if len(result.Content) == 0 {
		return nil, nil
	}

	// The search tool returns its ranked list as a JSON document in the
	// first text content block.
	var payload struct {
		Tools []Tool `json:"tools"`
	}
	if err := json.Unmarshal([]byte(result.Content[0].Text), &payload); err != nil {
		return nil, fmt.Errorf("tool search: decode result: %w", err)
	}
	return payload.Tools, nil
}

// Invoke executes a named tool. Gateway-reported failures come back as
// *OperationError; transport failures are plain wrapped errors.
func (g *Gateway) Invoke(ctx context.Context, tool string, params map[string]any) (*InvokeResult, error) {
	result, raw, err := g.call(ctx, tool, params)
	if err != nil {
		return nil, err
	}
	if result.IsError {
		detail := "gateway reported failure"
		if len(result.Content) > 0 {
			detail = result.Content[0].Text
		}
		return nil, &OperationError{Tool: tool, Detail: detail}
	}

	var resultJSON json.RawMessage
	if len(result.Content) > 0 {
		resultJSON = json.RawMessage(result.Content[0].Text)
		if !json.Valid(resultJSON) {
			// Plain-text result: wrap it so Result is always valid JSON.
			quoted, _ := json.Marshal(result.Content[0].Text)
			resultJSON = quoted
		}
	}
	return &InvokeResult{Result: resultJSON, Raw: raw}, nil
}

// call performs one tools/call round trip, refreshing the bearer token once
// on 401.
func (g *Gateway) call(ctx context.Context, tool string, args map[string]any) (*rpcResult, json.RawMessage, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      g.nextID.Add(1),
		Method:  "tools/call",
		Params:  rpcParams{Name: tool, Arguments: args},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("marshal rpc request: %w", err)
	}

	status, raw, err := g.post(ctx, body)
	if err != nil {
		return nil, nil, err
	}

	if status == http.StatusUnauthorized {
		slog.Info("gateway: token rejected, refreshing", "tool", tool)
		token, rerr := g.tokens.Refresh(ctx)
		if rerr != nil {
			return nil, nil, fmt.Errorf("gateway auth refresh: %w", rerr)
		}
		g.setToken(token)
		status, raw, err = g.post(ctx, body)
		if err != nil {
			return nil, nil, err
		}
	}

	if status != http.StatusOK {
		return nil, nil, fmt.Errorf("gateway: unexpected status %d", status)
	}

	var resp rpcResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, nil, fmt.Errorf("gateway: decode response: %w", err)
	}
	if resp.Error != nil {
		return nil, nil, &OperationError{Tool: tool, Detail: fmt.Sprintf("rpc error %d: %s", resp.Error.Code, resp.Error.Message)}
	}
	if resp.Result == nil {
		return nil, nil, fmt.Errorf("gateway: response carried neither result nor error")
	}
	return resp.Result, raw, nil
}

func (g *Gateway) post(ctx context.Context, body []byte) (int, json.RawMessage, error) {
	token, err := g.currentToken(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway token: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build gateway request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return 0, nil, fmt.Errorf("read gateway response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (g *Gateway) currentToken(ctx context.Context) (string, error) {
	g.mu.Lock()
	cached := g.token
	g.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	token, err := g.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	g.setToken(token)
	return token, nil
}

func (g *Gateway) setToken(token string) {
	g.mu.Lock()
	g.token = token
	g.mu.Unlock()
}
