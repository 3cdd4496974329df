package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultTimeout = 30 * time.Second
	defaultModel   = "gpt-4o-mini"
)

// Config configures the HTTP classification provider. The endpoint is any
// OpenAI-compatible chat-completions API.
type Config struct {
	// APIKey is the bearer token for the API.
	APIKey string
	// BaseURL overrides the endpoint (local models, proxies). Required.
	BaseURL string
	// Model is the chat model; defaults to a small, cheap model —
	// classification is a translation task, not a reasoning one.
	Model string
	// Timeout is the per-request HTTP timeout. Defaults to 30s.
	Timeout time.Duration
}

// httpProvider implements Provider over a chat-completions API with
// JSON-mode output so the reply is always parseable.
type httpProvider struct {
	cfg    Config
	client *http.Client
}

// NewHTTPProvider returns a Provider backed by an OpenAI-compatible API.
// Safe for concurrent use.
func NewHTTPProvider(cfg Config) Provider {
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &httpProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"` // "json_object"
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const systemPrompt = `You classify operator requests about AWS into exactly one of four intent categories.

TROUBLESHOOTING: failures, errors, debugging, "why is X failing/slow/not working"
EXECUTION: normal operations — list, create, describe, delete, configure
VERIFICATION: checking that previously applied fixes worked
DOCUMENTATION: explanations, how-to questions, guidance

Respond ONLY with JSON:
{"intent_category":"troubleshooting|execution|verification|documentation","aws_service":"service_or_unknown","confidence":0.0,"reasoning":"brief","steps":[{"label":"...","request":"..."}]}

Include "steps" only when the request explicitly asks for two actions in order (e.g. "fix it and then verify it") — otherwise omit it. Consider the prior conversation turns for context.`

// Classify sends the request text plus context window to the API and parses
// the JSON reply. Transport and parse failures are wrapped in ErrUnavailable
// so the caller falls back to keyword classification.
func (p *httpProvider) Classify(ctx context.Context, text string, contextTurns []ContextTurn) (*Classification, error) {
	msgs := make([]chatMessage, 0, len(contextTurns)+2)
	msgs = append(msgs, chatMessage{Role: "system", Content: systemPrompt})
	for _, t := range contextTurns {
		role := "user"
		if t.Role == "agent" {
			role = "assistant"
		}
		msgs = append(msgs, chatMessage{Role: role, Content: t.Content})
	}
	msgs = append(msgs, chatMessage{Role: "user", Content: text})

	body, err := json.Marshal(chatRequest{
		Model:          p.cfg.Model,
		Messages:       msgs,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("intent: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("intent: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(string(data), 200))
	}

	var cr chatResponse
	if err := json.Unmarshal(data, &cr); err != nil {
		return nil, fmt.Errorf("%w: decode envelope: %v", ErrUnavailable, err)
	}
	if cr.Error != nil {
		return nil, fmt.Errorf("%w: api error: %s", ErrUnavailable, cr.Error.Message)
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty choices", ErrUnavailable)
	}

	var c Classification
	if err := json.Unmarshal([]byte(extractJSON(cr.Choices[0].Message.Content)), &c); err != nil {
		return nil, fmt.Errorf("%w: decode classification: %v", ErrUnavailable, err)
	}
	return &c, nil
}

// extractJSON trims any stray text around the first {...} block. Some models
// wrap JSON-mode output in prose despite instructions.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return s
	}
	return s[start : end+1]
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
