package capability

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/fix"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

// RulePlanner proposes fixes from the captured resource state using a small
// set of per-service remediation rules. It is deliberately deterministic:
// the same state always yields the same plan.
type RulePlanner struct {
	Reader StateReader
}

const (
	minLambdaMemoryMB    = 512
	minLambdaTimeoutSecs = 30
)

// Plan inspects the resource named in the request and proposes remediations
// for the conditions it recognises. An unrecognisable resource or a healthy
// state yields an empty plan.
func (p *RulePlanner) Plan(ctx context.Context, req *Request, tools []discovery.Tool) ([]PlannedFix, error) {
	resource := ExtractResource(req.Text, req.Intent)
	if resource == "" {
		return nil, nil
	}
	state, err := p.Reader.ReadState(ctx, resource)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", resource, err)
	}

	switch {
	case strings.HasPrefix(resource, "lambda:"):
		return p.planLambda(resource, state, tools), nil
	case strings.HasPrefix(resource, "s3:"):
		return p.planBucket(resource, state, tools), nil
	}
	return nil, nil
}

func (p *RulePlanner) planLambda(resource string, state fix.State, tools []discovery.Tool) []PlannedFix {
	tool, ok := findTool(tools, "UpdateFunctionConfiguration")
	if !ok {
		return nil
	}
	name := strings.TrimPrefix(resource, "lambda:")
	var plan []PlannedFix

	if mem, ok := stateInt(state, "MemorySize"); ok && mem < minLambdaMemoryMB {
		plan = append(plan, PlannedFix{
			Description: fmt.Sprintf("Increase memory of function %s from %dMB to %dMB", name, mem, minLambdaMemoryMB),
			Resource:    resource,
			Tool:        tool,
			Parameters:  map[string]any{"FunctionName": name, "MemorySize": minLambdaMemoryMB},
		})
	}
	if timeout, ok := stateInt(state, "Timeout"); ok && timeout < minLambdaTimeoutSecs {
		plan = append(plan, PlannedFix{
			Description: fmt.Sprintf("Increase timeout of function %s from %ds to %ds", name, timeout, minLambdaTimeoutSecs),
			Resource:    resource,
			Tool:        tool,
			Parameters:  map[string]any{"FunctionName": name, "Timeout": minLambdaTimeoutSecs},
		})
	}
	return plan
}

func (p *RulePlanner) planBucket(resource string, state fix.State, tools []discovery.Tool) []PlannedFix {
	name := strings.TrimPrefix(resource, "s3:")
	var plan []PlannedFix

	if state["Versioning"] != "Enabled" {
		if tool, ok := findTool(tools, "PutBucketVersioning"); ok {
			plan = append(plan, PlannedFix{
				Description: fmt.Sprintf("Enable versioning on bucket %s", name),
				Resource:    resource,
				Tool:        tool,
				Parameters: map[string]any{
					"Bucket":                  name,
					"VersioningConfiguration": map[string]any{"Status": "Enabled"},
				},
			})
		}
	}
	if state["Encryption"] == "" || state["Encryption"] == "none" {
		if tool, ok := findTool(tools, "PutBucketEncryption"); ok {
			plan = append(plan, PlannedFix{
				Description: fmt.Sprintf("Enable default encryption on bucket %s", name),
				Resource:    resource,
				Tool:        tool,
				Parameters: map[string]any{
					"Bucket": name,
					"ServerSideEncryptionConfiguration": map[string]any{
						"Rules": []any{map[string]any{
							"ApplyServerSideEncryptionByDefault": map[string]any{"SSEAlgorithm": "AES256"},
						}},
					},
				},
			})
		}
	}
	return plan
}

func findTool(tools []discovery.Tool, suffix string) (discovery.Tool, bool) {
	for _, t := range tools {
		if strings.HasSuffix(t.Name, suffix) {
			return t, true
		}
	}
	return discovery.Tool{}, false
}

func stateInt(state fix.State, key string) (int, bool) {
	v, ok := state[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractResource pulls a service-qualified resource identifier out of the
// request text, e.g. "lambda:payment-service" from "my lambda function
// payment-service is slow". It returns "" when no resource can be named.
func ExtractResource(text string, class *intent.Classification) string {
	service := ""
	if class != nil {
		service = strings.ToLower(class.Service)
	}

	words := strings.Fields(text)
	for i, w := range words {
		switch strings.ToLower(strings.Trim(w, ".,!?\"'")) {
		case "function", "lambda":
			if name, ok := resourceName(words, i+1); ok {
				return "lambda:" + name
			}
		case "bucket":
			if name, ok := resourceName(words, i+1); ok {
				return "s3:" + name
			}
		case "log", "group":
			if name, ok := resourceName(words, i+1); ok && strings.HasPrefix(name, "/") {
				return "logs:" + name
			}
		}
	}

	// Fall back to the classified service plus the first name-like token.
	if service != "" {
		for _, w := range words {
			if name, ok := nameToken(w); ok {
				return service + ":" + name
			}
		}
	}
	return ""
}

func resourceName(words []string, i int) (string, bool) {
	for ; i < len(words); i++ {
		if name, ok := nameToken(words[i]); ok {
			return name, true
		}
		// Skip filler between the keyword and the name ("function named X").
		switch strings.ToLower(words[i]) {
		case "named", "called", "the", "my", "our":
			continue
		default:
			return "", false
		}
	}
	return "", false
}

// nameToken reports whether a word looks like a resource identifier rather
// than prose: it must contain a hyphen, underscore, slash or digit.
func nameToken(w string) (string, bool) {
	w = strings.Trim(w, ".,!?\"'`")
	if w == "" {
		return "", false
	}
	if strings.ContainsAny(w, "-_/0123456789") && !strings.EqualFold(w, "s3") {
		return w, true
	}
	return "", false
}
