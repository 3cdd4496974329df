package capability

import (
	"github.com/opsrelay/opsrelay/internal/relay/discovery"
	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

// Router maps an intent label plus the discovered tools to a handler. It is
// a pure lookup: same inputs, same handler, no side effects.
type Router struct {
	byLabel       map[intent.Label]Handler
	documentation Handler
}

// NewRouter wires the four capability handlers. Documentation doubles as the
// fallback when no tools are available or the label is unknown.
func NewRouter(troubleshooting, execution, validation, documentation Handler) *Router {
	return &Router{
		byLabel: map[intent.Label]Handler{
			intent.LabelTroubleshooting: troubleshooting,
			intent.LabelExecution:       execution,
			intent.LabelVerification:    validation,
			intent.LabelDocumentation:   documentation,
		},
		documentation: documentation,
	}
}

// Route selects the handler for a classified turn. When discovery returned
// no tools the only useful thing left is an explanation, so everything
// degrades to documentation regardless of the label.
func (r *Router) Route(label intent.Label, available []discovery.Tool) Handler {
	if len(available) == 0 {
		return r.documentation
	}
	if h, ok := r.byLabel[label]; ok {
		return h
	}
	return r.documentation
}
