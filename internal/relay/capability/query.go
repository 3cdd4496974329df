package capability

import (
	"strings"

	"github.com/opsrelay/opsrelay/internal/relay/intent"
)

// SearchQuery shapes the tool-discovery query for a classified turn.
// Troubleshooting and verification want the read-side operations of the
// service spelled out so the gateway ranks them first; execution and
// documentation lean on the user's own wording.
func SearchQuery(class *intent.Classification, text string) string {
	service := ""
	if class != nil {
		service = strings.ToLower(class.Service)
	}
	label := intent.LabelExecution
	if class != nil {
		label = class.Label
	}

	switch label {
	case intent.LabelTroubleshooting:
		return strings.TrimSpace(service + " get function configuration filter log events get log events describe log groups")
	case intent.LabelVerification:
		return strings.TrimSpace(service + " get describe configuration status")
	case intent.LabelDocumentation:
		return text
	default:
		return strings.TrimSpace(service + " " + text)
	}
}
