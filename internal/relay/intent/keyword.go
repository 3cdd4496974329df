package intent

import "strings"

// keywordTable maps trigger words to labels. Checked in declaration order;
// troubleshooting wins over verification so "why is the check failing"
// lands with the troubleshooter.
var keywordTable = []struct {
	label Label
	words []string
}{
	{LabelTroubleshooting, []string{
		"fail", "failing", "failed", "error", "errors", "issue", "problem",
		"broken", "why", "debug", "troubleshoot", "slow", "timeout", "timing out",
		"not working", "crash", "crashes",
	}},
	{LabelVerification, []string{
		"validate", "verify", "verification", "confirm the", "check the fix",
		"check that", "did the fix", "is it fixed",
	}},
	{LabelDocumentation, []string{
		"how do i", "how to", "what is", "what does", "explain", "documentation",
		"docs", "guide", "help me understand",
	}},
}

// serviceHints maps resource words to AWS service names for query shaping.
var serviceHints = map[string]string{
	"lambda":     "lambda",
	"function":   "lambda",
	"bucket":     "s3",
	"s3":         "s3",
	"log":        "cloudwatch",
	"logs":       "cloudwatch",
	"alarm":      "cloudwatch",
	"cloudwatch": "cloudwatch",
}

// KeywordClassifier is the deterministic local fallback: pure string
// matching against a fixed table, no I/O. It backs the recovery path for
// ClassificationError and doubles as the test-time classifier.
type KeywordClassifier struct{}

// Classify matches text against the keyword table. Unmatched requests are
// treated as standard execution operations, mirroring the upstream
// classifier's own default.
func (KeywordClassifier) Classify(_ []ContextTurn, text string) *Classification {
	lower := strings.ToLower(text)

	label := LabelExecution
	for _, row := range keywordTable {
		for _, w := range row.words {
			if strings.Contains(lower, w) {
				label = row.label
				break
			}
		}
		if label != LabelExecution {
			break
		}
	}

	return &Classification{
		Label:      label,
		Service:    detectService(lower),
		Confidence: 0.6,
		Reasoning:  "keyword match (local fallback)",
	}
}

func detectService(lower string) string {
	for _, w := range strings.Fields(lower) {
		if svc, ok := serviceHints[strings.Trim(w, ".,!?:")]; ok {
			return svc
		}
	}
	return "unknown"
}
