package conversation

import "strings"

// ReferenceKind classifies how a user phrase points back into the history.
type ReferenceKind string

const (
	// RefNone means the phrase carries no recognisable back-reference.
	// It is a first-class outcome, not an error: callers treat the input
	// as a fresh, context-free request.
	RefNone ReferenceKind = ""
	// RefAffirmation is a bare "yes" / "do it" continuation of the prior
	// agent turn.
	RefAffirmation ReferenceKind = "affirmation"
	// RefContinuation asks for more of the previous answer.
	RefContinuation ReferenceKind = "continuation"
	// RefFix points at previously recorded fix actions ("that fix",
	// "validate the fixes", "the memory change").
	RefFix ReferenceKind = "fix"
)

// Reference is the outcome of resolving a user phrase against the history.
type Reference struct {
	Kind ReferenceKind
	// Turn is the referent turn (zero-valued when Kind == RefNone).
	Turn Turn
	// FixRefs are the fix action IDs the referent turn carries.
	FixRefs []string
}

// affirmationWords mean "yes, proceed with what you proposed".
var affirmationWords = []string{
	"yes", "y", "ok", "okay", "confirm", "proceed",
	"go ahead", "go", "do it",
	"sure", "yep", "yup", "affirmative",
}

// continuationPhrases ask for more of the previous response.
var continuationPhrases = []string{
	"show more", "more", "continue", "keep going", "go on", "tell me more",
	"and then",
}

// fixNouns are the nouns a deictic fix reference attaches to.
var fixNouns = []string{"fix", "fixes", "change", "changes", "remediation", "remediations", "update", "updates"}

// deicticMarkers signal that the sentence points backwards rather than
// introducing a new subject.
var deicticMarkers = []string{"that", "those", "the", "this", "these", "it", "them", "previous", "last", "recent"}

// Resolve matches phrase against the fixed reference-phrase rule set and
// returns the referent from the history. A Reference with Kind RefNone means
// no referent was found; Resolve never fails.
//
// Match order: affirmations, then continuations, then deictic fix
// references. Affirmations and fix references both resolve to the most
// recent turn carrying fix refs (falling back, for affirmations, to the last
// agent turn); continuations resolve to the last agent turn.
func (h *History) Resolve(phrase string) Reference {
	lower := strings.ToLower(strings.TrimSpace(phrase))
	if lower == "" {
		return Reference{}
	}

	if isAffirmation(lower) {
		if t, ok := h.lastTurnWithFixRefs(); ok {
			return Reference{Kind: RefAffirmation, Turn: t, FixRefs: t.FixRefs}
		}
		if t, ok := h.lastAgentTurn(); ok {
			return Reference{Kind: RefAffirmation, Turn: t}
		}
		return Reference{}
	}

	if isContinuation(lower) {
		if t, ok := h.lastAgentTurn(); ok {
			return Reference{Kind: RefContinuation, Turn: t, FixRefs: t.FixRefs}
		}
		return Reference{}
	}

	if mentionsPriorFix(lower) {
		if t, ok := h.lastTurnWithFixRefs(); ok {
			return Reference{Kind: RefFix, Turn: t, FixRefs: t.FixRefs}
		}
	}

	return Reference{}
}

func isAffirmation(lower string) bool {
	for _, w := range affirmationWords {
		if lower == w {
			return true
		}
	}
	return false
}

func isContinuation(lower string) bool {
	for _, p := range continuationPhrases {
		if lower == p || strings.HasPrefix(lower, p+" ") {
			return true
		}
	}
	return false
}

// mentionsPriorFix reports whether the phrase combines a deictic marker with
// a fix noun ("that fix", "validate the fixes", "the memory change").
func mentionsPriorFix(lower string) bool {
	words := strings.Fields(lower)
	hasNoun := false
	for _, w := range words {
		for _, n := range fixNouns {
			if strings.Trim(w, ".,!?") == n {
				hasNoun = true
			}
		}
	}
	if !hasNoun {
		return false
	}
	for _, w := range words {
		for _, m := range deicticMarkers {
			if w == m {
				return true
			}
		}
	}
	return false
}
