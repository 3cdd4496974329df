package conversation

import (
	"fmt"
	"testing"
)

func TestHistory_AppendAssignsSequence(t *testing.T) {
	h := NewHistory()

	first := h.Append(Turn{Role: RoleUser, Content: "hello"})
	second := h.Append(Turn{Role: RoleAgent, Content: "hi"})

	if first.Sequence != 1 || second.Sequence != 2 {
		t.Errorf("sequences = %d, %d; want 1, 2", first.Sequence, second.Sequence)
	}
	if first.Timestamp.IsZero() {
		t.Error("expected timestamp to be assigned")
	}
}

func TestHistory_ContextWindow(t *testing.T) {
	h := NewHistory()
	for i := 0; i < 10; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAgent
		}
		h.Append(Turn{Role: role, Content: fmt.Sprintf("turn %d", i)})
	}

	tests := []struct {
		name      string
		window    int
		wantLen   int
		wantFirst string
	}{
		{"default window", 0, 3, "turn 7"},
		{"explicit window", 5, 5, "turn 5"},
		{"window larger than history", 50, 10, "turn 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := h.Context(tt.window)
			if len(got) != tt.wantLen {
				t.Fatalf("Context(%d) returned %d turns, want %d", tt.window, len(got), tt.wantLen)
			}
			if got[0].Content != tt.wantFirst {
				t.Errorf("first turn = %q, want %q", got[0].Content, tt.wantFirst)
			}
			// Chronological order.
			for i := 1; i < len(got); i++ {
				if got[i].Sequence <= got[i-1].Sequence {
					t.Errorf("turns out of order at %d: %d <= %d", i, got[i].Sequence, got[i-1].Sequence)
				}
			}
		})
	}
}

func TestHistory_Resolve(t *testing.T) {
	seed := func() *History {
		h := NewHistory()
		h.Append(Turn{Role: RoleUser, Content: "My function orders-api is slow"})
		h.Append(Turn{Role: RoleAgent, Content: "Applied two fixes", FixRefs: []string{"aaaa1111", "bbbb2222"}})
		return h
	}

	tests := []struct {
		name     string
		phrase   string
		wantKind ReferenceKind
		wantRefs int
	}{
		{"deictic validate", "validate that fix", RefFix, 2},
		{"deictic plural", "validate the fixes", RefFix, 2},
		{"named change", "verify the memory change", RefFix, 2},
		{"affirmation", "yes", RefAffirmation, 2},
		{"affirmation do it", "do it", RefAffirmation, 2},
		{"continuation", "show more", RefContinuation, 2},
		{"continuation bare", "continue", RefContinuation, 2},
		{"continuation polite", "continue please", RefContinuation, 2},
		{"fresh request", "list my s3 buckets", RefNone, 0},
		{"fix noun without deixis", "fix my bucket policy", RefNone, 0},
		{"empty", "   ", RefNone, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ref := seed().Resolve(tt.phrase)
			if ref.Kind != tt.wantKind {
				t.Errorf("Resolve(%q).Kind = %q, want %q", tt.phrase, ref.Kind, tt.wantKind)
			}
			if len(ref.FixRefs) != tt.wantRefs {
				t.Errorf("Resolve(%q) carried %d fix refs, want %d", tt.phrase, len(ref.FixRefs), tt.wantRefs)
			}
		})
	}
}

func TestHistory_ResolveEmptyHistory(t *testing.T) {
	h := NewHistory()
	for _, phrase := range []string{"yes", "show more", "validate that fix"} {
		if ref := h.Resolve(phrase); ref.Kind != RefNone {
			t.Errorf("Resolve(%q) on empty history = %q, want no referent", phrase, ref.Kind)
		}
	}
}

func TestHistory_ResolveTargetsMostRecentFixTurn(t *testing.T) {
	h := NewHistory()
	h.Append(Turn{Role: RoleAgent, Content: "old fixes", FixRefs: []string{"old11111"}})
	h.Append(Turn{Role: RoleUser, Content: "now check my buckets"})
	h.Append(Turn{Role: RoleAgent, Content: "fresh fix", FixRefs: []string{"new22222"}})

	ref := h.Resolve("validate that fix")
	if ref.Kind != RefFix {
		t.Fatalf("Kind = %q, want RefFix", ref.Kind)
	}
	if len(ref.FixRefs) != 1 || ref.FixRefs[0] != "new22222" {
		t.Errorf("FixRefs = %v, want [new22222]", ref.FixRefs)
	}
}
