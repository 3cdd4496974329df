package fix

import (
	"errors"
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"applied_success to pending", StatusAppliedSuccess, StatusPendingValidation, true},
		{"pending to validated_success", StatusPendingValidation, StatusValidatedSuccess, true},
		{"pending to validated_failed", StatusPendingValidation, StatusValidatedFailed, true},
		{"applied_failed is terminal", StatusAppliedFailed, StatusPendingValidation, false},
		{"validated_success is terminal", StatusValidatedSuccess, StatusPendingValidation, false},
		{"validated_failed is terminal", StatusValidatedFailed, StatusPendingValidation, false},
		{"no skip to validated", StatusAppliedSuccess, StatusValidatedSuccess, false},
		{"no backwards", StatusPendingValidation, StatusAppliedSuccess, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.from, tt.to); got != tt.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestAction_ChangedState(t *testing.T) {
	a := NewAction("Increase memory", "lambda:payment-api", "cmd",
		State{"MemorySize": "128", "Timeout": "3", "Runtime": "python3.12"},
		State{"MemorySize": "512", "Timeout": "3", "Runtime": "python3.12", "State": "Active"},
		nil)

	delta := a.ChangedState()
	want := State{"MemorySize": "512", "State": "Active"}
	if !delta.Equal(want) {
		t.Fatalf("ChangedState() = %v, want %v", delta, want)
	}
}

func TestLedger_RecordAndGet(t *testing.T) {
	l := NewLedger()

	a := NewAction("bump memory to 512MB", "lambda:orders-api",
		"lambda___UpdateFunctionConfiguration {\"MemorySize\":512}",
		State{"memory": "128"}, State{"memory": "512"}, nil)

	if err := l.Record(a); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	got, err := l.Get(a.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}

	// Immutable fields round-trip exactly.
	if got.ID != a.ID || got.Description != a.Description ||
		got.TargetResource != a.TargetResource || got.CommandIssued != a.CommandIssued {
		t.Errorf("Get() returned different immutable fields: %+v", got)
	}
	if !got.BeforeState.Equal(a.BeforeState) {
		t.Errorf("before_state changed across round-trip: %v != %v", got.BeforeState, a.BeforeState)
	}
	if got.Status != StatusAppliedSuccess {
		t.Errorf("status = %s, want %s", got.Status, StatusAppliedSuccess)
	}

	// Mutating the returned copy must not affect the ledger.
	got.BeforeState["memory"] = "tampered"
	again, _ := l.Get(a.ID)
	if again.BeforeState["memory"] != "128" {
		t.Error("ledger-internal before_state was mutated via a returned copy")
	}
}

func TestLedger_DuplicateID(t *testing.T) {
	l := NewLedger()
	a := NewAction("fix", "lambda:fn", "cmd", nil, nil, nil)
	if err := l.Record(a); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if err := l.Record(a); !errors.Is(err, ErrDuplicateAction) {
		t.Errorf("second Record() error = %v, want ErrDuplicateAction", err)
	}
}

func TestLedger_GetUnknown(t *testing.T) {
	l := NewLedger()
	if _, err := l.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestLedger_UpdateStatus(t *testing.T) {
	l := NewLedger()
	a := NewAction("bump timeout", "lambda:fn", "cmd", State{"timeout": "3"}, State{"timeout": "30"}, nil)
	if err := l.Record(a); err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	if err := l.UpdateStatus(a.ID, StatusPendingValidation, StatusUpdate{}); err != nil {
		t.Fatalf("UpdateStatus(pending) error = %v", err)
	}

	when := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	if err := l.UpdateStatus(a.ID, StatusValidatedSuccess, StatusUpdate{ValidatedAt: when}); err != nil {
		t.Fatalf("UpdateStatus(validated) error = %v", err)
	}

	got, _ := l.Get(a.ID)
	if got.Status != StatusValidatedSuccess {
		t.Errorf("status = %s, want validated_success", got.Status)
	}
	if got.ValidatedAt == nil || !got.ValidatedAt.Equal(when) {
		t.Errorf("ValidatedAt = %v, want %v", got.ValidatedAt, when)
	}

	// Terminal statuses never re-enter the machine.
	err := l.UpdateStatus(a.ID, StatusPendingValidation, StatusUpdate{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("transition out of terminal status: error = %v, want ErrInvalidTransition", err)
	}
}

func TestLedger_FailedActionIsTerminal(t *testing.T) {
	l := NewLedger()
	a := NewAction("broken fix", "s3:bucket", "cmd", State{"versioning": "off"}, State{"versioning": "off"},
		errors.New("AccessDenied"))
	if err := l.Record(a); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if a.Status != StatusAppliedFailed {
		t.Fatalf("status = %s, want applied_failed", a.Status)
	}

	err := l.UpdateStatus(a.ID, StatusPendingValidation, StatusUpdate{})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("applied_failed transition: error = %v, want ErrInvalidTransition", err)
	}
}

func TestLedger_PendingAndOrder(t *testing.T) {
	l := NewLedger()

	a1 := NewAction("first", "r1", "c1", nil, nil, nil)
	a2 := NewAction("second failed", "r2", "c2", nil, nil, errors.New("boom"))
	a3 := NewAction("third", "r3", "c3", nil, nil, nil)
	for _, a := range []*Action{a1, a2, a3} {
		if err := l.Record(a); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	all := l.All()
	if len(all) != 3 {
		t.Fatalf("All() returned %d actions, want 3", len(all))
	}
	for i, want := range []string{a1.ID, a2.ID, a3.ID} {
		if all[i].ID != want {
			t.Errorf("All()[%d].ID = %s, want %s (insertion order)", i, all[i].ID, want)
		}
	}

	pending := l.Pending()
	if len(pending) != 2 || pending[0] != a1.ID || pending[1] != a3.ID {
		t.Errorf("Pending() = %v, want [%s %s]", pending, a1.ID, a3.ID)
	}
}
