package biometric

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakePrompter struct {
	enrolled bool
	success  bool
	code     string
	err      error
}

func (f *fakePrompter) HasEnrolledBiometric() bool { return f.enrolled }

func (f *fakePrompter) Authenticate(ctx context.Context, reason string) (bool, string, error) {
	return f.success, f.code, f.err
}

func TestPlatformGate_Normalization(t *testing.T) {
	tests := []struct {
		name         string
		prompter     fakePrompter
		wantApproved bool
		wantReason   Reason
		wantFallback bool
		wantCooldown time.Duration
	}{
		{"approved", fakePrompter{enrolled: true, success: true}, true, "", false, 0},
		{"not enrolled", fakePrompter{enrolled: false}, false, NoEnrolledBiometric, true, 0},
		{"user cancel", fakePrompter{enrolled: true, code: "user_cancel"}, false, UserCanceled, false, 0},
		{"system cancel", fakePrompter{enrolled: true, code: "system_cancel"}, false, UserCanceled, false, 0},
		{"lockout", fakePrompter{enrolled: true, code: "lockout"}, false, LockedOut, true, 30 * time.Second},
		{"permanent lockout", fakePrompter{enrolled: true, code: "lockout_permanent"}, false, LockedOut, true, 30 * time.Second},
		{"enrollment lost mid-flight", fakePrompter{enrolled: true, code: "not_enrolled"}, false, NoEnrolledBiometric, true, 0},
		{"unknown code", fakePrompter{enrolled: true, code: "weird"}, false, PlatformError, true, 0},
		{"platform error", fakePrompter{enrolled: true, err: errors.New("boom")}, false, PlatformError, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewPlatformGate(&tt.prompter)
			out := gate.Prompt(context.Background(), "unlock vault")

			if out.Approved != tt.wantApproved {
				t.Errorf("Approved = %v, want %v", out.Approved, tt.wantApproved)
			}
			if out.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", out.Reason, tt.wantReason)
			}
			if out.FallbackToPin != tt.wantFallback {
				t.Errorf("FallbackToPin = %v, want %v", out.FallbackToPin, tt.wantFallback)
			}
			if out.RetryAfter != tt.wantCooldown {
				t.Errorf("RetryAfter = %v, want %v", out.RetryAfter, tt.wantCooldown)
			}
		})
	}
}

func TestUnsupportedGate(t *testing.T) {
	out := UnsupportedGate{}.Prompt(context.Background(), "unlock vault")
	if out.Approved {
		t.Error("unsupported gate must not approve")
	}
	if out.Reason != NoEnrolledBiometric || !out.FallbackToPin {
		t.Errorf("unexpected outcome: %+v", out)
	}
}
