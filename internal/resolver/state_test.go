package resolver

import (
	"errors"
	"fmt"
	"testing"
)

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{StateLoading, "loading"},
		{StateConnected, "connected"},
		{StateAwaitingIdentityConfirmation, "awaiting_identity_confirmation"},
		{StateError, "error"},
		{State(99), "unknown(99)"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if got := tt.state.String(); got != tt.expected {
				t.Errorf("State.String() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestState_ShowsConnection(t *testing.T) {
	tests := []struct {
		state State
		shows bool
	}{
		{StateLoading, false},
		{StateConnected, true},
		{StateAwaitingIdentityConfirmation, true},
		{StateError, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := tt.state.ShowsConnection(); got != tt.shows {
				t.Errorf("State.ShowsConnection() = %v, want %v", got, tt.shows)
			}
		})
	}
}

func TestTrigger_String(t *testing.T) {
	for trigger, want := range map[Trigger]string{
		TriggerInitial:  "initial",
		TriggerManual:   "manual",
		TriggerNetwork:  "network",
		TriggerInterval: "interval",
	} {
		if got := trigger.String(); got != want {
			t.Errorf("Trigger.String() = %v, want %v", got, want)
		}
	}
}

func TestError(t *testing.T) {
	inner := errors.New("connection refused")
	err := fmt.Errorf("cycle: %w", &Error{Kind: KindPublicUnreachable, Message: MsgDeviceUnreachable, Err: inner})

	if !IsKind(err, KindPublicUnreachable) {
		t.Error("IsKind() = false, want true")
	}
	if IsKind(err, KindMeshSetupFailure) {
		t.Error("IsKind() matched the wrong kind")
	}
	if !errors.Is(err, inner) {
		t.Error("errors.Is() does not reach the wrapped error")
	}

	bare := &Error{Kind: KindNoUsableConfiguration, Message: MsgFirstTimeLocal}
	if bare.Error() != MsgFirstTimeLocal {
		t.Errorf("Error() = %q, want %q", bare.Error(), MsgFirstTimeLocal)
	}
	if IsKind(inner, KindPublicUnreachable) {
		t.Error("IsKind() on a plain error should be false")
	}
}
