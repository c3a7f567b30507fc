package resolver

import (
	"errors"
	"fmt"
)

// State is the resolver's published state.
type State int

const (
	// StateLoading indicates a resolution cycle is in progress.
	StateLoading State = iota

	// StateConnected indicates a URL was resolved in local or public mode.
	StateConnected

	// StateAwaitingIdentityConfirmation indicates the probed device differs from
	// the remembered one. The old record stays displayed until accept or refuse.
	StateAwaitingIdentityConfirmation

	// StateError indicates the cycle ended without a usable URL.
	StateError
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateConnected:
		return "connected"
	case StateAwaitingIdentityConfirmation:
		return "awaiting_identity_confirmation"
	case StateError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ShowsConnection returns true if a connected record is displayed, either
// directly or underneath the identity confirmation overlay.
func (s State) ShowsConnection() bool {
	return s == StateConnected || s == StateAwaitingIdentityConfirmation
}

// Trigger is what started a resolution cycle.
type Trigger int

const (
	// TriggerInitial is the automatic run at session start.
	TriggerInitial Trigger = iota
	// TriggerManual is a user refresh or retry.
	TriggerManual
	// TriggerNetwork is a network change seen by the agent.
	TriggerNetwork
	// TriggerInterval is the agent's periodic refresh.
	TriggerInterval
)

// String returns the string representation of the trigger.
func (t Trigger) String() string {
	switch t {
	case TriggerInitial:
		return "initial"
	case TriggerManual:
		return "manual"
	case TriggerNetwork:
		return "network"
	case TriggerInterval:
		return "interval"
	default:
		return fmt.Sprintf("unknown(%d)", int(t))
	}
}

// ErrorKind classifies resolution failures.
type ErrorKind int

const (
	// KindProbeFailure is a failed local probe. It is never displayed; it
	// leads to the public fallback.
	KindProbeFailure ErrorKind = iota
	// KindPublicUnreachable is a public URL that did not answer.
	KindPublicUnreachable
	// KindNoUsableConfiguration means no record or no public target exists.
	KindNoUsableConfiguration
	// KindMeshSetupFailure is a failed mesh install or connect.
	KindMeshSetupFailure
	// KindPersistenceFailure is a failed record read or write. Logged only.
	KindPersistenceFailure
)

// String returns the string representation of the error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindProbeFailure:
		return "probe_failure"
	case KindPublicUnreachable:
		return "public_unreachable"
	case KindNoUsableConfiguration:
		return "no_usable_configuration"
	case KindMeshSetupFailure:
		return "mesh_setup_failure"
	case KindPersistenceFailure:
		return "persistence_failure"
	default:
		return fmt.Sprintf("unknown(%d)", int(k))
	}
}

// User-facing messages.
const (
	MsgFirstTimeLocal    = "First-time local connection required: connect to the same network as your Ryvie."
	MsgIncompleteConfig  = "Incomplete configuration: no public domain or tunnel host is known for this Ryvie."
	MsgDeviceUnreachable = "Device unreachable, verify it is powered on."
	MsgMeshSetupFailed   = "Could not configure the secure connection to the new Ryvie."
)

// Error is a classified resolution error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var re *Error
	return errors.As(err, &re) && re.Kind == kind
}

var (
	// ErrBusy is returned when a resolution operation is already in flight.
	ErrBusy = errors.New("resolution already in progress")

	// ErrNoPendingChange is returned by Accept and Refuse when no identity
	// change is awaiting confirmation.
	ErrNoPendingChange = errors.New("no identity change awaiting confirmation")
)
