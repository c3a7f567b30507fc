// Package launcher presents resolver snapshots to the user: it derives a view
// model, renders it to a terminal, opens the resolved URL once automatically
// and dispatches user intents back to the resolver.
package launcher

import (
	"fmt"
	"strings"

	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
)

// Region is the main area shown to the user. Exactly one is visible.
type Region int

const (
	RegionLoading Region = iota
	RegionConnected
	RegionError
)

// String returns the string representation of the region.
func (r Region) String() string {
	switch r {
	case RegionLoading:
		return "loading"
	case RegionConnected:
		return "connected"
	case RegionError:
		return "error"
	default:
		return fmt.Sprintf("unknown(%d)", int(r))
	}
}

// View is what the user sees for one snapshot.
type View struct {
	Region Region
	// Overlay is the identity-change warning. Only set with RegionConnected.
	Overlay bool

	Mode     string
	Identity string
	Revealed bool
	URL      string

	// Message is the error text in RegionError, or a failed accept under the overlay.
	Message string

	PreviousID string
	NewID      string
}

// BuildView derives the view for a snapshot. Identities are masked unless
// reveal is set.
func BuildView(s resolver.Snapshot, reveal bool) View {
	v := View{Revealed: reveal}

	switch s.State {
	case resolver.StateLoading:
		v.Region = RegionLoading
		return v
	case resolver.StateError:
		v.Region = RegionError
		if s.Err != nil {
			v.Message = s.Err.Message
		}
		return v
	case resolver.StateConnected, resolver.StateAwaitingIdentityConfirmation:
		v.Region = RegionConnected
	default:
		v.Region = RegionError
		v.Message = "unknown state " + s.State.String()
		return v
	}

	v.Mode = ModeLabel(s.Mode())
	v.Identity = displayID(s.DeviceID(), reveal)
	v.URL = s.URL

	if s.State == resolver.StateAwaitingIdentityConfirmation && s.Pending != nil {
		v.Overlay = true
		v.PreviousID = displayID(s.Pending.PreviousID, reveal)
		v.NewID = displayID(s.Pending.Candidate.RyvieID, reveal)
		if s.Err != nil {
			v.Message = s.Err.Message
		}
	}
	return v
}

// ModeLabel returns the display name of a mode.
func ModeLabel(m record.Mode) string {
	switch m {
	case record.ModeLocal:
		return "Local"
	case record.ModePublic:
		return "Public"
	default:
		return ""
	}
}

func displayID(id string, reveal bool) string {
	if reveal {
		return id
	}
	return MaskIdentity(id)
}

// MaskIdentity keeps the first four runes and hides the rest. Identities of
// four runes or fewer are hidden entirely.
func MaskIdentity(id string) string {
	runes := []rune(id)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) <= 4:
		return "••••"
	default:
		return string(runes[:4]) + strings.Repeat("•", 4)
	}
}
