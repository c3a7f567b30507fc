package resolver

import (
	"time"

	"github.com/ryvie/ryvie-launcher/internal/record"
)

// Pending is an identity change awaiting the user's decision.
type Pending struct {
	// Candidate is the local-mode record built from the probe.
	Candidate record.Record
	// PreviousID is the remembered device id being replaced.
	PreviousID string
}

// Snapshot is the resolver state published after each transition.
// Snapshots are values; the record and pending change are copies.
type Snapshot struct {
	Session string
	Cycle   uint64
	State   State
	Trigger Trigger

	// Record is the displayed record. While awaiting confirmation it is the
	// old record, not the candidate.
	Record *record.Record
	URL    string

	Pending *Pending
	Err     *Error
	At      time.Time
}

// Mode returns the displayed record's mode, or "" when no record is displayed.
func (s Snapshot) Mode() record.Mode {
	if s.Record == nil {
		return ""
	}
	return s.Record.Mode
}

// DeviceID returns the displayed record's device id.
func (s Snapshot) DeviceID() string {
	if s.Record == nil {
		return ""
	}
	return s.Record.RyvieID
}

// clone returns a deep copy so published snapshots never share maps.
func (s Snapshot) clone() Snapshot {
	c := s
	if s.Record != nil {
		rec := s.Record.Clone()
		c.Record = &rec
	}
	if s.Pending != nil {
		c.Pending = &Pending{
			Candidate:  s.Pending.Candidate.Clone(),
			PreviousID: s.Pending.PreviousID,
		}
	}
	if s.Err != nil {
		e := *s.Err
		c.Err = &e
	}
	return c
}
