package resolver

import (
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/record"
)

// Observer receives every published snapshot.
type Observer interface {
	// OnSnapshot is called synchronously after each transition, outside the
	// resolver lock. Implementations must not call Run, Accept or Refuse
	// from inside OnSnapshot; those would return ErrBusy.
	OnSnapshot(s Snapshot)
}

// ObserverFunc is an adapter that allows using ordinary functions as Observers.
type ObserverFunc func(Snapshot)

// OnSnapshot implements the Observer interface.
func (f ObserverFunc) OnSnapshot(s Snapshot) {
	f(s)
}

// MultiObserver combines multiple observers into one.
type MultiObserver struct {
	mu        sync.RWMutex
	observers []Observer
}

// NewMultiObserver creates a new MultiObserver with the given observers.
func NewMultiObserver(observers ...Observer) *MultiObserver {
	return &MultiObserver{
		observers: observers,
	}
}

// Add adds an observer to the multi-observer.
func (m *MultiObserver) Add(o Observer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observers = append(m.observers, o)
}

// OnSnapshot notifies all observers in order.
func (m *MultiObserver) OnSnapshot(s Snapshot) {
	m.mu.RLock()
	observers := append([]Observer(nil), m.observers...)
	m.mu.RUnlock()

	for _, o := range observers {
		o.OnSnapshot(s)
	}
}

// LoggingObserver logs every snapshot.
type LoggingObserver struct {
	// Level for non-error snapshots. The zero value is debug.
	Level zerolog.Level
}

// OnSnapshot logs the snapshot using zerolog.
func (l *LoggingObserver) OnSnapshot(s Snapshot) {
	var ev *zerolog.Event
	switch {
	case s.State == StateError:
		ev = log.Warn()
	default:
		ev = log.WithLevel(l.Level)
	}

	ev = ev.
		Str("session", s.Session).
		Uint64("cycle", s.Cycle).
		Str("state", s.State.String()).
		Str("trigger", s.Trigger.String())

	if s.Record != nil {
		ev = ev.Str("mode", string(s.Record.Mode)).
			Str("ryvie_id", record.MaskSecret(s.Record.RyvieID))
	}
	if s.URL != "" {
		ev = ev.Str("url", s.URL)
	}
	if s.Pending != nil {
		ev = ev.Str("previous_id", record.MaskSecret(s.Pending.PreviousID)).
			Str("candidate_id", record.MaskSecret(s.Pending.Candidate.RyvieID))
	}
	if s.Err != nil {
		ev = ev.Str("kind", s.Err.Kind.String()).Err(s.Err)
	}
	ev.Msg("connection state")
}
