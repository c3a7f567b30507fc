package metrics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ryvie/ryvie-launcher/internal/mesh"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
)

// Collector turns resolver snapshots into metric updates.
type Collector struct {
	metrics *Metrics

	mu        sync.Mutex
	starts    map[uint64]time.Time // loading time per cycle, until it settles
	lastCycle uint64               // newest settled cycle
}

// NewCollector creates a collector for m.
func NewCollector(m *Metrics) *Collector {
	return &Collector{
		metrics: m,
		starts:  make(map[uint64]time.Time),
	}
}

// OnSnapshot implements resolver.Observer.
func (c *Collector) OnSnapshot(s resolver.Snapshot) {
	if s.State == resolver.StateLoading {
		c.metrics.Busy.Set(1)
		c.mu.Lock()
		c.starts[s.Cycle] = s.At
		c.mu.Unlock()
		return
	}
	c.metrics.Busy.Set(0)

	if s.Err != nil {
		c.metrics.ResolutionErrs.WithLabelValues(s.Err.Kind.String()).Inc()
	}

	c.mu.Lock()
	start, first := c.starts[s.Cycle]
	delete(c.starts, s.Cycle)
	if s.Cycle > c.lastCycle {
		c.lastCycle = s.Cycle
	}
	c.mu.Unlock()

	// Accept and Refuse republish a settled cycle; count the outcome once
	// and the identity change only when first seen.
	if first {
		c.metrics.Resolutions.WithLabelValues(s.State.String(), s.Trigger.String()).Inc()
		c.metrics.CycleDuration.Observe(s.At.Sub(start).Seconds())
		if s.State == resolver.StateAwaitingIdentityConfirmation {
			c.metrics.IdentityChanges.Inc()
		}
	}

	c.setMode(s)
}

func (c *Collector) setMode(s resolver.Snapshot) {
	local, public := 0.0, 0.0
	if s.State == resolver.StateConnected {
		switch s.Mode() {
		case record.ModeLocal:
			local = 1
		case record.ModePublic:
			public = 1
		}
	}
	c.metrics.ConnectionMode.WithLabelValues(string(record.ModeLocal)).Set(local)
	c.metrics.ConnectionMode.WithLabelValues(string(record.ModePublic)).Set(public)
}

// InstrumentMesh wraps next so every Setup is counted and timed.
func InstrumentMesh(m *Metrics, next resolver.Mesh) resolver.Mesh {
	return &instrumentedMesh{metrics: m, next: next}
}

type instrumentedMesh struct {
	metrics *Metrics
	next    resolver.Mesh
}

func (i *instrumentedMesh) Setup(ctx context.Context, setupKey string) error {
	start := time.Now()
	err := i.next.Setup(ctx, setupKey)
	i.metrics.MeshSetupDuration.Observe(time.Since(start).Seconds())
	i.metrics.MeshSetups.WithLabelValues(setupResult(err)).Inc()
	return err
}

// Connected forwards to next when it can report its connection state.
func (i *instrumentedMesh) Connected(ctx context.Context) bool {
	if checker, ok := i.next.(resolver.MeshChecker); ok {
		return checker.Connected(ctx)
	}
	return false
}

// setupResult maps a Setup error to its result label.
func setupResult(err error) string {
	if err == nil {
		return "ok"
	}
	var se *mesh.StageError
	if errors.As(err, &se) {
		return string(se.Stage)
	}
	return "error"
}
