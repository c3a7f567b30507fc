// Package resolver decides how to reach the Ryvie: on the local network, through
// its public address, or not at all. Each transition publishes an immutable
// Snapshot to observers.
package resolver

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/probe"
	"github.com/ryvie/ryvie-launcher/internal/record"
)

// DefaultMeshTimeout bounds a background mesh setup started by a local commit.
const DefaultMeshTimeout = 10 * time.Minute

// Prober checks local and public reachability.
type Prober interface {
	Probe(ctx context.Context) probe.Result
	CheckReachable(ctx context.Context, url string) error
}

// Store persists the connection record.
type Store interface {
	Load() (*record.Record, error)
	Save(rec record.Record) error
}

// Mesh configures the mesh VPN client.
type Mesh interface {
	Setup(ctx context.Context, setupKey string) error
}

// MeshChecker is implemented by meshes that can tell whether the client is
// already connected.
type MeshChecker interface {
	Connected(ctx context.Context) bool
}

// Config holds resolver dependencies.
type Config struct {
	Prober      Prober
	Store       Store
	Mesh        Mesh   // Optional; without it setup keys are ignored
	LocalAppURL string // URL used for local mode

	// MeshTimeout bounds background mesh setup (default: DefaultMeshTimeout).
	MeshTimeout time.Duration

	Observers []Observer
}

// Resolver runs resolution cycles and identity-change decisions. At most one
// of Run, Accept and Refuse executes at a time; others return ErrBusy.
type Resolver struct {
	prober      Prober
	store       Store
	mesh        Mesh
	localAppURL string
	meshTimeout time.Duration
	session     string

	busy atomic.Bool

	mu        sync.RWMutex
	current   Snapshot
	cycle     uint64
	observers []Observer

	bgCtx    context.Context
	bgCancel context.CancelFunc
	bg       sync.WaitGroup
}

// New creates a resolver. The initial snapshot is Loading with cycle 0.
func New(cfg Config) *Resolver {
	if cfg.MeshTimeout <= 0 {
		cfg.MeshTimeout = DefaultMeshTimeout
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	session := uuid.NewString()

	return &Resolver{
		prober:      cfg.Prober,
		store:       cfg.Store,
		mesh:        cfg.Mesh,
		localAppURL: cfg.LocalAppURL,
		meshTimeout: cfg.MeshTimeout,
		session:     session,
		observers:   cfg.Observers,
		current: Snapshot{
			Session: session,
			State:   StateLoading,
			At:      time.Now(),
		},
		bgCtx:    bgCtx,
		bgCancel: bgCancel,
	}
}

// Session returns the session id stamped on every snapshot.
func (r *Resolver) Session() string {
	return r.session
}

// AddObserver adds an observer to receive snapshots.
func (r *Resolver) AddObserver(o Observer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observers = append(r.observers, o)
}

// Current returns the latest snapshot.
func (r *Resolver) Current() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.clone()
}

// Busy reports whether an operation is in flight.
func (r *Resolver) Busy() bool {
	return r.busy.Load()
}

// Wait blocks until background mesh setups finish.
func (r *Resolver) Wait() {
	r.bg.Wait()
}

// Close cancels background mesh setups and waits for them.
func (r *Resolver) Close() {
	r.bgCancel()
	r.bg.Wait()
}

// Run executes one resolution cycle and returns its final snapshot.
func (r *Resolver) Run(ctx context.Context, trigger Trigger) (Snapshot, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return r.Current(), ErrBusy
	}
	defer r.busy.Store(false)

	r.mu.Lock()
	r.cycle++
	cycle := r.cycle
	r.mu.Unlock()

	r.publish(Snapshot{State: StateLoading, Trigger: trigger, Cycle: cycle})

	stored := r.load()

	res := r.prober.Probe(ctx)
	if res.Success {
		return r.resolveLocal(cycle, trigger, stored, res), nil
	}

	log.Debug().
		Str("kind", KindProbeFailure.String()).
		Uint64("cycle", cycle).
		Msg("local probe failed, trying public address")

	return r.resolvePublic(ctx, cycle, trigger, stored), nil
}

// load reads the stored record. A read failure is logged and treated as no record.
func (r *Resolver) load() *record.Record {
	stored, err := r.store.Load()
	if err != nil {
		log.Error().
			Err(err).
			Str("kind", KindPersistenceFailure.String()).
			Msg("failed to load connection record, continuing without it")
		return nil
	}
	return stored
}

func (r *Resolver) save(rec record.Record) {
	if err := r.store.Save(rec); err != nil {
		log.Error().
			Err(err).
			Str("kind", KindPersistenceFailure.String()).
			Msg("failed to save connection record, continuing with in-memory state")
	}
}

func (r *Resolver) resolveLocal(cycle uint64, trigger Trigger, stored *record.Record, res probe.Result) Snapshot {
	candidate := record.Record{
		Mode:       record.ModeLocal,
		RyvieID:    res.DeviceID,
		Domains:    res.Domains,
		TunnelHost: res.TunnelHost,
		SetupKey:   res.SetupKey,
	}.Clone()

	if stored != nil && stored.RyvieID != "" && stored.RyvieID != candidate.RyvieID {
		log.Warn().
			Str("previous_id", record.MaskSecret(stored.RyvieID)).
			Str("probed_id", record.MaskSecret(candidate.RyvieID)).
			Msg("a different Ryvie answered on the local network")

		return r.publish(Snapshot{
			State:   StateAwaitingIdentityConfirmation,
			Trigger: trigger,
			Cycle:   cycle,
			Record:  stored,
			URL:     stored.URL(r.localAppURL),
			Pending: &Pending{Candidate: candidate, PreviousID: stored.RyvieID},
		})
	}

	r.save(candidate)
	snap := r.publish(Snapshot{
		State:   StateConnected,
		Trigger: trigger,
		Cycle:   cycle,
		Record:  &candidate,
		URL:     r.localAppURL,
	})

	if candidate.SetupKey != "" {
		r.setupAsync(candidate.SetupKey, stored != nil && stored.SetupKey == candidate.SetupKey)
	}
	return snap
}

func (r *Resolver) resolvePublic(ctx context.Context, cycle uint64, trigger Trigger, stored *record.Record) Snapshot {
	if stored == nil || !stored.HasPublicTarget() {
		return r.publish(Snapshot{
			State:   StateError,
			Trigger: trigger,
			Cycle:   cycle,
			Record:  stored,
			Err:     &Error{Kind: KindNoUsableConfiguration, Message: MsgFirstTimeLocal},
		})
	}

	url, err := stored.PublicURL()
	if err != nil {
		return r.publish(Snapshot{
			State:   StateError,
			Trigger: trigger,
			Cycle:   cycle,
			Record:  stored,
			Err:     &Error{Kind: KindNoUsableConfiguration, Message: MsgIncompleteConfig, Err: err},
		})
	}

	if err := r.prober.CheckReachable(ctx, url); err != nil {
		return r.publish(Snapshot{
			State:   StateError,
			Trigger: trigger,
			Cycle:   cycle,
			Record:  stored,
			URL:     url,
			Err:     &Error{Kind: KindPublicUnreachable, Message: MsgDeviceUnreachable, Err: err},
		})
	}

	public := stored.WithMode(record.ModePublic)
	return r.publish(Snapshot{
		State:   StateConnected,
		Trigger: trigger,
		Cycle:   cycle,
		Record:  &public,
		URL:     url,
	})
}

// setupAsync re-asserts the mesh connection without blocking the cycle.
// With an unchanged key and a client reporting itself connected, nothing
// runs, so periodic refreshes do not drop the tunnel. Failures are logged only.
func (r *Resolver) setupAsync(setupKey string, unchanged bool) {
	if r.mesh == nil {
		return
	}

	r.bg.Add(1)
	go func() {
		defer r.bg.Done()

		ctx, cancel := context.WithTimeout(r.bgCtx, r.meshTimeout)
		defer cancel()

		if checker, ok := r.mesh.(MeshChecker); ok && unchanged && checker.Connected(ctx) {
			log.Debug().Msg("mesh client already connected with the remembered key, skipping setup")
			return
		}

		if err := r.mesh.Setup(ctx, setupKey); err != nil {
			log.Warn().
				Err(err).
				Str("kind", KindMeshSetupFailure.String()).
				Str("setup_key", record.MaskSecret(setupKey)).
				Msg("background mesh setup failed")
			return
		}
		log.Debug().Msg("background mesh setup complete")
	}()
}

// Accept commits the pending identity change. When the candidate carries a
// setup key the mesh is configured first; if that fails nothing is saved,
// the change stays pending and the error is returned.
func (r *Resolver) Accept(ctx context.Context) (Snapshot, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return r.Current(), ErrBusy
	}
	defer r.busy.Store(false)

	cur := r.Current()
	if cur.State != StateAwaitingIdentityConfirmation || cur.Pending == nil {
		return cur, ErrNoPendingChange
	}
	candidate := cur.Pending.Candidate

	if candidate.SetupKey != "" && r.mesh != nil {
		if err := r.mesh.Setup(ctx, candidate.SetupKey); err != nil {
			failed := cur
			failed.Err = &Error{Kind: KindMeshSetupFailure, Message: MsgMeshSetupFailed, Err: err}
			return r.publish(failed), failed.Err
		}
	}

	r.save(candidate)

	log.Info().
		Str("previous_id", record.MaskSecret(cur.Pending.PreviousID)).
		Str("ryvie_id", record.MaskSecret(candidate.RyvieID)).
		Msg("accepted new Ryvie identity")

	return r.publish(Snapshot{
		State:   StateConnected,
		Trigger: cur.Trigger,
		Cycle:   cur.Cycle,
		Record:  &candidate,
		URL:     r.localAppURL,
	}), nil
}

// Refuse drops the pending identity change and switches the displayed record
// to public mode. Storage is not touched. The public address is not checked,
// so the result is published as a manual transition and never auto-opened.
func (r *Resolver) Refuse(ctx context.Context) (Snapshot, error) {
	if !r.busy.CompareAndSwap(false, true) {
		return r.Current(), ErrBusy
	}
	defer r.busy.Store(false)

	cur := r.Current()
	if cur.State != StateAwaitingIdentityConfirmation || cur.Pending == nil {
		return cur, ErrNoPendingChange
	}

	log.Info().
		Str("ryvie_id", record.MaskSecret(cur.Pending.PreviousID)).
		Msg("refused new Ryvie identity, keeping the remembered one over its public address")

	if cur.Record == nil || !cur.Record.HasPublicTarget() {
		return r.publish(Snapshot{
			State:   StateError,
			Trigger: TriggerManual,
			Cycle:   cur.Cycle,
			Record:  cur.Record,
			Err:     &Error{Kind: KindNoUsableConfiguration, Message: MsgIncompleteConfig, Err: record.ErrNoPublicTarget},
		}), nil
	}

	public := cur.Record.WithMode(record.ModePublic)
	url, _ := public.PublicURL()

	return r.publish(Snapshot{
		State:   StateConnected,
		Trigger: TriggerManual,
		Cycle:   cur.Cycle,
		Record:  &public,
		URL:     url,
	}), nil
}

// publish stamps, stores and fans out a snapshot, returning the stored copy.
func (r *Resolver) publish(s Snapshot) Snapshot {
	s.Session = r.session
	s.At = time.Now()
	s = s.clone()

	r.mu.Lock()
	r.current = s
	observers := make([]Observer, len(r.observers))
	copy(observers, r.observers)
	r.mu.Unlock()

	for _, o := range observers {
		o.OnSnapshot(s.clone())
	}
	return s.clone()
}
