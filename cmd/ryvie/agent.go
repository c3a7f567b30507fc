package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/config"
	"github.com/ryvie/ryvie-launcher/internal/metrics"
	"github.com/ryvie/ryvie-launcher/internal/netmon"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
	"github.com/ryvie/ryvie-launcher/internal/svc"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

func newAgentCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "agent",
		Short: "Keep the Ryvie connection up to date in the background",
		Long: `Run without a user interface. The agent resolves at start, again on every
network change and on a fixed interval, so the record stays current and the
mesh client stays connected.

Usually started by the login service (see 'ryvie service install').`,
		Args: cobra.NoArgs,
		RunE: runAgentCmd,
	}
}

func runAgentCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	closeLog := setupAgentLogging(cfg.LogPath(), cfg.LogLevel)
	defer closeLog()

	log.Info().
		Str("version", Version).
		Str("config", cfgFile).
		Str("data_dir", cfg.DataDir).
		Msg("starting agent")

	run := func(ctx context.Context) error {
		return runAgent(ctx, cfg)
	}

	if serviceRun {
		return svc.Run(&svc.Program{Run: run}, svc.DefaultServiceConfig(cfgFile))
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runAgent runs the agent until ctx is cancelled.
func runAgent(ctx context.Context, cfg *config.Config) error {
	a := newApp(cfg)
	a.mesh.Cleanup()

	m := metrics.InitMetrics(Version)
	r := a.newResolver(metrics.InstrumentMesh(m, a.mesh), metrics.NewCollector(m))
	defer r.Close()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		refresh(ctx, r, resolver.TriggerInitial)
		return tick(ctx, cfg.RefreshInterval(), func() {
			refresh(ctx, r, resolver.TriggerInterval)
		})
	})

	if cfg.WatchNetwork() {
		g.Go(func() error {
			return watchNetwork(ctx, r)
		})
	}

	if cfg.Agent.MetricsListen != "" {
		g.Go(func() error {
			return serveMetrics(ctx, cfg.Agent.MetricsListen)
		})
	}

	err := g.Wait()
	log.Info().Msg("agent stopped")
	return err
}

// refresh runs one cycle. A cycle already in flight covers this one.
func refresh(ctx context.Context, r *resolver.Resolver, trigger resolver.Trigger) {
	if _, err := r.Run(ctx, trigger); err != nil {
		if errors.Is(err, resolver.ErrBusy) {
			log.Debug().Str("trigger", trigger.String()).Msg("resolution in progress, skipping")
			return
		}
		log.Warn().Err(err).Str("trigger", trigger.String()).Msg("resolution failed")
	}
}

// tick calls fn every interval until ctx is done.
func tick(ctx context.Context, interval time.Duration, fn func()) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn()
		}
	}
}

// watchNetwork refreshes on network changes. Without a usable monitor the
// interval refresh still runs, so a monitor failure only logs.
func watchNetwork(ctx context.Context, r *resolver.Resolver) error {
	mon, err := netmon.New(netmon.DefaultConfig())
	if err != nil {
		log.Warn().Err(err).Msg("network monitor unavailable, relying on interval refresh")
		return nil
	}
	defer func() { _ = mon.Close() }()

	err = netmon.Watch(ctx, mon, func(ev netmon.Event) {
		log.Info().
			Str("change", ev.Type.String()).
			Str("interface", ev.Interface).
			Msg("network changed, re-resolving")
		refresh(ctx, r, resolver.TriggerNetwork)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("network monitor stopped")
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return nil
}

// serveMetrics serves /metrics on addr until ctx is done.
func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(metrics.Registry))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("metrics listener: %w", err)
	}
	log.Info().Str("addr", ln.Addr().String()).Msg("serving metrics")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("metrics server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	}
}
