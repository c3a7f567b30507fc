package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/browser"
	"github.com/ryvie/ryvie-launcher/internal/launcher"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
	"github.com/spf13/cobra"
)

var (
	launchNoOpen bool
	launchQR     bool
	launchQRPNG  string
	launchBatch  bool
)

func newLaunchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch",
		Short: "Find the Ryvie and open it in the browser",
		Long: `Resolve how to reach the Ryvie and open it.

On the local network the Ryvie is opened directly and its secure mesh access
is configured in the background. Away from home the remembered public
address is used. If a different Ryvie answers on the local network you are
asked whether to switch to it.

Keys (followed by Enter):
  o  open in the browser      r  refresh / retry
  a  use the new Ryvie        x  keep the remembered one
  v  reveal or hide the id    q  quit`,
		Args: cobra.NoArgs,
		RunE: runLaunch,
	}
	cmd.Flags().BoolVar(&launchNoOpen, "no-open", false, "do not open the browser automatically")
	cmd.Flags().BoolVar(&launchQR, "qr", false, "print the resolved address as a QR code")
	cmd.Flags().StringVar(&launchQRPNG, "qr-png", "", "write the resolved address as a QR code PNG to this path")
	cmd.Flags().BoolVar(&launchBatch, "batch", false, "resolve once and exit without reading keys")
	return cmd
}

func runLaunch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)
	a.mesh.Cleanup()

	interactive := !launchBatch && isatty.IsTerminal(os.Stdin.Fd())
	renderer := launcher.NewTerminalRenderer(cmd.OutOrStdout(), interactive, launchQR || cfg.Launcher.QR)

	r := a.newResolver(a.mesh)
	defer r.Close()

	adapter := launcher.New(launcher.Config{
		Resolver:        r,
		Opener:          browser.System{},
		Renderer:        renderer,
		AutoOpenDelay:   cfg.AutoOpenDelay(),
		DisableAutoOpen: launchNoOpen,
	})
	r.AddObserver(adapter)

	if launchQRPNG != "" {
		r.AddObserver(qrFileObserver(launchQRPNG))
	}

	if !interactive {
		return runBatch(ctx, r, adapter)
	}

	go func() {
		if _, err := r.Run(ctx, resolver.TriggerInitial); err != nil {
			log.Debug().Err(err).Msg("initial resolution skipped")
		}
	}()

	if err := adapter.Loop(ctx, os.Stdin); err != nil {
		return err
	}
	waitBackground(ctx, r)
	return nil
}

// runBatch resolves once, waits for the automatic open and waits for a
// mesh setup started by the cycle. Identity changes are left unconfirmed.
func runBatch(ctx context.Context, r *resolver.Resolver, adapter *launcher.Adapter) error {
	snap, err := r.Run(ctx, resolver.TriggerInitial)
	if err != nil {
		return err
	}

	if auto := adapter.AutoOpener(); auto != nil {
		if err := auto.Wait(ctx); err != nil {
			return nil
		}
	}

	waitBackground(ctx, r)

	if snap.State == resolver.StateError {
		return exitError{code: 1}
	}
	return nil
}

// waitBackground waits for background mesh setups unless ctx ends first.
func waitBackground(ctx context.Context, r *resolver.Resolver) {
	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	case <-time.After(time.Second):
		log.Info().Msg("finishing secure connection setup, press Ctrl+C to skip")
		select {
		case <-done:
		case <-ctx.Done():
		}
	}
}

// qrFileObserver writes a PNG QR code of every connected URL to path.
func qrFileObserver(path string) resolver.Observer {
	var last string
	return resolver.ObserverFunc(func(s resolver.Snapshot) {
		if s.State != resolver.StateConnected || s.URL == "" || s.URL == last {
			return
		}
		if err := launcher.WriteQRPNG(s.URL, path, 256); err != nil {
			log.Warn().Err(err).Str("path", path).Msg("failed to write QR code")
			return
		}
		last = s.URL
		log.Info().Str("path", path).Msg("QR code written")
	})
}

// printSnapshot writes a one-shot summary of s.
func printSnapshot(w io.Writer, s resolver.Snapshot) {
	v := launcher.BuildView(s, false)
	switch v.Region {
	case launcher.RegionConnected:
		_, _ = fmt.Fprintf(w, "state:    %s\n", s.State)
		_, _ = fmt.Fprintf(w, "mode:     %s\n", v.Mode)
		_, _ = fmt.Fprintf(w, "identity: %s\n", v.Identity)
		_, _ = fmt.Fprintf(w, "url:      %s\n", v.URL)
		if v.Overlay {
			_, _ = fmt.Fprintf(w, "pending:  a different Ryvie (%s) answered; run 'ryvie' to confirm\n", v.NewID)
		}
	case launcher.RegionError:
		_, _ = fmt.Fprintf(w, "state:    %s\n", s.State)
		_, _ = fmt.Fprintf(w, "error:    %s\n", v.Message)
	default:
		_, _ = fmt.Fprintf(w, "state:    %s\n", s.State)
	}
}
