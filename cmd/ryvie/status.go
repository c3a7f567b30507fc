package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ryvie/ryvie-launcher/internal/browser"
	"github.com/ryvie/ryvie-launcher/internal/launcher"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/internal/resolver"
	"github.com/spf13/cobra"
)

var recordReveal bool

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Resolve once and print how the Ryvie is reached",
		Long: `Run one resolution and print the result. The mesh client is not
configured by this command.

Exits with status 1 when no usable address was found.`,
		Args: cobra.NoArgs,
		RunE: runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newApp(cfg).newResolver(nil)
	defer r.Close()

	snap, err := r.Run(ctx, resolver.TriggerManual)
	if err != nil {
		return err
	}

	printSnapshot(cmd.OutOrStdout(), snap)
	if snap.State == resolver.StateError {
		return exitError{code: 1}
	}
	return nil
}

func newOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open",
		Short: "Resolve once and open the Ryvie in the browser",
		Args:  cobra.NoArgs,
		RunE:  runOpen,
	}
}

func runOpen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := newApp(cfg).newResolver(nil)
	defer r.Close()

	snap, err := r.Run(ctx, resolver.TriggerManual)
	if err != nil {
		return err
	}

	switch snap.State {
	case resolver.StateConnected:
		if err := (browser.System{}).Open(ctx, snap.URL); err != nil {
			return fmt.Errorf("open browser: %w", err)
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Opened %s (%s)\n", snap.URL, launcher.ModeLabel(snap.Mode()))
		return nil
	case resolver.StateAwaitingIdentityConfirmation:
		return errors.New("a different Ryvie answered on your network; run 'ryvie' to confirm the change")
	default:
		printSnapshot(cmd.ErrOrStderr(), snap)
		return exitError{code: 1}
	}
}

func newRecordCmd() *cobra.Command {
	recordCmd := &cobra.Command{
		Use:   "record",
		Short: "Show or forget the remembered Ryvie",
	}

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the remembered connection record",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return showRecord(cmd.OutOrStdout(), newApp(cfg).store, recordReveal)
		},
	}
	showCmd.Flags().BoolVar(&recordReveal, "reveal", false, "show the identity and setup key unmasked")
	recordCmd.AddCommand(showCmd)

	recordCmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "Forget the remembered Ryvie",
		Long: `Delete the connection record. The next launch must happen on the same
network as the Ryvie.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store := newApp(cfg).store
			if err := store.Clear(); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", store.Path())
			return nil
		},
	})

	return recordCmd
}

// recordStore is the part of record.Store the record commands use.
type recordStore interface {
	Load() (*record.Record, error)
	Path() string
}

func showRecord(w io.Writer, store recordStore, reveal bool) error {
	rec, err := store.Load()
	if err != nil {
		return err
	}
	if rec == nil {
		_, _ = fmt.Fprintf(w, "No Ryvie remembered yet (%s)\n", store.Path())
		return nil
	}

	shown := rec.Clone()
	if !reveal {
		shown.RyvieID = launcher.MaskIdentity(shown.RyvieID)
		shown.SetupKey = record.MaskSecret(shown.SetupKey)
	}

	out := struct {
		record.Record
		PublicURL string `json:"publicUrl,omitempty"`
		File      string `json:"file"`
	}{Record: shown, File: store.Path()}
	if url, err := rec.PublicURL(); err == nil {
		out.PublicURL = url
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
