package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ryvie/ryvie-launcher/internal/installer"
	"github.com/ryvie/ryvie-launcher/internal/mesh"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"github.com/ryvie/ryvie-launcher/pkg/bytesize"
	"github.com/spf13/cobra"
)

func newMeshCmd() *cobra.Command {
	meshCmd := &cobra.Command{
		Use:   "mesh",
		Short: "Manage the secure mesh (NetBird) client",
		Long: `Inspect and manage the NetBird client used to reach the Ryvie securely
when away from home. The launcher normally does this on its own after a
local connection.`,
	}

	meshCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the mesh client status",
		Args:  cobra.NoArgs,
		RunE: withMesh(func(ctx context.Context, w io.Writer, c *mesh.Controller, args []string) error {
			return meshStatus(ctx, w, c)
		}),
	})

	meshCmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Download and install the mesh client",
		Args:  cobra.NoArgs,
		RunE: withMesh(func(ctx context.Context, w io.Writer, c *mesh.Controller, args []string) error {
			if c.IsInstalled() {
				_, _ = fmt.Fprintf(w, "Already installed at %s\n", c.Platform().BinaryPath())
				return nil
			}
			_, _ = fmt.Fprintf(w, "Installing from %s\n", c.InstallerURL())
			err := c.InstallWithProgress(ctx, progressPrinter(w))
			_, _ = fmt.Fprintln(w)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(w, "Installed at %s\n", c.Platform().BinaryPath())
			return nil
		}),
	})

	meshCmd.AddCommand(&cobra.Command{
		Use:   "setup [setup-key | -]",
		Short: "Install if needed and join the mesh with a setup key",
		Long: `Install the mesh client if it is missing, log out of any previous
network and connect with a setup key.

The key is taken from, in order:
  - the argument; "-" reads it from the first line of stdin
  - the RYVIE_SETUP_KEY environment variable
  - the remembered Ryvie

A key passed as an argument is visible to other users in the process list
and is kept in shell history. Prefer stdin or the environment variable.

Examples:
  ryvie mesh setup
  printf '%s\n' "$KEY" | ryvie mesh setup -
  RYVIE_SETUP_KEY=... ryvie mesh setup`,
		Args: cobra.MaximumNArgs(1),
		RunE: runMeshSetup,
	})

	meshCmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Disconnect the mesh client",
		Args:  cobra.NoArgs,
		RunE: withMesh(func(ctx context.Context, w io.Writer, c *mesh.Controller, args []string) error {
			if !c.IsInstalled() {
				_, _ = fmt.Fprintln(w, "Mesh client is not installed")
				return nil
			}
			if err := c.Platform().Logout(ctx); err != nil {
				return fmt.Errorf("logout: %w", err)
			}
			_, _ = fmt.Fprintln(w, "Logged out")
			return nil
		}),
	})

	return meshCmd
}

type meshFunc func(ctx context.Context, w io.Writer, c *mesh.Controller, args []string) error

// withMesh loads the config and runs fn with a mesh controller.
func withMesh(fn meshFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return fn(ctx, cmd.OutOrStdout(), newApp(cfg).mesh, args)
	}
}

func meshStatus(ctx context.Context, w io.Writer, c *mesh.Controller) error {
	_, _ = fmt.Fprintf(w, "platform:   %s\n", c.Platform().Name())
	_, _ = fmt.Fprintf(w, "management: %s\n", c.ManagementURL())

	if !c.IsInstalled() {
		_, _ = fmt.Fprintln(w, "installed:  no")
		_, _ = fmt.Fprintf(w, "installer:  %s\n", c.InstallerURL())
		return nil
	}
	_, _ = fmt.Fprintf(w, "installed:  %s\n", c.Platform().BinaryPath())

	out, err := c.Status(ctx)
	if err != nil {
		return fmt.Errorf("mesh status: %w", err)
	}
	_, _ = fmt.Fprintf(w, "\n%s\n", out)
	return nil
}

func runMeshSetup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg)

	key, err := setupKeyFor(args, cmd.InOrStdin(), os.Getenv, a.store)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	_, _ = fmt.Fprintf(w, "Configuring mesh access with key %s\n", record.MaskSecret(key))
	if err := a.mesh.Setup(ctx, key); err != nil {
		var se *mesh.StageError
		if errors.As(err, &se) {
			return fmt.Errorf("mesh setup failed during %s: %w", se.Stage, se.Err)
		}
		return err
	}
	_, _ = fmt.Fprintln(w, "Connected to the mesh")
	return nil
}

// setupKeyEnv names the environment variable holding a setup key.
const setupKeyEnv = "RYVIE_SETUP_KEY"

// setupKeyFor returns the key from args ("-" reads the first line of in),
// else from the environment, else the remembered record's key.
func setupKeyFor(args []string, in io.Reader, getenv func(string) string, store recordStore) (string, error) {
	if len(args) == 1 {
		if args[0] != "-" {
			return args[0], nil
		}
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", fmt.Errorf("read setup key: %w", err)
		}
		key := strings.TrimSpace(line)
		if key == "" {
			return "", errors.New("no setup key on stdin")
		}
		return key, nil
	}

	if key := strings.TrimSpace(getenv(setupKeyEnv)); key != "" {
		return key, nil
	}

	rec, err := store.Load()
	if err != nil {
		return "", err
	}
	if rec == nil || rec.SetupKey == "" {
		return "", errors.New("no setup key given and none remembered; connect to the Ryvie's network first or pass a key")
	}
	return rec.SetupKey, nil
}

// progressPrinter renders download progress on one terminal line, once per
// percent, or once per MB when the size is unknown.
func progressPrinter(w io.Writer) installer.ProgressFunc {
	last := int64(-1)
	return func(downloaded, total int64) {
		step := downloaded / bytesize.MB
		if total > 0 {
			step = downloaded * 100 / total
		}
		if step == last {
			return
		}
		last = step
		_, _ = fmt.Fprintf(w, "\r  %s", bytesize.Progress(downloaded, total))
	}
}
