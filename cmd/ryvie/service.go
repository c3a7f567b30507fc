package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ryvie/ryvie-launcher/internal/svc"
	"github.com/spf13/cobra"
)

var (
	forceInstall bool
	logsFollow   bool
	logsLines    int
)

func newServiceCmd() *cobra.Command {
	serviceCmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the background agent login service",
		Long: `Install and control the agent as a per-user service that starts at login.

Supported platforms:
  - Linux (systemd user unit)
  - macOS (launchd agent)

Examples:
  ryvie service install
  ryvie service status
  ryvie service logs --follow`,
	}

	installCmd := &cobra.Command{
		Use:   "install",
		Short: "Install and start the agent service",
		Args:  cobra.NoArgs,
		RunE:  runServiceInstall,
	}
	installCmd.Flags().BoolVarP(&forceInstall, "force", "f", false, "reinstall if the service already exists")
	serviceCmd.AddCommand(installCmd)

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := svc.Uninstall(serviceConfig()); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Service removed")
			return nil
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "start",
		Short: "Start the agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Start(serviceConfig())
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "stop",
		Short: "Stop the agent service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return svc.Stop(serviceConfig())
		},
	})

	serviceCmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the agent service status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := serviceConfig()
			status, err := svc.Status(cfg)
			if err != nil {
				return fmt.Errorf("service %q: %w", cfg.Name, err)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", cfg.Name, svc.StatusString(status))
			return nil
		},
	})

	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Show the agent log",
		Args:  cobra.NoArgs,
		RunE:  runServiceLogs,
	}
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "keep printing new lines")
	logsCmd.Flags().IntVarP(&logsLines, "lines", "n", 50, "number of lines to show")
	serviceCmd.AddCommand(logsCmd)

	return serviceCmd
}

// serviceConfig describes the service for the current --config and
// --log-level. A relative config path is made absolute since the service
// manager starts the agent elsewhere.
func serviceConfig() *svc.ServiceConfig {
	path := cfgFile
	if path != "" {
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
	}
	cfg := svc.DefaultServiceConfig(path)
	cfg.LogLevel = logLevel
	return cfg
}

func runServiceInstall(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}

	cfg := serviceConfig()
	if err := svc.Install(cfg, forceInstall); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Service %q installed and started\n", cfg.Name)
	return nil
}

func runServiceLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return svc.ViewLogs(ctx, svc.LogOptions{
		ServiceName: svc.DefaultName,
		Path:        cfg.LogPath(),
		Follow:      logsFollow,
		Lines:       logsLines,
		Out:         cmd.OutOrStdout(),
	})
}
