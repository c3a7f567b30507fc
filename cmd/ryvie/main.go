// ryvie finds the user's Ryvie on the local network or through its public
// address and opens it in the browser.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/config"
	"github.com/ryvie/ryvie-launcher/internal/svc"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	cfgFile  string
	logLevel string

	// Hidden; set when the service manager starts the agent
	serviceRun bool
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	launchCmd := newLaunchCmd()

	rootCmd := &cobra.Command{
		Use:   "ryvie",
		Short: "Ryvie launcher - reach your Ryvie at home or away",
		Long: `Ryvie finds your Ryvie on the local network, falls back to its public
address when you are away, and opens it in your browser.

The first connection must happen on the same network as the Ryvie. After
that, the launcher remembers it and keeps secure mesh access configured.

Examples:
  # Find the Ryvie and open it
  ryvie

  # Print the address and a QR code for your phone, without opening a browser
  ryvie launch --no-open --qr

  # Keep the connection up to date in the background
  ryvie service install`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE:          launchCmd.RunE,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if svc.IsServiceMode(os.Args) || cmd.Name() == "agent" {
				return // the agent configures its own logging
			}
			setupLogging()
		},
	}
	rootCmd.Flags().AddFlagSet(launchCmd.Flags())

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "l", "", "log level (default: warn; the agent uses log_level from the config)")

	rootCmd.PersistentFlags().BoolVar(&serviceRun, "service-run", false, "Run under the service manager (internal use)")
	_ = rootCmd.PersistentFlags().MarkHidden("service-run")

	rootCmd.AddCommand(launchCmd)
	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newOpenCmd())
	rootCmd.AddCommand(newRecordCmd())
	rootCmd.AddCommand(newMeshCmd())
	rootCmd.AddCommand(newAgentCmd())
	rootCmd.AddCommand(newServiceCmd())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "ryvie %s\n", Version)
			_, _ = fmt.Fprintf(out, "  Commit:     %s\n", Commit)
			_, _ = fmt.Fprintf(out, "  Build Time: %s\n", BuildTime)
			_, _ = fmt.Fprintf(out, "  OS/Arch:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
		},
	})

	return rootCmd
}

// exitError carries a process exit code without printing anything more.
type exitError struct {
	code int
}

func (e exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setupLogging writes human-readable logs to stderr. Interactive commands
// default to warn so log lines do not interleave with the view.
func setupLogging() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(parseLevel(logLevel, zerolog.WarnLevel))

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// setupAgentLogging writes to stderr and appends to the agent log file,
// since service managers do not reliably keep stderr. The level comes from
// --log-level, then the config file.
func setupAgentLogging(logPath, configLevel string) func() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(parseLevel(logLevel, parseLevel(configLevel, zerolog.InfoLevel)))

	if err := os.MkdirAll(filepath.Dir(logPath), 0o700); err == nil {
		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err == nil {
			multi := io.MultiWriter(logFile, os.Stderr)
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: multi, TimeFormat: time.RFC3339, NoColor: true})
			return func() { _ = logFile.Close() }
		}
	}

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	return func() {}
}

func parseLevel(s string, fallback zerolog.Level) zerolog.Level {
	if s == "" {
		return fallback
	}
	level, err := zerolog.ParseLevel(s)
	if err != nil {
		return fallback
	}
	return level
}
