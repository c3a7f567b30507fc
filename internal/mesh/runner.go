package mesh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/record"
)

// DefaultCommandTimeout bounds a subprocess when the caller's context has no deadline.
const DefaultCommandTimeout = 15 * time.Second

// Output is the captured result of a subprocess.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runner runs external commands.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (Output, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, name string, args ...string) (Output, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, name string, args ...string) (Output, error) {
	return f(ctx, name, args...)
}

// ExecRunner runs commands with os/exec, capturing stdout and stderr.
type ExecRunner struct {
	Timeout time.Duration // Used when ctx has no deadline (default: DefaultCommandTimeout)
}

// Run executes name with args. A non-zero exit is returned as an error that
// includes the trimmed stderr.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (Output, error) {
	if _, ok := ctx.Deadline(); !ok {
		timeout := r.Timeout
		if timeout <= 0 {
			timeout = DefaultCommandTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	cmdline := CommandLine(name, args...)
	log.Debug().Str("cmd", cmdline).Msg("running command")

	err := cmd.Run()
	out := Output{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}
	if err == nil {
		return out, nil
	}

	out.ExitCode = -1
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
	}
	if ctx.Err() != nil {
		err = fmt.Errorf("%w (%v)", ctx.Err(), err)
	}

	log.Debug().
		Str("cmd", cmdline).
		Int("exit_code", out.ExitCode).
		Str("stderr", trimForLog(out.Stderr, 300)).
		Str("stdout", trimForLog(out.Stdout, 300)).
		Msg("command failed")

	if out.Stderr != "" {
		return out, fmt.Errorf("%s: %w: %s", name, err, trimForLog(out.Stderr, 300))
	}
	return out, fmt.Errorf("%s: %w", name, err)
}

// CommandLine renders a command for logging with setup keys masked.
func CommandLine(name string, args ...string) string {
	parts := make([]string, 0, len(args)+1)
	parts = append(parts, name)
	maskNext := false
	for _, a := range args {
		switch {
		case maskNext:
			a = record.MaskSecret(a)
			maskNext = false
		case a == "--setup-key":
			maskNext = true
		case strings.HasPrefix(a, "--setup-key="):
			a = "--setup-key=" + record.MaskSecret(strings.TrimPrefix(a, "--setup-key="))
		}
		parts = append(parts, a)
	}
	return strings.Join(parts, " ")
}

// trimForLog cuts s to at most limit bytes without splitting a rune.
func trimForLog(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	for limit > 0 && !utf8.RuneStart(s[limit]) {
		limit--
	}
	return s[:limit] + "..."
}
