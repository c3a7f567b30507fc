package svc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"time"
)

// LogOptions configures log viewing behavior.
type LogOptions struct {
	ServiceName string
	Path        string // Agent log file
	Follow      bool
	Lines       int
	Out         io.Writer

	// PollInterval is how often a followed file is checked for growth.
	PollInterval time.Duration
}

// ViewLogs prints the last lines of the agent log and optionally follows it.
// On Linux a missing log file falls back to the user journal.
func ViewLogs(ctx context.Context, opts LogOptions) error {
	if opts.Lines <= 0 {
		opts.Lines = 50
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	if _, err := os.Stat(opts.Path); errors.Is(err, os.ErrNotExist) {
		if runtime.GOOS == "linux" && opts.ServiceName != "" {
			return viewJournal(ctx, opts)
		}
		_, _ = fmt.Fprintf(opts.Out, "No log file found at %s\n", opts.Path)
		return nil
	}

	lines, offset, err := TailLines(opts.Path, opts.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		_, _ = fmt.Fprintln(opts.Out, line)
	}

	if !opts.Follow {
		return nil
	}
	return follow(ctx, opts.Path, offset, opts.Out, opts.PollInterval)
}

// TailLines returns the last n lines of path and the file size read.
func TailLines(path string, n int) ([]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open log: %w", err)
	}
	defer func() { _ = f.Close() }()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = append(ring[1:], scanner.Text())
			continue
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log: %w", err)
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, 0, fmt.Errorf("read log: %w", err)
	}
	return ring, offset, nil
}

// follow copies data appended to path after offset until ctx is done. A
// truncated file is read again from the start.
func follow(ctx context.Context, path string, offset int64, w io.Writer, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if info.Size() < offset {
			offset = 0
		}
		if info.Size() == offset {
			continue
		}

		f, err := os.Open(path)
		if err != nil {
			continue
		}
		if _, err := f.Seek(offset, io.SeekStart); err == nil {
			n, _ := io.Copy(w, f)
			offset += n
		}
		_ = f.Close()
	}
}

// viewJournal reads the user journal of the systemd user unit.
func viewJournal(ctx context.Context, opts LogOptions) error {
	args := []string{"--user", "-u", opts.ServiceName, "-n", strconv.Itoa(opts.Lines), "--no-pager"}
	if opts.Follow {
		args = append(args, "-f")
	}

	cmd := exec.CommandContext(ctx, "journalctl", args...)
	cmd.Stdout = opts.Out
	cmd.Stderr = os.Stderr

	return cmd.Run()
}
