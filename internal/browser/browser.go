// Package browser hands URLs to the operating system's default handler.
package browser

import (
	"context"
	"fmt"
	"net/url"
	"os/exec"
	"runtime"

	"github.com/rs/zerolog/log"
)

// Opener opens a URL in the user's browser.
type Opener interface {
	Open(ctx context.Context, rawURL string) error
}

// OpenerFunc is an adapter that allows using ordinary functions as Openers.
type OpenerFunc func(ctx context.Context, rawURL string) error

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, rawURL string) error {
	return f(ctx, rawURL)
}

// System opens URLs with the platform's default-handler command.
type System struct{}

// Open validates rawURL and starts the handler without waiting for it.
func (System) Open(ctx context.Context, rawURL string) error {
	if err := Validate(rawURL); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	// The handler outlives ctx; it is not tied to the caller's lifetime.
	name, args := command(runtime.GOOS, rawURL)
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()

	log.Debug().Str("url", rawURL).Str("handler", name).Msg("opened browser")
	return nil
}

// command returns the handler invocation for goos.
func command(goos, rawURL string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{rawURL}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", rawURL}
	default: // linux, freebsd, etc.
		return "xdg-open", []string{rawURL}
	}
}

// Validate accepts only absolute http and https URLs.
func Validate(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("refusing to open %q: only http and https URLs are supported", rawURL)
	}
	if u.Host == "" {
		return fmt.Errorf("refusing to open %q: missing host", rawURL)
	}
	return nil
}
