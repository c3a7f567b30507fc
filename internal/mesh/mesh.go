// Package mesh installs and drives the NetBird mesh VPN client.
//
// A Platform knows how one operating system installs and runs the client.
// The Controller wraps a Platform with download, timeouts and the composite
// install-if-absent, logout, connect sequence.
package mesh

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/installer"
	"github.com/ryvie/ryvie-launcher/internal/record"
	"golang.org/x/sync/singleflight"
)

// DefaultManagementURL is the Ryvie mesh management server.
const DefaultManagementURL = "https://netbird.ryvie.fr"

// Default operation bounds.
const (
	DefaultDownloadTimeout = 5 * time.Minute
	DefaultInstallTimeout  = 5 * time.Minute
	DefaultConnectTimeout  = 30 * time.Second
)

// ErrEmptySetupKey is returned by Setup when no key is given.
var ErrEmptySetupKey = errors.New("setup key is empty")

// ErrUnsupported is returned on platforms without a mesh client integration.
var ErrUnsupported = errors.New("mesh client not supported on this platform")

// Stage identifies which step of a mesh operation failed.
type Stage string

const (
	StageDownload Stage = "download"
	StageInstall  Stage = "install"
	StageConnect  Stage = "connect"
)

// StageError is a mesh failure tagged with the stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("mesh %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Platform is the per-OS mesh client integration.
type Platform interface {
	// Name identifies the platform in logs.
	Name() string
	BinaryPath() string
	IsInstalled() bool
	// InstallerURL returns the default installer download URL.
	InstallerURL() string
	// ArtifactPattern is the temp file pattern for the downloaded installer.
	ArtifactPattern() string
	// Install runs the downloaded installer at artifact.
	Install(ctx context.Context, artifact string) error
	Connect(ctx context.Context, managementURL, setupKey string) error
	Logout(ctx context.Context) error
	Status(ctx context.Context) (string, error)
	// Cleanup removes installer side effects such as desktop shortcuts.
	Cleanup()
}

// Options configures a Controller.
type Options struct {
	ManagementURL   string
	InstallDir      string // Linux only
	InstallerURL    string // Overrides the platform default
	InstallerSHA256 string // Optional checksum of the installer
	MaxInstallSize  int64
	DownloadTimeout time.Duration
	InstallTimeout  time.Duration
	ConnectTimeout  time.Duration
	CommandTimeout  time.Duration
	Runner          Runner
}

func (o *Options) applyDefaults() {
	if o.ManagementURL == "" {
		o.ManagementURL = DefaultManagementURL
	}
	if o.DownloadTimeout <= 0 {
		o.DownloadTimeout = DefaultDownloadTimeout
	}
	if o.InstallTimeout <= 0 {
		o.InstallTimeout = DefaultInstallTimeout
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = DefaultConnectTimeout
	}
	if o.CommandTimeout <= 0 {
		o.CommandTimeout = DefaultCommandTimeout
	}
	if o.Runner == nil {
		o.Runner = ExecRunner{Timeout: o.CommandTimeout}
	}
}

// Controller installs, connects and disconnects the mesh client.
type Controller struct {
	platform   Platform
	opts       Options
	downloader *installer.Downloader

	mu    sync.Mutex // serializes Setup
	group singleflight.Group
}

// New creates a controller for the current operating system.
func New(opts Options) *Controller {
	opts.applyDefaults()
	return NewWithPlatform(newPlatform(opts), opts)
}

// NewWithPlatform creates a controller around an explicit platform.
func NewWithPlatform(p Platform, opts Options) *Controller {
	opts.applyDefaults()
	return &Controller{
		platform: p,
		opts:     opts,
		downloader: installer.NewDownloader(installer.Config{
			Timeout: opts.DownloadTimeout,
			MaxSize: opts.MaxInstallSize,
		}),
	}
}

// Platform returns the underlying platform.
func (c *Controller) Platform() Platform {
	return c.platform
}

// ManagementURL returns the management server URL used by Connect.
func (c *Controller) ManagementURL() string {
	return c.opts.ManagementURL
}

// InstallerURL returns the URL Install downloads from.
func (c *Controller) InstallerURL() string {
	if c.opts.InstallerURL != "" {
		return c.opts.InstallerURL
	}
	return c.platform.InstallerURL()
}

// IsInstalled reports whether the mesh client is present.
func (c *Controller) IsInstalled() bool {
	return c.platform.IsInstalled()
}

// Install downloads and runs the platform installer. It does not retry.
func (c *Controller) Install(ctx context.Context) error {
	return c.InstallWithProgress(ctx, nil)
}

// InstallWithProgress is Install reporting download progress to progressFn,
// which may be nil.
func (c *Controller) InstallWithProgress(ctx context.Context, progressFn installer.ProgressFunc) error {
	url := c.InstallerURL()
	log.Info().Str("platform", c.platform.Name()).Str("url", url).Msg("downloading mesh client installer")

	artifact, err := c.downloader.Download(ctx, url, c.platform.ArtifactPattern(), progressFn)
	if err != nil {
		return &StageError{Stage: StageDownload, Err: err}
	}
	defer func() { _ = os.Remove(artifact) }()

	if err := installer.VerifyChecksum(artifact, c.opts.InstallerSHA256); err != nil {
		return &StageError{Stage: StageDownload, Err: err}
	}

	installCtx, cancel := context.WithTimeout(ctx, c.opts.InstallTimeout)
	defer cancel()

	log.Info().Str("platform", c.platform.Name()).Msg("running mesh client installer")
	if err := c.platform.Install(installCtx, artifact); err != nil {
		return &StageError{Stage: StageInstall, Err: err}
	}

	c.platform.Cleanup()

	if !c.platform.IsInstalled() {
		return &StageError{Stage: StageInstall, Err: fmt.Errorf("%s not found after install", c.platform.BinaryPath())}
	}

	log.Info().Str("path", c.platform.BinaryPath()).Msg("mesh client installed")
	return nil
}

// Logout disconnects the client from its current account. Failures mean
// there was nothing to log out from and are not returned.
func (c *Controller) Logout(ctx context.Context) error {
	if !c.platform.IsInstalled() {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	if err := c.platform.Logout(ctx); err != nil {
		log.Debug().Err(err).Msg("mesh logout failed, treating as already logged out")
	}
	return nil
}

// Connect brings the client up with setupKey.
func (c *Controller) Connect(ctx context.Context, setupKey string) error {
	if !c.platform.IsInstalled() {
		return &StageError{Stage: StageConnect, Err: errors.New("mesh client is not installed")}
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.ConnectTimeout)
	defer cancel()

	if err := c.platform.Connect(ctx, c.opts.ManagementURL, setupKey); err != nil {
		return &StageError{Stage: StageConnect, Err: err}
	}

	log.Info().
		Str("management_url", c.opts.ManagementURL).
		Str("setup_key", record.MaskSecret(setupKey)).
		Msg("mesh client connected")
	return nil
}

// Status returns the client's status output.
func (c *Controller) Status(ctx context.Context) (string, error) {
	if !c.platform.IsInstalled() {
		return "", errors.New("mesh client is not installed")
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.CommandTimeout)
	defer cancel()

	return c.platform.Status(ctx)
}

// Connected reports whether the client is installed and its status shows the
// management server as connected.
func (c *Controller) Connected(ctx context.Context) bool {
	out, err := c.Status(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("mesh status unavailable")
		return false
	}
	return managementConnected(out)
}

// managementConnected looks for a "Management: Connected" line in the
// client's status output.
func managementConnected(status string) bool {
	for _, line := range strings.Split(status, "\n") {
		key, value, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || !strings.EqualFold(strings.TrimSpace(key), "management") {
			continue
		}
		return strings.EqualFold(strings.TrimSpace(value), "connected")
	}
	return false
}

// Setup installs the client if absent, logs out, and connects with setupKey.
// Concurrent calls never interleave; calls for the same key share one run.
func (c *Controller) Setup(ctx context.Context, setupKey string) error {
	setupKey = strings.TrimSpace(setupKey)
	if setupKey == "" {
		return ErrEmptySetupKey
	}

	_, err, shared := c.group.Do(setupKey, func() (any, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return nil, c.setup(ctx, setupKey)
	})
	if shared {
		log.Debug().Str("setup_key", record.MaskSecret(setupKey)).Msg("joined in-flight mesh setup")
	}
	return err
}

func (c *Controller) setup(ctx context.Context, setupKey string) error {
	log.Info().Str("setup_key", record.MaskSecret(setupKey)).Msg("setting up mesh client")

	if !c.platform.IsInstalled() {
		if err := c.Install(ctx); err != nil {
			return err
		}
	}

	if err := c.Logout(ctx); err != nil {
		return err
	}

	return c.Connect(ctx, setupKey)
}

// Cleanup removes installer leftovers. Safe to call at every startup.
func (c *Controller) Cleanup() {
	c.platform.Cleanup()
}
