//go:build linux

package mesh

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/ryvie/ryvie-launcher/internal/installer"
)

// DefaultInstallDir is where the client binary is placed on Linux.
const DefaultInstallDir = "/usr/local/bin"

type linuxPlatform struct {
	client
	installDir string
}

func newPlatform(opts Options) Platform {
	dir := opts.InstallDir
	if dir == "" {
		dir = DefaultInstallDir
	}
	return &linuxPlatform{
		client: client{
			runner:     opts.Runner,
			candidates: []string{filepath.Join(dir, BinaryName), "/usr/bin/netbird"},
		},
		installDir: dir,
	}
}

func (p *linuxPlatform) Name() string { return "linux" }

func (p *linuxPlatform) InstallerURL() string {
	return "https://pkgs.netbird.io/linux/" + runtime.GOARCH
}

func (p *linuxPlatform) ArtifactPattern() string { return "netbird-*.tar.gz" }

// Install unpacks the binary, places it in the install directory and
// registers the client's system service. Without root the privileged part
// runs under one pkexec prompt.
func (p *linuxPlatform) Install(ctx context.Context, artifact string) error {
	tmpDir, err := os.MkdirTemp("", "ryvie-netbird-*")
	if err != nil {
		return fmt.Errorf("create temp dir: %w", err)
	}
	defer func() { _ = os.RemoveAll(tmpDir) }()

	bin, err := installer.ExtractBinary(artifact, BinaryName, tmpDir)
	if err != nil {
		return err
	}

	dest := filepath.Join(p.installDir, BinaryName)

	if os.Geteuid() != 0 {
		script := `install -m 0755 "$1" "$2" && { "$2" service install || true; } && "$2" service start`
		_, err := p.runner.Run(ctx, "pkexec", "sh", "-c", script, "sh", bin, dest)
		return err
	}

	if err := installer.Place(bin, dest, 0755); err != nil {
		return err
	}
	if _, err := p.runner.Run(ctx, dest, "service", "install"); err != nil {
		log.Debug().Err(err).Msg("netbird service install failed, assuming already installed")
	}
	_, err = p.runner.Run(ctx, dest, "service", "start")
	return err
}

func (p *linuxPlatform) Cleanup() {}
