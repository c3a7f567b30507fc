//go:build windows

package mesh

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/windows"
)

// shortcutName is the desktop shortcut the NetBird installer creates.
const shortcutName = "NetBird.lnk"

type windowsPlatform struct {
	client
}

func newPlatform(opts Options) Platform {
	programFiles := os.Getenv("ProgramFiles")
	if programFiles == "" {
		programFiles = `C:\Program Files`
	}
	return &windowsPlatform{
		client: client{
			runner:     opts.Runner,
			candidates: []string{filepath.Join(programFiles, "Netbird", "netbird.exe")},
		},
	}
}

func (p *windowsPlatform) Name() string { return "windows" }

func (p *windowsPlatform) InstallerURL() string {
	return "https://pkgs.netbird.io/windows/x64"
}

func (p *windowsPlatform) ArtifactPattern() string { return "netbird-installer-*.exe" }

// Install runs the installer silently.
func (p *windowsPlatform) Install(ctx context.Context, artifact string) error {
	_, err := p.runner.Run(ctx, artifact, "/S")
	return err
}

// Cleanup removes the shortcut the installer drops on the public and
// per-user desktops.
func (p *windowsPlatform) Cleanup() {
	for _, id := range []*windows.KNOWNFOLDERID{windows.FOLDERID_PublicDesktop, windows.FOLDERID_Desktop} {
		dir, err := windows.KnownFolderPath(id, 0)
		if err != nil {
			log.Debug().Err(err).Msg("resolve desktop folder")
			continue
		}
		path := filepath.Join(dir, shortcutName)
		if err := os.Remove(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Debug().Err(err).Str("path", path).Msg("remove desktop shortcut")
			}
			continue
		}
		log.Debug().Str("path", path).Msg("removed desktop shortcut")
	}
}
