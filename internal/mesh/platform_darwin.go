//go:build darwin

package mesh

import (
	"context"
	"os"
	"runtime"
	"strings"
)

type darwinPlatform struct {
	client
}

func newPlatform(opts Options) Platform {
	return &darwinPlatform{
		client: client{
			runner: opts.Runner,
			candidates: []string{
				"/usr/local/bin/netbird",
				"/Applications/NetBird.app/Contents/MacOS/netbird",
			},
		},
	}
}

func (p *darwinPlatform) Name() string { return "darwin" }

func (p *darwinPlatform) InstallerURL() string {
	return "https://pkgs.netbird.io/macos/" + runtime.GOARCH
}

func (p *darwinPlatform) ArtifactPattern() string { return "netbird-*.pkg" }

// Install runs the package installer, asking for administrator rights
// through osascript when not running as root.
func (p *darwinPlatform) Install(ctx context.Context, artifact string) error {
	if os.Geteuid() == 0 {
		_, err := p.runner.Run(ctx, "installer", "-pkg", artifact, "-target", "/")
		return err
	}

	script := `do shell script "installer -pkg " & quoted form of "` + appleScriptEscape(artifact) +
		`" & " -target /" with administrator privileges`
	_, err := p.runner.Run(ctx, "osascript", "-e", script)
	return err
}

func (p *darwinPlatform) Cleanup() {}

func appleScriptEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `"`, `\"`)
}
