//go:build !linux && !darwin && !windows

package mesh

import "context"

type unsupportedPlatform struct {
	client
}

func newPlatform(opts Options) Platform {
	return &unsupportedPlatform{client: client{runner: opts.Runner}}
}

func (p *unsupportedPlatform) Name() string            { return "unsupported" }
func (p *unsupportedPlatform) InstallerURL() string    { return "" }
func (p *unsupportedPlatform) ArtifactPattern() string { return "" }
func (p *unsupportedPlatform) Cleanup()                {}

func (p *unsupportedPlatform) Install(context.Context, string) error {
	return ErrUnsupported
}
