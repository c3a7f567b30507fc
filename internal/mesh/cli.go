package mesh

import (
	"context"
	"os"
	"os/exec"
)

// BinaryName is the mesh client executable name without extension.
const BinaryName = "netbird"

// client drives the mesh client's command line. Platforms embed it.
type client struct {
	runner     Runner
	candidates []string
}

// BinaryPath returns the first existing candidate path, then a PATH lookup,
// then the preferred candidate.
func (c *client) BinaryPath() string {
	for _, p := range c.candidates {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	if p, err := exec.LookPath(BinaryName); err == nil {
		return p
	}
	if len(c.candidates) > 0 {
		return c.candidates[0]
	}
	return BinaryName
}

// IsInstalled reports whether the mesh client binary exists.
func (c *client) IsInstalled() bool {
	p := c.BinaryPath()
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// Connect runs "up" against the management server with the setup key.
func (c *client) Connect(ctx context.Context, managementURL, setupKey string) error {
	_, err := c.runner.Run(ctx, c.BinaryPath(), "up", "--management-url", managementURL, "--setup-key", setupKey)
	return err
}

// Logout runs "logout".
func (c *client) Logout(ctx context.Context) error {
	_, err := c.runner.Run(ctx, c.BinaryPath(), "logout")
	return err
}

// Status returns the output of "status".
func (c *client) Status(ctx context.Context) (string, error) {
	out, err := c.runner.Run(ctx, c.BinaryPath(), "status")
	if err != nil {
		return "", err
	}
	return out.Stdout, nil
}
