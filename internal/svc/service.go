// Package svc installs the launcher agent as a per-user login service.
package svc

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/kardianos/service"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultName is the service name registered with the service manager.
	DefaultName = "ryvie-launcher"

	// ServiceRunFlag marks an agent process started by the service manager.
	ServiceRunFlag = "--service-run"
)

// ErrUnsupported is returned where no per-user service manager is available.
var ErrUnsupported = errors.New("per-user services are not supported on this platform")

// RunFunc runs the agent until ctx is cancelled.
type RunFunc func(ctx context.Context) error

// Program implements service.Interface for the kardianos/service library.
type Program struct {
	Run RunFunc

	ctx    context.Context
	cancel context.CancelFunc
	done   chan error
}

// Start is called when the service starts. It must not block.
func (p *Program) Start(s service.Service) error {
	p.ctx, p.cancel = context.WithCancel(context.Background())
	p.done = make(chan error, 1)

	go func() {
		if p.Run == nil {
			p.done <- errors.New("agent function not configured")
			return
		}
		p.done <- p.Run(p.ctx)
	}()

	return nil
}

// Stop cancels the agent and waits for it to return.
func (p *Program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	if p.done != nil {
		err := <-p.done
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
	}
	return nil
}

// ServiceConfig holds configuration for service installation.
type ServiceConfig struct {
	Name        string // Service name (default: DefaultName)
	DisplayName string
	Description string
	ConfigPath  string // Passed to the agent as --config when set
	LogLevel    string // Passed to the agent as --log-level when set
}

// DefaultServiceConfig returns the launcher agent's service definition.
func DefaultServiceConfig(configPath string) *ServiceConfig {
	return &ServiceConfig{
		Name:        DefaultName,
		DisplayName: "Ryvie Launcher Agent",
		Description: "Keeps the Ryvie connection and secure mesh access up to date",
		ConfigPath:  configPath,
	}
}

// Arguments returns the command line the service manager starts.
func (c *ServiceConfig) Arguments() []string {
	args := []string{"agent", ServiceRunFlag}
	if c.ConfigPath != "" {
		args = append(args, "--config", c.ConfigPath)
	}
	if c.LogLevel != "" {
		args = append(args, "--log-level", c.LogLevel)
	}
	return args
}

// NewServiceConfig creates a service.Config for goos from our ServiceConfig.
func NewServiceConfig(cfg *ServiceConfig, goos string) *service.Config {
	name := cfg.Name
	if name == "" {
		name = DefaultName
	}

	svcCfg := &service.Config{
		Name:        name,
		DisplayName: cfg.DisplayName,
		Description: cfg.Description,
		Arguments:   cfg.Arguments(),
		Option: service.KeyValue{
			"UserService": true,
		},
	}

	switch goos {
	case "linux":
		svcCfg.Dependencies = []string{"After=network-online.target"}
		svcCfg.Option["Restart"] = "on-failure"
		svcCfg.Option["RestartSec"] = "5"
	case "darwin":
		svcCfg.Option["KeepAlive"] = true
		svcCfg.Option["RunAtLoad"] = true
	}

	return svcCfg
}

// Supported reports whether goos has a per-user service manager.
func Supported(goos string) bool {
	return goos == "linux" || goos == "darwin"
}

// CreateService creates a new service instance.
func CreateService(prg *Program, cfg *ServiceConfig) (service.Service, error) {
	if !Supported(runtime.GOOS) {
		return nil, ErrUnsupported
	}
	return service.New(prg, NewServiceConfig(cfg, runtime.GOOS))
}

func control(cfg *ServiceConfig) (service.Service, error) {
	s, err := CreateService(&Program{}, cfg)
	if err != nil {
		return nil, fmt.Errorf("create service: %w", err)
	}
	return s, nil
}

// Install installs and starts the service. An existing installation is
// replaced only when force is set.
func Install(cfg *ServiceConfig, force bool) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}

	if status, err := s.Status(); err == nil {
		switch status {
		case service.StatusRunning:
			if !force {
				return fmt.Errorf("service %q is running; stop it first or use --force", s.String())
			}
			if err := s.Stop(); err != nil {
				log.Warn().Err(err).Msg("failed to stop service")
			}
			if err := s.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		case service.StatusStopped:
			if !force {
				return fmt.Errorf("service %q already installed; use --force to reinstall", s.String())
			}
			if err := s.Uninstall(); err != nil {
				log.Warn().Err(err).Msg("failed to uninstall service")
			}
		}
	}

	if err := s.Install(); err != nil {
		return fmt.Errorf("install service: %w", err)
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}

	if exe, err := os.Executable(); err == nil {
		log.Info().Str("executable", exe).Strs("args", cfg.Arguments()).Msg("service installed")
	}
	return nil
}

// Uninstall stops and removes the service.
func Uninstall(cfg *ServiceConfig) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}

	if status, _ := s.Status(); status == service.StatusRunning {
		if err := s.Stop(); err != nil {
			log.Warn().Err(err).Msg("failed to stop service")
		}
	}

	if err := s.Uninstall(); err != nil {
		return fmt.Errorf("uninstall service: %w", err)
	}
	return nil
}

// Start starts the service.
func Start(cfg *ServiceConfig) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}
	if err := s.Start(); err != nil {
		return fmt.Errorf("start service: %w", err)
	}
	return nil
}

// Stop stops the service.
func Stop(cfg *ServiceConfig) error {
	s, err := control(cfg)
	if err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		return fmt.Errorf("stop service: %w", err)
	}
	return nil
}

// Status returns the service status.
func Status(cfg *ServiceConfig) (service.Status, error) {
	s, err := control(cfg)
	if err != nil {
		return service.StatusUnknown, err
	}
	return s.Status()
}

// StatusString returns a human-readable status string.
func StatusString(status service.Status) string {
	switch status {
	case service.StatusRunning:
		return "running"
	case service.StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Run hands control to the service manager, which calls prg.Start and
// prg.Stop.
func Run(prg *Program, cfg *ServiceConfig) error {
	s, err := CreateService(prg, cfg)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}
	return s.Run()
}

// IsServiceMode reports whether args contain ServiceRunFlag.
func IsServiceMode(args []string) bool {
	for _, arg := range args {
		if arg == ServiceRunFlag {
			return true
		}
	}
	return false
}
