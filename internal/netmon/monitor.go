// Package netmon watches for network changes that may move the launcher
// between the Ryvie's local network and the outside world.
package netmon

import (
	"context"
	"net"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
)

// ChangeType represents the type of network change detected.
type ChangeType int

const (
	ChangeUnknown ChangeType = iota
	ChangeAddressAdded
	ChangeAddressRemoved
	ChangeInterfaceUp
	ChangeInterfaceDown
)

// String returns a string representation of the change type.
func (c ChangeType) String() string {
	switch c {
	case ChangeAddressAdded:
		return "address_added"
	case ChangeAddressRemoved:
		return "address_removed"
	case ChangeInterfaceUp:
		return "interface_up"
	case ChangeInterfaceDown:
		return "interface_down"
	default:
		return "unknown"
	}
}

// Event represents a network change event.
type Event struct {
	Type      ChangeType
	Interface string
	Address   net.IP
	Timestamp time.Time
	Coalesced int // raw events merged into this one by the debouncer
}

// Monitor watches for network interface changes.
type Monitor interface {
	// Start begins monitoring. Debounced events are sent to the returned
	// channel, which is closed when ctx is cancelled or the source fails.
	Start(ctx context.Context) (<-chan Event, error)

	// Close releases any resources held by the monitor.
	Close() error
}

const (
	// DefaultDebounceInterval lets DHCP and Wi-Fi roaming settle before a
	// change is reported.
	DefaultDebounceInterval = 2 * time.Second

	// DefaultPollInterval is used where no change notifications exist.
	DefaultPollInterval = 5 * time.Second
)

// Config holds monitor configuration.
type Config struct {
	// DebounceInterval coalesces rapid changes into a single event.
	DebounceInterval time.Duration

	// PollInterval is the address scan period of the polling monitor.
	PollInterval time.Duration

	// IgnoreInterfaces contains interface name patterns to ignore.
	IgnoreInterfaces []string
}

// DefaultConfig returns a configuration that ignores loopback, container
// bridges and the mesh client's own tunnel interfaces. Reacting to the mesh
// interface would re-run resolution every time a setup brings it up.
func DefaultConfig() Config {
	return Config{
		DebounceInterval: DefaultDebounceInterval,
		PollInterval:     DefaultPollInterval,
		IgnoreInterfaces: []string{"lo", "lo0", "docker*", "veth*", "br-*", "wt*", "utun*"},
	}
}

// New creates a new platform-specific network monitor.
func New(cfg Config) (Monitor, error) {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return newPlatformMonitor(cfg)
}

// Watch starts mon and calls fn for every event until ctx is done or the
// event channel closes. It returns ctx.Err() on cancellation.
func Watch(ctx context.Context, mon Monitor, fn func(Event)) error {
	events, err := mon.Start(ctx)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return ctx.Err()
			}
			log.Debug().
				Str("type", ev.Type.String()).
				Str("interface", ev.Interface).
				Int("coalesced", ev.Coalesced).
				Msg("network change")
			fn(ev)
		}
	}
}

// ignored reports whether name matches one of patterns. Unnamed
// interfaces are never ignored.
func ignored(name string, patterns []string) bool {
	if name == "" {
		return false
	}
	for _, pattern := range patterns {
		if matched, _ := filepath.Match(pattern, name); matched {
			return true
		}
	}
	return false
}
