//go:build !linux

package netmon

import (
	"context"
	"net"
	"time"
)

// pollingMonitor diffs interface addresses on a timer. Used on macOS and
// Windows, where the launcher runs unprivileged.
type pollingMonitor struct {
	cfg    Config
	events chan Event
	scan   func() map[string]string
}

func newPlatformMonitor(cfg Config) (Monitor, error) {
	return newPollingMonitor(cfg, nil), nil
}

func newPollingMonitor(cfg Config, scan func() map[string]string) *pollingMonitor {
	m := &pollingMonitor{
		cfg:    cfg,
		events: make(chan Event, 16),
		scan:   scan,
	}
	if m.scan == nil {
		m.scan = m.currentAddrs
	}
	return m
}

func (m *pollingMonitor) Start(ctx context.Context) (<-chan Event, error) {
	go m.pollLoop(ctx)

	debouncer := NewDebouncer(m.events, m.cfg.DebounceInterval)
	return debouncer.Run(ctx), nil
}

func (m *pollingMonitor) pollLoop(ctx context.Context) {
	defer close(m.events)

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	last := m.scan()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current := m.scan()
			for _, ev := range diffAddrs(last, current) {
				select {
				case m.events <- ev:
				default:
				}
			}
			last = current
		}
	}
}

// currentAddrs maps each address to its interface, skipping ignored ones.
func (m *pollingMonitor) currentAddrs() map[string]string {
	result := make(map[string]string)

	ifaces, err := net.Interfaces()
	if err != nil {
		return result
	}

	for _, iface := range ifaces {
		if ignored(iface.Name, m.cfg.IgnoreInterfaces) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			result[addr.String()] = iface.Name
		}
	}

	return result
}

func (m *pollingMonitor) Close() error {
	return nil
}
