//go:build linux

package netmon

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sys/unix"
)

type linuxMonitor struct {
	cfg    Config
	fd     int
	events chan Event
}

func newPlatformMonitor(cfg Config) (Monitor, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, err
	}

	// Link state plus IPv4 address changes; a new LAN lease shows up as NEWADDR.
	addr := &unix.SockaddrNetlink{
		Family: unix.AF_NETLINK,
		Groups: unix.RTMGRP_LINK | unix.RTMGRP_IPV4_IFADDR,
	}
	if err := unix.Bind(fd, addr); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	// Periodic wakeups so the read loop notices cancellation.
	tv := unix.Timeval{Sec: 1}
	if err := unix.SetsockoptTimeval(fd, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}

	return &linuxMonitor{
		cfg:    cfg,
		fd:     fd,
		events: make(chan Event, 16),
	}, nil
}

func (m *linuxMonitor) Start(ctx context.Context) (<-chan Event, error) {
	go m.readLoop(ctx)

	debouncer := NewDebouncer(m.events, m.cfg.DebounceInterval)
	return debouncer.Run(ctx), nil
}

func (m *linuxMonitor) readLoop(ctx context.Context) {
	defer close(m.events)

	buf := make([]byte, 8192)

	for {
		if ctx.Err() != nil {
			return
		}

		n, _, err := unix.Recvfrom(m.fd, buf, 0)
		if err != nil {
			//nolint:errorlint // Unix errors are sentinel errors
			if err == unix.EAGAIN || err == unix.EINTR || err == unix.EWOULDBLOCK {
				continue
			}
			if ctx.Err() == nil {
				log.Debug().Err(err).Msg("netlink read failed, stopping monitor")
			}
			return
		}

		msgs, err := syscall.ParseNetlinkMessage(buf[:n])
		if err != nil {
			continue
		}

		for i := range msgs {
			event := parseNetlinkMessage(&msgs[i])
			if event == nil || ignored(event.Interface, m.cfg.IgnoreInterfaces) {
				continue
			}
			select {
			case m.events <- *event:
			default: // the debouncer only needs one
			}
		}
	}
}

func parseNetlinkMessage(msg *syscall.NetlinkMessage) *Event {
	event := &Event{Timestamp: time.Now()}

	switch msg.Header.Type {
	case syscall.RTM_NEWADDR:
		event.Type = ChangeAddressAdded
	case syscall.RTM_DELADDR:
		event.Type = ChangeAddressRemoved
	case syscall.RTM_NEWLINK:
		event.Type = ChangeInterfaceUp
	case syscall.RTM_DELLINK:
		event.Type = ChangeInterfaceDown
	default:
		return nil
	}

	attrs, err := syscall.ParseNetlinkRouteAttr(msg)
	if err != nil {
		return event
	}

	for _, attr := range attrs {
		switch event.Type {
		case ChangeInterfaceUp, ChangeInterfaceDown:
			if attr.Attr.Type == syscall.IFLA_IFNAME {
				event.Interface = cString(attr.Value)
			}
		default:
			switch attr.Attr.Type {
			case syscall.IFA_LABEL:
				event.Interface = cString(attr.Value)
			case syscall.IFA_LOCAL, syscall.IFA_ADDRESS:
				if event.Address == nil && len(attr.Value) == net.IPv4len {
					event.Address = net.IP(append([]byte(nil), attr.Value...))
				}
			}
		}
	}

	return event
}

// cString trims the trailing NUL of a netlink string attribute.
func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func (m *linuxMonitor) Close() error {
	return unix.Close(m.fd)
}
