package netmon

import (
	"net"
	"sort"
	"time"
)

// diffAddrs returns one event per address that appeared or vanished between
// two scans. Both maps are keyed by CIDR string with the interface as value.
func diffAddrs(before, after map[string]string) []Event {
	now := time.Now()
	var events []Event

	for addr, iface := range after {
		if _, ok := before[addr]; !ok {
			events = append(events, addrEvent(ChangeAddressAdded, iface, addr, now))
		}
	}
	for addr, iface := range before {
		if _, ok := after[addr]; !ok {
			events = append(events, addrEvent(ChangeAddressRemoved, iface, addr, now))
		}
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].Type != events[j].Type {
			return events[i].Type < events[j].Type
		}
		return events[i].Address.String() < events[j].Address.String()
	})
	return events
}

func addrEvent(t ChangeType, iface, addr string, at time.Time) Event {
	ip, _, err := net.ParseCIDR(addr)
	if err != nil {
		ip = net.ParseIP(addr)
	}
	return Event{Type: t, Interface: iface, Address: ip, Timestamp: at}
}
