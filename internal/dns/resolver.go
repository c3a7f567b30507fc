// Package dns resolves the device's ".local" hostname, falling back to a
// one-shot multicast DNS query when the system resolver has no mDNS support.
package dns

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/rs/zerolog/log"
)

const (
	// LocalSuffix is the mDNS link-local domain.
	LocalSuffix = ".local"

	// DefaultGroup is the IPv4 mDNS multicast group and port.
	DefaultGroup = "224.0.0.251:5353"

	// DefaultQueryTimeout bounds a single mDNS query.
	DefaultQueryTimeout = 2 * time.Second

	// qclassUnicastResponse is the QU bit: ask responders to reply unicast.
	qclassUnicastResponse = 1 << 15
)

// LookupFunc resolves a hostname to addresses.
type LookupFunc func(ctx context.Context, host string) ([]string, error)

// Config holds resolver configuration.
type Config struct {
	System       LookupFunc    // System resolver (default: net.DefaultResolver.LookupHost)
	Group        string        // mDNS destination (default: DefaultGroup)
	QueryTimeout time.Duration // Per-query bound (default: DefaultQueryTimeout)
}

// Resolver resolves hostnames with an mDNS fallback for ".local" names.
type Resolver struct {
	system       LookupFunc
	group        string
	queryTimeout time.Duration
	dialer       *net.Dialer
}

// NewResolver creates a new resolver.
func NewResolver(cfg Config) *Resolver {
	if cfg.System == nil {
		cfg.System = net.DefaultResolver.LookupHost
	}
	if cfg.Group == "" {
		cfg.Group = DefaultGroup
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = DefaultQueryTimeout
	}
	return &Resolver{
		system:       cfg.System,
		group:        cfg.Group,
		queryTimeout: cfg.QueryTimeout,
		dialer:       &net.Dialer{},
	}
}

// IsLocalName reports whether host is in the ".local" domain.
func IsLocalName(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	return strings.HasSuffix(host, LocalSuffix)
}

// LookupHost resolves host. For ".local" names the system resolver is tried
// first and mDNS is used when it fails or returns nothing.
func (r *Resolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []string{host}, nil
	}

	addrs, err := r.system(ctx, host)
	if err == nil && len(addrs) > 0 {
		return addrs, nil
	}
	if err == nil {
		err = fmt.Errorf("no addresses for %s", host)
	}
	if !IsLocalName(host) {
		return nil, err
	}

	log.Debug().Err(err).Str("host", host).Msg("system resolver failed, trying mDNS")

	mdnsAddrs, mdnsErr := r.QueryMDNS(ctx, host)
	if mdnsErr != nil {
		return nil, fmt.Errorf("resolve %s: %v; mdns: %w", host, err, mdnsErr)
	}
	return mdnsAddrs, nil
}

// DialContext dials address, resolving ".local" hosts through LookupHost.
// It has the signature of net/http.Transport.DialContext.
func (r *Resolver) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil || !IsLocalName(host) {
		return r.dialer.DialContext(ctx, network, address)
	}

	addrs, err := r.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for _, addr := range addrs {
		conn, err := r.dialer.DialContext(ctx, network, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// QueryMDNS sends one A query for host to the mDNS group and returns the
// addresses from the first matching response.
func (r *Resolver) QueryMDNS(ctx context.Context, host string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.queryTimeout)
	defer cancel()

	dst, err := net.ResolveUDPAddr("udp4", r.group)
	if err != nil {
		return nil, fmt.Errorf("resolve mdns group: %w", err)
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero})
	if err != nil {
		return nil, fmt.Errorf("open mdns socket: %w", err)
	}
	defer func() { _ = conn.Close() }()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, fmt.Errorf("set mdns deadline: %w", err)
	}

	packed, err := BuildQuery(host).Pack()
	if err != nil {
		return nil, fmt.Errorf("pack mdns query: %w", err)
	}
	if _, err := conn.WriteToUDP(packed, dst); err != nil {
		return nil, fmt.Errorf("send mdns query: %w", err)
	}

	buf := make([]byte, 9000)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				return nil, fmt.Errorf("no mdns answer for %s", host)
			}
			return nil, fmt.Errorf("read mdns response: %w", err)
		}

		var resp dns.Msg
		if err := resp.Unpack(buf[:n]); err != nil || !resp.Response {
			continue
		}
		if addrs := ParseAnswers(&resp, host); len(addrs) > 0 {
			log.Debug().
				Str("host", host).
				Str("responder", from.String()).
				Strs("addrs", addrs).
				Msg("mDNS answer")
			return addrs, nil
		}
	}
}

// BuildQuery builds an mDNS A query for host with the unicast-response bit set.
func BuildQuery(host string) *dns.Msg {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn(host), dns.TypeA)
	m.Id = 0
	m.RecursionDesired = false
	m.Question[0].Qclass = dns.ClassINET | qclassUnicastResponse
	return m
}

// ParseAnswers extracts A record addresses for host from the answer and
// additional sections.
func ParseAnswers(msg *dns.Msg, host string) []string {
	name := dns.Fqdn(host)
	var addrs []string
	for _, section := range [][]dns.RR{msg.Answer, msg.Extra} {
		for _, rr := range section {
			a, ok := rr.(*dns.A)
			if !ok || !strings.EqualFold(a.Hdr.Name, name) {
				continue
			}
			addrs = append(addrs, a.A.String())
		}
	}
	return addrs
}
