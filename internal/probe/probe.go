// Package probe checks whether the device answers on the local network and
// whether a public URL is reachable.
package probe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultURL is the device's domain settings endpoint on the LAN.
	DefaultURL = "http://ryvie.local:3002/api/settings/ryvie-domains"

	// DefaultTimeout bounds a single probe or reachability check.
	DefaultTimeout = 5 * time.Second

	// maxBodySize caps the probe response body.
	maxBodySize = 1 << 20
)

// Result is the outcome of one local probe. Fields other than Success are
// only set when Success is true.
type Result struct {
	Success    bool
	DeviceID   string
	InstanceID string
	Domains    map[string]string
	TunnelHost string
	SetupKey   string
}

// DialFunc dials a network connection.
type DialFunc func(ctx context.Context, network, address string) (net.Conn, error)

// Config holds prober configuration.
type Config struct {
	URL           string        // Local probe endpoint (default: DefaultURL)
	Timeout       time.Duration // Probe timeout (default: DefaultTimeout)
	PublicTimeout time.Duration // Public reachability timeout (default: DefaultTimeout)
	DialContext   DialFunc      // Optional dialer, e.g. with mDNS fallback
}

// Prober performs local probes and public reachability checks.
type Prober struct {
	url           string
	timeout       time.Duration
	publicTimeout time.Duration
	client        *http.Client
}

// New creates a prober.
func New(cfg Config) *Prober {
	if cfg.URL == "" {
		cfg.URL = DefaultURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PublicTimeout <= 0 {
		cfg.PublicTimeout = DefaultTimeout
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.DialContext != nil {
		transport.DialContext = cfg.DialContext
	}
	// Each cycle should see the network as it is now.
	transport.DisableKeepAlives = true

	return &Prober{
		url:           cfg.URL,
		timeout:       cfg.Timeout,
		publicTimeout: cfg.PublicTimeout,
		client:        &http.Client{Transport: transport},
	}
}

// URL returns the probe endpoint.
func (p *Prober) URL() string {
	return p.url
}

// response is the JSON document served by the probe endpoint.
type response struct {
	Success    bool           `json:"success"`
	ID         string         `json:"id"`
	RyvieID    string         `json:"ryvieId"`
	Domains    map[string]any `json:"domains"`
	TunnelHost string         `json:"tunnelHost"`
	SetupKey   string         `json:"setupKey"`
}

// Probe queries the local endpoint once. Every failure collapses to a result
// with Success false; the reason is only logged at debug level.
func (p *Prober) Probe(ctx context.Context) Result {
	res, err := p.probe(ctx)
	if err != nil {
		log.Debug().Err(err).Str("url", p.url).Msg("local probe failed")
		return Result{}
	}
	log.Debug().
		Str("url", p.url).
		Str("ryvie_id", res.DeviceID).
		Str("instance_id", res.InstanceID).
		Int("domains", len(res.Domains)).
		Msg("local probe succeeded")
	return res
}

func (p *Prober) probe(ctx context.Context) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return Result{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Result{}, fmt.Errorf("unexpected status: %s", resp.Status)
	}

	var body response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&body); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	if !body.Success {
		return Result{}, errors.New("device reported success=false")
	}
	if body.Domains == nil {
		return Result{}, errors.New("response has no domains")
	}

	domains := make(map[string]string, len(body.Domains))
	for name, v := range body.Domains {
		if host, ok := v.(string); ok {
			domains[name] = host
		}
	}

	id := body.RyvieID
	if id == "" {
		id = body.ID
	}

	return Result{
		Success:    true,
		DeviceID:   id,
		InstanceID: body.ID,
		Domains:    domains,
		TunnelHost: body.TunnelHost,
		SetupKey:   body.SetupKey,
	}, nil
}

// CheckReachable issues a plain GET against url and fails on transport errors
// or non-2xx responses.
func (p *Prober) CheckReachable(ctx context.Context, url string) error {
	ctx, cancel := context.WithTimeout(ctx, p.publicTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("reach %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	_ = resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("reach %s: unexpected status: %s", url, resp.Status)
	}
	return nil
}
