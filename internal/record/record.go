// Package record persists the launcher's single remembered connection record.
package record

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Mode is the connection mode used to reach the device.
type Mode string

const (
	// ModeLocal reaches the device on its LAN hostname.
	ModeLocal Mode = "local"
	// ModePublic reaches the device through its public domain or tunnel host.
	ModePublic Mode = "public"
)

// TunnelPort is the port the device's web app listens on behind the tunnel host.
const TunnelPort = 3000

// AppDomainKey is the domain set entry holding the public app hostname.
const AppDomainKey = "app"

// ErrNoPublicTarget is returned when a record has neither an app domain nor a tunnel host.
var ErrNoPublicTarget = errors.New("no public domain or tunnel host configured")

// Record is the remembered device identity and connection choice.
// The resolved URL is never stored here; it is always derived.
type Record struct {
	Mode       Mode              `json:"mode"`
	RyvieID    string            `json:"ryvieId,omitempty"`
	Domains    map[string]string `json:"domains,omitempty"`
	TunnelHost string            `json:"tunnelHost,omitempty"`
	SetupKey   string            `json:"setupKey,omitempty"`
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	c := r
	if r.Domains != nil {
		c.Domains = make(map[string]string, len(r.Domains))
		for k, v := range r.Domains {
			c.Domains[k] = v
		}
	}
	return c
}

// WithMode returns a copy of the record with the given mode.
func (r Record) WithMode(m Mode) Record {
	c := r.Clone()
	c.Mode = m
	return c
}

// AppDomain returns the public app hostname, or "" when absent or blank.
func (r Record) AppDomain() string {
	return strings.TrimSpace(r.Domains[AppDomainKey])
}

// HasPublicTarget reports whether a public URL can be derived from the record.
func (r Record) HasPublicTarget() bool {
	return r.AppDomain() != "" || strings.TrimSpace(r.TunnelHost) != ""
}

// PublicURL derives the public URL. The app domain wins over the tunnel host.
func (r Record) PublicURL() (string, error) {
	if domain := r.AppDomain(); domain != "" {
		return "https://" + domain, nil
	}
	if host := strings.TrimSpace(r.TunnelHost); host != "" {
		return "http://" + net.JoinHostPort(host, strconv.Itoa(TunnelPort)), nil
	}
	return "", ErrNoPublicTarget
}

// URL derives the URL for the record's mode. Local mode always maps to
// localAppURL; public mode returns "" when no public target exists.
func (r Record) URL(localAppURL string) string {
	if r.Mode == ModeLocal {
		return localAppURL
	}
	u, err := r.PublicURL()
	if err != nil {
		return ""
	}
	return u
}

// Validate checks the record's mode.
func (r Record) Validate() error {
	switch r.Mode {
	case ModeLocal, ModePublic:
		return nil
	default:
		return fmt.Errorf("invalid mode %q", r.Mode)
	}
}

// MaskSecret hides all but the first four characters of a secret for logging.
func MaskSecret(s string) string {
	if s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= 4 {
		return "…"
	}
	return string(runes[:4]) + "…"
}
