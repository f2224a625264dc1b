package config

import (
	"fmt"
	"net"
)

const (
	EnvPrefix = "SESSMUX_"
)

type Server struct {
	// InstanceID labels logs and metrics; generated when empty.
	InstanceID string `yaml:"instance_id"`

	// Listen is the gateway's TLS listen address.
	Listen string `yaml:"listen"`

	// DebugListen serves Prometheus metrics and the session cache
	// snapshot. Empty disables the debug listener.
	DebugListen string `yaml:"debug_listen"`

	TLS    ServerTLS `yaml:"tls"`
	VHosts []VHost   `yaml:"vhosts"`
}

type ServerTLS struct {
	SessionTicketKeyRotationInterval Duration `yaml:"session_ticket_key_rotation_interval"`
	SessionTicketKeyRotationOverlap  uint8    `yaml:"session_ticket_key_rotation_overlap"`
}

type VHost struct {
	// Name is the SNI name the vhost serves and the owner component of
	// its session cache keys.
	Name string `yaml:"name"`

	// Server certificate presented to downstream clients.
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`

	// Optional client certificate presented to upstreams. Distinct client
	// identities per vhost are the reason cache keys carry the vhost name.
	ClientCertFile string `yaml:"client_cert_file"`
	ClientKeyFile  string `yaml:"client_key_file"`

	// Upstreams are "host:port" endpoints the vhost forwards to.
	Upstreams []string `yaml:"upstreams"`

	// UpstreamCAFile pins the CA used to verify upstream certificates.
	// Empty selects the system roots.
	UpstreamCAFile string `yaml:"upstream_ca_file"`

	// UpstreamServerName overrides the name upstream certificates are
	// verified against. Empty uses each upstream's host.
	UpstreamServerName string `yaml:"upstream_server_name"`

	SessionCache SessionCache `yaml:"session_cache"`
}

type SessionCache struct {
	// Disabled turns session caching off for the vhost.
	Disabled bool `yaml:"disabled"`

	// Capacity is the maximum cached session count; 0 selects the
	// default.
	Capacity int `yaml:"capacity"`

	// TTL is the session lifetime; 0 selects the default (one hour).
	TTL Duration `yaml:"ttl"`
}

// EffectiveCapacity returns the cache capacity with the disable switch
// applied: 0 means the cache is off.
func (c SessionCache) EffectiveCapacity() int {
	if c.Disabled {
		return 0
	}
	return c.Capacity
}

// Validate checks the server configuration for structural errors.
func (s *Server) Validate() error {
	if s.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	if len(s.VHosts) == 0 {
		return fmt.Errorf("at least one vhost must be configured")
	}

	names := make(map[string]bool, len(s.VHosts))
	for i := range s.VHosts {
		vh := &s.VHosts[i]
		if err := vh.Validate(); err != nil {
			return fmt.Errorf("vhost %d: %w", i, err)
		}
		if names[vh.Name] {
			return fmt.Errorf("duplicate vhost name %q", vh.Name)
		}
		names[vh.Name] = true
	}
	return nil
}

// Validate checks one vhost section.
func (v *VHost) Validate() error {
	if v.Name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if v.CertFile == "" || v.KeyFile == "" {
		return fmt.Errorf("cert_file and key_file are required for %q", v.Name)
	}
	if (v.ClientCertFile == "") != (v.ClientKeyFile == "") {
		return fmt.Errorf("client_cert_file and client_key_file must be set together for %q", v.Name)
	}
	if len(v.Upstreams) == 0 {
		return fmt.Errorf("vhost %q has no upstreams", v.Name)
	}
	for _, u := range v.Upstreams {
		if _, _, err := net.SplitHostPort(u); err != nil {
			return fmt.Errorf("invalid upstream %q for %q: %w", u, v.Name, err)
		}
	}
	if v.SessionCache.Capacity < 0 {
		return fmt.Errorf("session cache capacity must not be negative for %q", v.Name)
	}
	if v.SessionCache.TTL < 0 {
		return fmt.Errorf("session cache ttl must not be negative for %q", v.Name)
	}
	return nil
}
