package config

import (
	"time"

	"github.com/google/uuid"

	"github.com/sessmux/sessmux/session"
)

// Default timeout and sizing values
const (
	// DefaultListen is the default gateway TLS listen address
	DefaultListen = ":8443"

	// DefaultSessionCacheCapacity bounds each vhost's session cache
	DefaultSessionCacheCapacity = 10

	// DefaultSessionTTL is the default cached session lifetime
	DefaultSessionTTL = session.DefaultTTL

	// DefaultSTEKRotationOverlap is how many session ticket keys stay
	// valid for decryption across rotations
	DefaultSTEKRotationOverlap = 2

	// DefaultDialTimeout bounds one upstream connection attempt
	DefaultDialTimeout = 10 * time.Second
)

// GenerateInstanceID generates a new UUID identifying this gateway instance.
// This is useful for K8s deployments where multiple pods share the same ConfigMap.
func GenerateInstanceID() string {
	return uuid.New().String()
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (s *Server) ApplyDefaults() {
	if s.InstanceID == "" {
		s.InstanceID = GenerateInstanceID()
	}
	if s.Listen == "" {
		s.Listen = DefaultListen
	}
	if s.TLS.SessionTicketKeyRotationInterval > 0 &&
		s.TLS.SessionTicketKeyRotationOverlap == 0 {
		s.TLS.SessionTicketKeyRotationOverlap = DefaultSTEKRotationOverlap
	}
	for i := range s.VHosts {
		s.VHosts[i].ApplyDefaults()
	}
}

// ApplyDefaults fills zero-valued vhost fields with their defaults.
// Disabling the cache is an explicit switch, so a zero capacity simply means
// "use the default".
func (v *VHost) ApplyDefaults() {
	if v.SessionCache.Capacity == 0 {
		v.SessionCache.Capacity = DefaultSessionCacheCapacity
	}
	if v.SessionCache.TTL == 0 {
		v.SessionCache.TTL = Duration(DefaultSessionTTL)
	}
}
