package upstream

import (
	"errors"
	"sync/atomic"
	"time"
)

var ErrNoUpstreams = errors.New("no upstreams configured")

// DownCooldown is how long a failed upstream stays out of rotation.
const DownCooldown = 10 * time.Second

// Upstream is one backend endpoint of a vhost.
type Upstream struct {
	addr string

	// downUntil holds a unix-nano deadline; the upstream is skipped by the
	// balancer until it passes.
	downUntil atomic.Int64
}

// New creates an upstream for a "host:port" endpoint.
func New(addr string) *Upstream {
	return &Upstream{addr: addr}
}

// Addr returns the endpoint as given in the configuration.
func (u *Upstream) Addr() string { return u.addr }

// MarkDown takes the upstream out of rotation for DownCooldown.
func (u *Upstream) MarkDown() {
	u.downUntil.Store(time.Now().Add(DownCooldown).UnixNano())
}

// MarkUp returns the upstream to rotation immediately.
func (u *Upstream) MarkUp() {
	u.downUntil.Store(0)
}

// Healthy reports whether the upstream is in rotation.
func (u *Upstream) Healthy() bool {
	return time.Now().UnixNano() >= u.downUntil.Load()
}
