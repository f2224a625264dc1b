package upstream

import (
	"sync/atomic"
)

// Balancer selects an upstream from a vhost's backend set.
type Balancer interface {
	// Select chooses an upstream, preferring healthy ones.
	Select(upstreams []*Upstream) (*Upstream, error)

	// Name returns the balancer name.
	Name() string
}

// RoundRobinBalancer implements round-robin load balancing.
type RoundRobinBalancer struct {
	counter atomic.Uint64
}

// NewRoundRobinBalancer creates a new round-robin balancer.
func NewRoundRobinBalancer() *RoundRobinBalancer {
	return &RoundRobinBalancer{}
}

// Select chooses an upstream using round-robin with O(1) selection.
// Upstreams in their failure cooldown are skipped; when every upstream is
// down, selection falls back to the full set so traffic keeps probing.
func (r *RoundRobinBalancer) Select(upstreams []*Upstream) (*Upstream, error) {
	if len(upstreams) == 0 {
		return nil, ErrNoUpstreams
	}

	// Fast path: check if all upstreams are healthy to avoid allocation
	allHealthy := true
	for _, u := range upstreams {
		if !u.Healthy() {
			allHealthy = false
			break
		}
	}

	candidates := upstreams
	if !allHealthy {
		healthy := make([]*Upstream, 0, len(upstreams))
		for _, u := range upstreams {
			if u.Healthy() {
				healthy = append(healthy, u)
			}
		}
		if len(healthy) > 0 {
			candidates = healthy
		}
	}

	idx := r.counter.Add(1) % uint64(len(candidates))
	return candidates[idx], nil
}

// Name returns the balancer name.
func (r *RoundRobinBalancer) Name() string {
	return "round-robin"
}
