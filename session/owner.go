package session

import (
	"sync"
	"time"
)

// DefaultTTL is the session lifetime used when an owner is configured with a
// zero TTL. One hour is the maximum recommended by RFC 5246 F.1.4.
const DefaultTTL = 3600 * time.Second

// Owner is one logical endpoint (vhost) holding a bounded session store.
// All store mutations happen under the owner's lock; the expiry callback
// takes the same lock, so request-path operations and expiry serialize.
type Owner struct {
	name     string
	capacity int

	mu      sync.Mutex
	ttl     time.Duration
	entries store
}

// NewOwner creates an owner with the given cache capacity. Capacity 0 (or
// negative) disables the cache for this owner entirely. A zero ttl selects
// DefaultTTL.
func NewOwner(name string, capacity int, ttl time.Duration) *Owner {
	if capacity < 0 {
		capacity = 0
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o := &Owner{
		name:     name,
		capacity: capacity,
		ttl:      ttl,
	}
	o.entries.init()
	return o
}

// Name returns the owner's configured name.
func (o *Owner) Name() string { return o.name }

// Capacity returns the configured maximum entry count.
func (o *Owner) Capacity() int { return o.capacity }

// Enabled reports whether session caching is on for this owner.
func (o *Owner) Enabled() bool { return o.capacity > 0 }

// TTL returns the currently configured session lifetime.
func (o *Owner) TTL() time.Duration {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.ttl
}

// Len returns the number of live entries.
func (o *Owner) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries.len()
}

// Contains reports whether a live entry exists for key.
func (o *Owner) Contains(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.entries.find(key) != nil
}

// Keys returns the live keys in LRU-to-MRU order.
func (o *Owner) Keys() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	keys := make([]string, 0, o.entries.len())
	for el := o.entries.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*entry).key)
	}
	return keys
}

// destroyLocked removes e from the store, cancels its expiry timer and
// releases its blob. It is the single authoritative destroy: the removal is
// the liveness signal, so a second call (expiry racing an eviction) is a
// no-op. Caller holds o.mu.
func (o *Owner) destroyLocked(e *entry) bool {
	if !o.entries.remove(e) {
		return false
	}
	if e.timer != nil {
		e.timer.Cancel()
		e.timer = nil
	}
	if e.blob != nil {
		e.blob.Release()
		e.blob = nil
	}
	return true
}
