// Package session implements the per-vhost TLS session resumption cache.
//
// Each owner (vhost) holds a bounded, LRU-ordered store of opaque session
// blobs keyed by "<owner>.<peer-addr>:<peer-port>". A Manager composes the
// store with the handshake engine's get/install primitives and a single-shot
// expiry scheduler: TryReuse installs a cached session before an outbound
// handshake, Commit records or refreshes one after a successful handshake,
// and every entry auto-expires after the owner's TTL.
package session

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sessmux/sessmux/sched"
)

// Manager implements the reuse, commit and teardown operations over owners'
// session stores. One Manager serves any number of owners; per-owner state
// lives on the Owner itself.
type Manager struct {
	engine  Engine
	sched   sched.Scheduler
	metrics *Metrics
	logger  zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithMetrics attaches Prometheus counters to the manager.
func WithMetrics(m *Metrics) Option {
	return func(mgr *Manager) { mgr.metrics = m }
}

// WithLogger replaces the default component logger.
func WithLogger(l zerolog.Logger) Option {
	return func(mgr *Manager) { mgr.logger = l }
}

// NewManager creates a session cache manager on top of the given engine and
// expiry scheduler.
func NewManager(engine Engine, scheduler sched.Scheduler, opts ...Option) *Manager {
	m := &Manager{
		engine: engine,
		sched:  scheduler,
		logger: log.With().Str("com", "session").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// TryReuse installs a cached session into the engine for c, if one exists.
// Call it before starting the handshake. It returns true when a session was
// installed; whether the peer accepts the resumption is the engine's business.
func (m *Manager) TryReuse(c Conn) bool {
	o := c.Owner()
	if o == nil || !o.Enabled() {
		return false
	}

	o.mu.Lock()
	key := DeriveKey(o.name, c.PeerAddr())
	e := o.entries.find(key)
	if e == nil {
		o.mu.Unlock()
		m.metrics.Miss(o.name)
		m.logger.Debug().Str("vhost", o.name).Str("key", key).Msg("no existing session")
		return false
	}

	c.MarkSessionReused()
	// The engine drives the resumption synchronously with a borrowed
	// reference; the entry keeps ownership of the blob.
	m.engine.InstallSession(c, e.blob)

	// Keep the list sorted lru -> mru.
	o.entries.moveToTail(e)
	o.mu.Unlock()

	m.metrics.Hit(o.name)
	m.logger.Debug().Str("vhost", o.name).Str("key", key).Msg("reusing session")
	return true
}

// Commit records the session of a just-completed handshake, creating a new
// entry or refreshing the existing one for the same peer. It returns true
// when the cache took ownership of the session blob; the caller must not
// release it separately. A false return never fails the connection: the
// session simply is not cached.
func (m *Manager) Commit(c Conn) bool {
	o := c.Owner()
	if o == nil || !o.Enabled() {
		return false
	}

	o.mu.Lock()
	key := DeriveKey(o.name, c.PeerAddr())
	e := o.entries.find(key)
	if e != nil {
		ok := m.refreshLocked(o, e, c)
		count := o.entries.len()
		o.mu.Unlock()
		if ok {
			m.metrics.Refreshed(o.name)
			m.metrics.SetEntries(o.name, count)
			m.logger.Debug().Str("vhost", o.name).Str("key", key).
				Int("count", count).Msg("session refreshed")
		} else {
			m.metrics.SetEntries(o.name, count)
		}
		return ok
	}

	if o.entries.len() == o.capacity {
		// At the limit: prune the LRU head unconditionally, whatever
		// its remaining TTL.
		head := o.entries.head()
		evicted := head.key
		o.destroyLocked(head)
		m.metrics.Evicted(o.name)
		m.logger.Debug().Str("vhost", o.name).Str("key", evicted).
			Int("max", o.capacity).Msg("pruning oldest session")
	}

	blob, err := m.engine.CurrentSession(c)
	if err != nil {
		// No joy for whatever reason; the store stays as it is.
		o.mu.Unlock()
		m.logger.Debug().Err(err).Str("vhost", o.name).Str("key", key).
			Msg("no session to store")
		return false
	}

	e = &entry{
		key:      key,
		blob:     blob,
		storedAt: time.Now(),
	}
	o.entries.pushTail(e)
	e.timer = m.sched.Schedule(o.ttl, func() { m.expire(o, e) })
	count := o.entries.len()
	o.mu.Unlock()

	m.metrics.Stored(o.name)
	m.metrics.SetEntries(o.name, count)
	m.logger.Debug().Str("vhost", o.name).Str("key", key).
		Int("count", count).Msg("session stored")
	return true
}

// refreshLocked replaces the blob of an existing entry with the engine's
// current session and marks the entry most-recently-used. The entry's expiry
// timer is deliberately left on its original schedule: a frequently reused
// session still dies at its creation TTL. Caller holds o.mu.
func (m *Manager) refreshLocked(o *Owner, e *entry, c Conn) bool {
	if e.blob != nil {
		e.blob.Release()
		e.blob = nil
	}

	blob, err := m.engine.CurrentSession(c)
	if err != nil {
		// The old blob is gone and there is no replacement. Drop the
		// entry so the store never holds a session-less entry.
		o.destroyLocked(e)
		m.logger.Debug().Err(err).Str("vhost", o.name).Str("key", e.key).
			Msg("refresh lost session")
		return false
	}

	e.blob = blob
	o.entries.moveToTail(e)
	return true
}

// expire is the timer callback armed by Commit. It serializes with the
// request paths on the owner lock; if the entry was destroyed first the call
// is a no-op.
func (m *Manager) expire(o *Owner, e *entry) {
	o.mu.Lock()
	destroyed := o.destroyLocked(e)
	count := o.entries.len()
	o.mu.Unlock()

	if destroyed {
		m.metrics.Expired(o.name)
		m.metrics.SetEntries(o.name, count)
		m.logger.Debug().Str("vhost", o.name).Str("key", e.key).
			Int("count", count).Msg("session expired")
	}
}

// Invalidate destroys the entry for one key, if present. The engine's client
// may request this when it detects the stored session is unusable.
func (m *Manager) Invalidate(o *Owner, key string) bool {
	if o == nil || !o.Enabled() {
		return false
	}

	o.mu.Lock()
	e := o.entries.find(key)
	if e == nil {
		o.mu.Unlock()
		return false
	}
	o.destroyLocked(e)
	count := o.entries.len()
	o.mu.Unlock()

	m.metrics.SetEntries(o.name, count)
	m.logger.Debug().Str("vhost", o.name).Str("key", key).Msg("session invalidated")
	return true
}

// DestroyAll empties the owner's store, cancelling every timer and releasing
// every blob. Call it when the owner is torn down.
func (m *Manager) DestroyAll(o *Owner) {
	if o == nil {
		return
	}

	o.mu.Lock()
	n := 0
	for {
		head := o.entries.head()
		if head == nil {
			break
		}
		o.destroyLocked(head)
		n++
	}
	o.mu.Unlock()

	m.metrics.SetEntries(o.name, 0)
	if n > 0 {
		m.logger.Debug().Str("vhost", o.name).Int("destroyed", n).
			Msg("session cache destroyed")
	}
}

// Configure sets the owner's session TTL, substituting DefaultTTL for a zero
// or negative value. It affects entries stored after the call; live entries
// keep their original schedule.
func (m *Manager) Configure(o *Owner, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	o.mu.Lock()
	o.ttl = ttl
	o.mu.Unlock()

	m.logger.Info().Str("vhost", o.name).Dur("ttl", ttl).Msg("session cache configured")
}
