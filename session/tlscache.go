package session

import (
	"crypto/tls"
	"net/netip"

	"github.com/sessmux/sessmux/sched"
)

// NewTLSManager creates a Manager wired to the crypto/tls engine. Use it
// together with ResumeCache when the handshakes are driven by the standard
// library TLS stack.
func NewTLSManager(scheduler sched.Scheduler, opts ...Option) *Manager {
	return NewManager(tlsEngine{}, scheduler, opts...)
}

// ResumeCache adapts one owner's session cache to tls.ClientSessionCache, so
// outbound crypto/tls handshakes transparently drive TryReuse and Commit.
// It replaces tls.NewLRUClientSessionCache with the bounded TTL+LRU cache.
type ResumeCache struct {
	owner *Owner
	mgr   *Manager
}

// NewResumeCache creates the adapter for one owner. The manager must have
// been built with NewTLSManager.
func NewResumeCache(owner *Owner, mgr *Manager) *ResumeCache {
	return &ResumeCache{
		owner: owner,
		mgr:   mgr,
	}
}

// ForPeer returns a tls.ClientSessionCache view pinned to one dialed
// endpoint. crypto/tls keys Get and Put by server name, which concurrent
// dials within a vhost may share; the pinned view ignores that key so every
// handshake reads and writes the entry of the endpoint it actually dialed.
// Dialers install it on the cloned tls.Config right before the handshake.
func (r *ResumeCache) ForPeer(peer netip.AddrPort) tls.ClientSessionCache {
	return &peerCache{cache: r, peer: peer}
}

// Get implements tls.ClientSessionCache for session keys that are numeric
// "addr:port" endpoints. Anything else cannot be mapped to an owner key and
// is declined; dials with a server name go through ForPeer instead.
func (r *ResumeCache) Get(sessionKey string) (*tls.ClientSessionState, bool) {
	peer, err := netip.ParseAddrPort(sessionKey)
	if err != nil {
		return nil, false
	}
	return r.get(peer)
}

// Put implements tls.ClientSessionCache with the same key restriction as
// Get. A nil state invalidates the cached entry, mirroring the standard
// library cache contract.
func (r *ResumeCache) Put(sessionKey string, cs *tls.ClientSessionState) {
	peer, err := netip.ParseAddrPort(sessionKey)
	if err != nil {
		return
	}
	r.put(peer, cs)
}

func (r *ResumeCache) get(peer netip.AddrPort) (*tls.ClientSessionState, bool) {
	rc := &resumeConn{owner: r.owner, peer: peer}
	if !r.mgr.TryReuse(rc) || rc.got == nil {
		return nil, false
	}
	return rc.got, true
}

func (r *ResumeCache) put(peer netip.AddrPort, cs *tls.ClientSessionState) {
	if cs == nil {
		r.mgr.Invalidate(r.owner, DeriveKey(r.owner.name, peer))
		return
	}
	rc := &resumeConn{owner: r.owner, peer: peer, put: cs}
	r.mgr.Commit(rc)
}

// peerCache is the per-dial view handed to crypto/tls. It carries the dialed
// endpoint so the server name crypto/tls keys by never decides which cache
// entry a session lands in.
type peerCache struct {
	cache *ResumeCache
	peer  netip.AddrPort
}

func (p *peerCache) Get(string) (*tls.ClientSessionState, bool) {
	return p.cache.get(p.peer)
}

func (p *peerCache) Put(_ string, cs *tls.ClientSessionState) {
	p.cache.put(p.peer, cs)
}

// resumeConn is the synthetic connection the adapter presents to the manager
// for one Get or Put call.
type resumeConn struct {
	owner  *Owner
	peer   netip.AddrPort
	put    *tls.ClientSessionState
	got    *tls.ClientSessionState
	reused bool
}

func (c *resumeConn) Owner() *Owner            { return c.owner }
func (c *resumeConn) PeerAddr() netip.AddrPort { return c.peer }
func (c *resumeConn) MarkSessionReused()       { c.reused = true }

// tlsBlob wraps crypto/tls session state as an opaque cache blob. The memory
// is garbage collected; Release only severs the cache's reference.
type tlsBlob struct {
	cs *tls.ClientSessionState
}

func (b *tlsBlob) Release() { b.cs = nil }

// tlsEngine moves session state between the manager and crypto/tls through
// the resumeConn fields.
type tlsEngine struct{}

func (tlsEngine) CurrentSession(c Conn) (Blob, error) {
	rc := c.(*resumeConn)
	if rc.put == nil {
		return nil, ErrNoSession
	}
	return &tlsBlob{cs: rc.put}, nil
}

func (tlsEngine) InstallSession(c Conn, b Blob) {
	rc := c.(*resumeConn)
	if tb, ok := b.(*tlsBlob); ok {
		rc.got = tb.cs
	}
}
