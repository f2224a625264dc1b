package session

import (
	"errors"
	"net/netip"
)

// ErrNoSession is returned by an Engine when a completed handshake has no
// resumable session state to hand over. It aborts the commit, nothing more.
var ErrNoSession = errors.New("no session available")

// Blob is opaque resumption state produced and consumed by the handshake
// engine. The cache never inspects it. A stored blob is owned by exactly one
// cache entry; Release is called exactly once, when the entry is destroyed.
type Blob interface {
	Release()
}

// Engine abstracts the TLS stack's session primitives.
type Engine interface {
	// CurrentSession extracts the resumable state of a just-completed
	// handshake. Ownership of the returned blob passes to the caller.
	// ErrNoSession (or any other error) means the commit is abandoned.
	CurrentSession(c Conn) (Blob, error)

	// InstallSession hands the engine a stored blob to resume with. The
	// blob is borrowed for the duration of the call; the engine must not
	// retain or release it.
	InstallSession(c Conn, b Blob)
}

// Conn is the cache's view of one connection.
type Conn interface {
	// Owner returns the vhost this connection belongs to.
	Owner() *Owner

	// PeerAddr returns the numeric peer endpoint.
	PeerAddr() netip.AddrPort

	// MarkSessionReused records that a cached session was installed for
	// this connection. Whether the peer accepts the resumption is decided
	// later by the engine.
	MarkSessionReused()
}
