package session

import (
	"net/netip"
	"strconv"
)

// DeriveKey builds the cache key for one (owner, peer) pair.
//
// The owner name is part of the key because several vhosts may connect out to
// the same endpoint with different client certificates; without it their
// sessions would collide on one slot.
//
// The peer address is always the numeric literal (IPv6 included, 4-mapped-6
// addresses unmapped), never a resolved name.
func DeriveKey(owner string, peer netip.AddrPort) string {
	addr := peer.Addr().Unmap()
	return owner + "." + addr.String() + ":" + strconv.FormatUint(uint64(peer.Port()), 10)
}
