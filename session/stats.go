package session

import (
	"io"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// json is a drop-in replacement for encoding/json with better performance
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// EntryStat describes one live cache entry for the debug endpoint.
type EntryStat struct {
	Key      string        `json:"key"`
	Age      time.Duration `json:"age_ns"`
	StoredAt time.Time     `json:"stored_at"`
}

// OwnerStats is a point-in-time snapshot of one owner's cache.
type OwnerStats struct {
	Vhost    string      `json:"vhost"`
	Capacity int         `json:"capacity"`
	TTL      string      `json:"ttl"`
	Count    int         `json:"count"`
	Entries  []EntryStat `json:"entries"` // LRU first, MRU last
}

// Snapshot captures the owner's live entries in LRU-to-MRU order.
func (m *Manager) Snapshot(o *Owner) OwnerStats {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := time.Now()
	stats := OwnerStats{
		Vhost:    o.name,
		Capacity: o.capacity,
		TTL:      o.ttl.String(),
		Count:    o.entries.len(),
		Entries:  make([]EntryStat, 0, o.entries.len()),
	}
	for el := o.entries.order.Front(); el != nil; el = el.Next() {
		e := el.Value.(*entry)
		stats.Entries = append(stats.Entries, EntryStat{
			Key:      e.key,
			Age:      now.Sub(e.storedAt),
			StoredAt: e.storedAt,
		})
	}
	return stats
}

// EncodeSnapshots writes the snapshots of the given owners as a JSON array.
func (m *Manager) EncodeSnapshots(w io.Writer, owners []*Owner) error {
	all := make([]OwnerStats, 0, len(owners))
	for _, o := range owners {
		all = append(all, m.Snapshot(o))
	}
	return json.NewEncoder(w).Encode(all)
}
