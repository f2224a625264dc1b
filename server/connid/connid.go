// Package connid issues process-unique identifiers for accepted connections.
// The gateway tags every log line of a connection's lifetime with its ID.
package connid

import "sync/atomic"

var last atomic.Uint64

// Next returns the next connection ID. IDs start at 1 and never repeat
// within a process.
func Next() uint64 {
	return last.Add(1)
}
