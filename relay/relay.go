package relay

import (
	"io"
	"sync"
)

// CopyBufferSize is the buffer size for proxy copy loops. Large enough to
// keep TLS record processing off the hot path for bulk transfers.
const CopyBufferSize = 512 * 1024

var copyBufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, CopyBufferSize)
		return &buf
	},
}

// GetCopyBuffer retrieves a copy buffer from the pool.
func GetCopyBuffer() *[]byte {
	return copyBufferPool.Get().(*[]byte)
}

// PutCopyBuffer returns a copy buffer to the pool.
func PutCopyBuffer(buf *[]byte) {
	if buf == nil {
		return
	}
	copyBufferPool.Put(buf)
}

// CopyBuffered copies from src to dst using a pooled buffer.
// Returns the number of bytes copied and any error encountered.
func CopyBuffered(dst io.Writer, src io.Reader) (int64, error) {
	bufPtr := GetCopyBuffer()
	defer PutCopyBuffer(bufPtr)
	return io.CopyBuffer(dst, src, *bufPtr)
}

// Result reports one finished relay with per-direction byte counts.
// Down is client-to-upstream, Up is upstream-to-client.
type Result struct {
	Down int64
	Up   int64
	Err  error
}

// Pipe performs bidirectional copy between the downstream and upstream
// connections. When the first direction finishes, shutdown runs so the caller
// can close both connections and unblock the other copy; Pipe returns once
// both directions are done. Err carries the first real error, with EOF and
// closed-connection noise filtered out.
func Pipe(downstream, upstream io.ReadWriter, shutdown func()) Result {
	type done struct {
		n    int64
		err  error
		down bool
	}
	doneCh := make(chan done, 2)

	go func() {
		n, err := CopyBuffered(upstream, downstream)
		doneCh <- done{n: n, err: err, down: true}
	}()

	go func() {
		n, err := CopyBuffered(downstream, upstream)
		doneCh <- done{n: n, err: err, down: false}
	}()

	var res Result
	for i := 0; i < 2; i++ {
		d := <-doneCh
		if d.down {
			res.Down = d.n
		} else {
			res.Up = d.n
		}
		if i == 0 {
			// Only the first error is meaningful; the second copy fails
			// with use-of-closed once shutdown closes the connections.
			res.Err = filterCloseErr(d.err)
			if shutdown != nil {
				shutdown()
			}
		}
	}
	return res
}

func filterCloseErr(err error) error {
	if err == nil || err == io.EOF {
		return nil
	}
	return err
}
