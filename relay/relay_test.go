package relay

import (
	"bytes"
	"io"
	"net"
	"testing"
	"time"
)

func TestCopyBuffered(t *testing.T) {
	src := bytes.Repeat([]byte("sessmux"), 100000)
	var dst bytes.Buffer

	n, err := CopyBuffered(&dst, bytes.NewReader(src))
	if err != nil {
		t.Fatalf("CopyBuffered failed: %v", err)
	}
	if n != int64(len(src)) {
		t.Fatalf("expected %d bytes copied, got %d", len(src), n)
	}
	if !bytes.Equal(dst.Bytes(), src) {
		t.Fatal("copied data does not match source")
	}
}

func TestCopyBufferPool_Reuse(t *testing.T) {
	buf := GetCopyBuffer()
	if len(*buf) != CopyBufferSize {
		t.Fatalf("expected buffer of %d bytes, got %d", CopyBufferSize, len(*buf))
	}
	PutCopyBuffer(buf)
	PutCopyBuffer(nil) // must not panic
}

func TestPipe_BidirectionalCounts(t *testing.T) {
	clientSide, downstream := net.Pipe()
	upstream, serverSide := net.Pipe()

	resCh := make(chan Result, 1)
	go func() {
		resCh <- Pipe(downstream, upstream, func() {
			downstream.Close()
			upstream.Close()
		})
	}()

	// Client sends 5 bytes down, server answers with 8 bytes up.
	go func() {
		buf := make([]byte, 5)
		if _, err := io.ReadFull(serverSide, buf); err != nil {
			t.Errorf("server read: %v", err)
			return
		}
		if _, err := serverSide.Write([]byte("response")); err != nil {
			t.Errorf("server write: %v", err)
		}
	}()

	if _, err := clientSide.Write([]byte("hello")); err != nil {
		t.Fatalf("client write: %v", err)
	}
	buf := make([]byte, 8)
	if _, err := io.ReadFull(clientSide, buf); err != nil {
		t.Fatalf("client read: %v", err)
	}
	if string(buf) != "response" {
		t.Fatalf("unexpected response %q", buf)
	}

	// Client hangs up, ending the downstream copy.
	clientSide.Close()
	serverSide.Close()

	select {
	case res := <-resCh:
		if res.Down != 5 {
			t.Errorf("expected 5 bytes downstream, got %d", res.Down)
		}
		if res.Up != 8 {
			t.Errorf("expected 8 bytes upstream, got %d", res.Up)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for relay to finish")
	}
}

func TestPipe_ShutdownUnblocksPeer(t *testing.T) {
	clientSide, downstream := net.Pipe()
	upstream, serverSide := net.Pipe()
	defer serverSide.Close()

	shutdownCalled := make(chan struct{})
	resCh := make(chan Result, 1)
	go func() {
		resCh <- Pipe(downstream, upstream, func() {
			close(shutdownCalled)
			downstream.Close()
			upstream.Close()
		})
	}()

	// Only one side ever closes; shutdown must unblock the other copy.
	clientSide.Close()

	select {
	case <-shutdownCalled:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown was not invoked")
	}

	select {
	case res := <-resCh:
		if res.Err != nil {
			t.Errorf("expected clean close, got %v", res.Err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Pipe did not return after shutdown")
	}
}
