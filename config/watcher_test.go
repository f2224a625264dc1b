package config

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForReload(t *testing.T, ch <-chan *Server) *Server {
	t.Helper()
	select {
	case cfg := <-ch:
		return cfg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for config reload")
		return nil
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, validServerYAML)

	reloads := make(chan *Server, 4)
	w, err := NewWatcher(path, func(cfg *Server) { reloads <- cfg })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer func() { require.NoError(t, w.Stop()) }()

	updated := `
listen: ":9443"
vhosts:
  - name: example.com
    cert_file: certs/server.pem
    key_file: certs/server-key.pem
    upstreams: ["10.0.0.1:9000"]
`
	require.NoError(t, os.WriteFile(path, []byte(updated), 0o600))

	cfg := waitForReload(t, reloads)
	assert.Equal(t, ":9443", cfg.Listen)
	require.Len(t, cfg.VHosts, 1)
}

func TestWatcher_SkipsInvalidConfig(t *testing.T) {
	path := writeConfig(t, validServerYAML)

	reloads := make(chan *Server, 4)
	w, err := NewWatcher(path, func(cfg *Server) { reloads <- cfg })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	// An invalid file must not reach the callback.
	require.NoError(t, os.WriteFile(path, []byte("vhosts: [unclosed"), 0o600))

	select {
	case <-reloads:
		t.Fatal("unexpected reload for invalid config")
	case <-time.After(300 * time.Millisecond):
	}

	// A subsequent valid write recovers.
	require.NoError(t, os.WriteFile(path, []byte(validServerYAML), 0o600))
	cfg := waitForReload(t, reloads)
	assert.Equal(t, ":8443", cfg.Listen)
}

func TestWatcher_StopIdempotent(t *testing.T) {
	path := writeConfig(t, validServerYAML)

	w, err := NewWatcher(path, func(*Server) {})
	require.NoError(t, err)

	require.NoError(t, w.Start(context.Background()))
	require.NoError(t, w.Stop())
	require.NoError(t, w.Stop())
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	path := writeConfig(t, validServerYAML)

	reloads := make(chan *Server, 4)
	w, err := NewWatcher(path, func(cfg *Server) { reloads <- cfg })
	require.NoError(t, err)
	w.debounce = 50 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	defer func() { require.NoError(t, w.Stop()) }()

	// Sibling files in the watched directory must not trigger reloads.
	sibling := path + ".bak"
	require.NoError(t, os.WriteFile(sibling, []byte("x"), 0o600))

	select {
	case <-reloads:
		t.Fatal("unexpected reload for unrelated file")
	case <-time.After(300 * time.Millisecond):
	}
}
