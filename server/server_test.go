package server

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sessmux/sessmux/config"
)

// startUpstreamEcho runs a TLS echo backend. Every accepted connection's
// resumption state is reported on the returned channel.
func startUpstreamEcho(t *testing.T, certFile, keyFile string) (addr string, resumed chan bool, stop func()) {
	t.Helper()

	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	require.NoError(t, err)

	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{
		Certificates: []tls.Certificate{cert},
	})
	require.NoError(t, err)

	resumed = make(chan bool, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c *tls.Conn) {
				defer c.Close()
				if err := c.Handshake(); err != nil {
					return
				}
				resumed <- c.ConnectionState().DidResume
				buf := make([]byte, 4)
				if _, err := io.ReadFull(c, buf); err != nil {
					return
				}
				_, _ = c.Write(buf)
			}(conn.(*tls.Conn))
		}
	}()

	return ln.Addr().String(), resumed, func() {
		ln.Close()
		<-done
	}
}

func startGateway(t *testing.T, conf *config.Server) (*Gateway, context.CancelFunc, chan error) {
	t.Helper()

	g, err := New(conf)
	require.NoError(t, err)
	require.NoError(t, g.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- g.Serve(ctx) }()
	return g, cancel, errCh
}

func dialGateway(t *testing.T, addr, serverName string, pool *x509.CertPool) *tls.Conn {
	t.Helper()

	conn, err := tls.Dial("tcp", addr, &tls.Config{
		RootCAs:    pool,
		ServerName: serverName,
	})
	require.NoError(t, err)
	return conn
}

func echoThrough(t *testing.T, conn *tls.Conn) {
	t.Helper()

	_, err := conn.Write([]byte("ping"))
	require.NoError(t, err)
	buf := make([]byte, 4)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf))
}

func waitResumed(t *testing.T, ch chan bool) bool {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for upstream connection")
		return false
	}
}

func TestGateway_EndToEnd_SessionReuse(t *testing.T) {
	dir := t.TempDir()
	upCert, upKey, _ := writeSelfSignedCert(t, dir, "upstream", []string{"upstream.test"})
	vhCert, vhKey, vhPool := writeSelfSignedCert(t, dir, "example", []string{"example.test"})

	upAddr, resumed, stopUp := startUpstreamEcho(t, upCert, upKey)
	defer stopUp()

	conf := &config.Server{
		Listen: "127.0.0.1:0",
		VHosts: []config.VHost{{
			Name:               "example.test",
			CertFile:           vhCert,
			KeyFile:            vhKey,
			Upstreams:          []string{upAddr},
			UpstreamCAFile:     upCert,
			UpstreamServerName: "upstream.test",
		}},
	}

	g, cancel, errCh := startGateway(t, conf)
	defer cancel()

	// First connection: full upstream handshake, session gets cached.
	conn := dialGateway(t, g.Addr().String(), "example.test", vhPool)
	echoThrough(t, conn)
	assert.False(t, waitResumed(t, resumed), "first upstream handshake must be full")
	conn.Close()

	// The cached session shows up under the vhost owner.
	require.Eventually(t, func() bool {
		return g.vhosts["example.test"].Owner().Len() == 1
	}, 5*time.Second, 10*time.Millisecond, "expected one cached session")

	// Second connection: upstream handshake resumes from the cache.
	conn = dialGateway(t, g.Addr().String(), "example.test", vhPool)
	echoThrough(t, conn)
	assert.True(t, waitResumed(t, resumed), "second upstream handshake should resume")
	conn.Close()

	cancel()
	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("gateway did not shut down")
	}
}

func TestGateway_UnknownSNIRejected(t *testing.T) {
	dir := t.TempDir()
	upCert, upKey, _ := writeSelfSignedCert(t, dir, "upstream", []string{"upstream.test"})
	vhCert, vhKey, vhPool := writeSelfSignedCert(t, dir, "example", []string{"example.test"})

	upAddr, _, stopUp := startUpstreamEcho(t, upCert, upKey)
	defer stopUp()

	conf := &config.Server{
		Listen: "127.0.0.1:0",
		VHosts: []config.VHost{{
			Name:               "example.test",
			CertFile:           vhCert,
			KeyFile:            vhKey,
			Upstreams:          []string{upAddr},
			UpstreamCAFile:     upCert,
			UpstreamServerName: "upstream.test",
		}},
	}

	g, cancel, errCh := startGateway(t, conf)
	defer cancel()

	_, err := tls.Dial("tcp", g.Addr().String(), &tls.Config{
		RootCAs:    vhPool,
		ServerName: "unknown.test",
	})
	require.Error(t, err, "handshake for an unconfigured name must fail")

	cancel()
	<-errCh
}

func TestGateway_DisabledCacheNeverResumes(t *testing.T) {
	dir := t.TempDir()
	upCert, upKey, _ := writeSelfSignedCert(t, dir, "upstream", []string{"upstream.test"})
	vhCert, vhKey, vhPool := writeSelfSignedCert(t, dir, "example", []string{"example.test"})

	upAddr, resumed, stopUp := startUpstreamEcho(t, upCert, upKey)
	defer stopUp()

	conf := &config.Server{
		Listen: "127.0.0.1:0",
		VHosts: []config.VHost{{
			Name:               "example.test",
			CertFile:           vhCert,
			KeyFile:            vhKey,
			Upstreams:          []string{upAddr},
			UpstreamCAFile:     upCert,
			UpstreamServerName: "upstream.test",
			SessionCache:       config.SessionCache{Disabled: true},
		}},
	}

	g, cancel, errCh := startGateway(t, conf)
	defer cancel()

	for i := 0; i < 2; i++ {
		conn := dialGateway(t, g.Addr().String(), "example.test", vhPool)
		echoThrough(t, conn)
		assert.False(t, waitResumed(t, resumed), "disabled cache must never resume")
		conn.Close()
	}
	assert.Equal(t, 0, g.vhosts["example.test"].Owner().Len())

	cancel()
	<-errCh
}

func TestGateway_ApplyConfigUpdatesTTL(t *testing.T) {
	dir := t.TempDir()
	vhCert, vhKey, _ := writeSelfSignedCert(t, dir, "example", []string{"example.test"})

	conf := &config.Server{
		Listen: "127.0.0.1:0",
		VHosts: []config.VHost{{
			Name:      "example.test",
			CertFile:  vhCert,
			KeyFile:   vhKey,
			Upstreams: []string{"127.0.0.1:9"},
		}},
	}

	g, err := New(conf)
	require.NoError(t, err)

	updated := *conf
	updated.VHosts = append([]config.VHost(nil), conf.VHosts...)
	updated.VHosts[0].SessionCache.TTL = config.Duration(15 * time.Minute)
	updated.VHosts = append(updated.VHosts, config.VHost{Name: "added.test"})

	g.ApplyConfig(&updated)

	assert.Equal(t, 15*time.Minute, g.vhosts["example.test"].Owner().TTL())
	// The added vhost is ignored until restart.
	assert.NotContains(t, g.vhosts, "added.test")
}

func TestGateway_ListenError(t *testing.T) {
	conf := &config.Server{
		Listen: "256.0.0.1:bad",
		VHosts: []config.VHost{},
	}
	g, err := New(conf)
	require.NoError(t, err)
	require.Error(t, g.Listen())
	assert.Nil(t, g.Addr())
}
