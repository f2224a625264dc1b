package vhost

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/netip"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sessmux/sessmux/config"
	"github.com/sessmux/sessmux/server/upstream"
	"github.com/sessmux/sessmux/session"
)

// VHost is one served name: the certificate presented downstream, the
// upstream set traffic is forwarded to, and the session cache used when
// dialing those upstreams.
type VHost struct {
	name string
	cert tls.Certificate

	owner  *session.Owner
	resume *session.ResumeCache

	upstreams  []*upstream.Upstream
	balancer   upstream.Balancer
	serverName string

	clientTLS *tls.Config
	dialer    *net.Dialer
	logger    zerolog.Logger
}

// New builds a vhost from its configuration. The session cache owner is
// registered with the manager-facing ResumeCache so upstream handshakes
// drive reuse and commit transparently.
func New(conf config.VHost, mgr *session.Manager) (*VHost, error) {
	cert, err := tls.LoadX509KeyPair(conf.CertFile, conf.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("load certificate for %q: %w", conf.Name, err)
	}

	owner := session.NewOwner(conf.Name, conf.SessionCache.EffectiveCapacity(), conf.SessionCache.TTL.Std())
	resume := session.NewResumeCache(owner, mgr)

	// No ClientSessionCache on the base config: DialUpstream installs a
	// per-dial view pinned to the endpoint it connects to.
	clientTLS := &tls.Config{}

	if conf.ClientCertFile != "" {
		clientCert, err := tls.LoadX509KeyPair(conf.ClientCertFile, conf.ClientKeyFile)
		if err != nil {
			return nil, fmt.Errorf("load client certificate for %q: %w", conf.Name, err)
		}
		clientTLS.Certificates = []tls.Certificate{clientCert}
	}

	if conf.UpstreamCAFile != "" {
		pem, err := os.ReadFile(conf.UpstreamCAFile)
		if err != nil {
			return nil, fmt.Errorf("read upstream CA for %q: %w", conf.Name, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates in upstream CA file for %q", conf.Name)
		}
		clientTLS.RootCAs = pool
	}

	upstreams := make([]*upstream.Upstream, len(conf.Upstreams))
	for i, addr := range conf.Upstreams {
		upstreams[i] = upstream.New(addr)
	}

	return &VHost{
		name:       conf.Name,
		cert:       cert,
		owner:      owner,
		resume:     resume,
		upstreams:  upstreams,
		balancer:   upstream.NewRoundRobinBalancer(),
		serverName: conf.UpstreamServerName,
		clientTLS:  clientTLS,
		dialer:     &net.Dialer{Timeout: config.DefaultDialTimeout},
		logger:     log.With().Str("com", "vhost").Str("vhost", conf.Name).Logger(),
	}, nil
}

// Name returns the SNI name the vhost serves.
func (v *VHost) Name() string { return v.name }

// Certificate returns the certificate presented downstream.
func (v *VHost) Certificate() *tls.Certificate { return &v.cert }

// Owner returns the vhost's session cache owner.
func (v *VHost) Owner() *session.Owner { return v.owner }

// DialUpstream connects to one of the vhost's upstreams over TLS. The
// handshake goes through the vhost's session cache, so repeated dials to the
// same endpoint resume instead of paying a full handshake.
func (v *VHost) DialUpstream(ctx context.Context) (*tls.Conn, *upstream.Upstream, error) {
	up, err := v.balancer.Select(v.upstreams)
	if err != nil {
		return nil, nil, err
	}

	raw, err := v.dialer.DialContext(ctx, "tcp", up.Addr())
	if err != nil {
		up.MarkDown()
		return nil, up, fmt.Errorf("dial upstream %s: %w", up.Addr(), err)
	}

	serverName := v.serverName
	if serverName == "" {
		host, _, err := net.SplitHostPort(up.Addr())
		if err != nil {
			raw.Close()
			return nil, up, fmt.Errorf("split upstream address %s: %w", up.Addr(), err)
		}
		serverName = host
	}

	cfg := v.clientTLS.Clone()
	cfg.ServerName = serverName
	// crypto/tls keys its session cache by server name, which concurrent
	// dials share; pin this handshake's cache view to the endpoint it
	// actually dialed so the session lands under that endpoint's key.
	if peer, ok := peerAddrPort(raw); ok {
		cfg.ClientSessionCache = v.resume.ForPeer(peer)
	}

	conn := tls.Client(raw, cfg)
	if err := conn.HandshakeContext(ctx); err != nil {
		conn.Close()
		up.MarkDown()
		return nil, up, fmt.Errorf("upstream handshake %s: %w", up.Addr(), err)
	}
	up.MarkUp()

	v.logger.Debug().
		Str("upstream", up.Addr()).
		Bool("resumed", conn.ConnectionState().DidResume).
		Msg("upstream connected")

	return conn, up, nil
}

func peerAddrPort(conn net.Conn) (netip.AddrPort, bool) {
	tcp, ok := conn.RemoteAddr().(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	return tcp.AddrPort(), true
}
