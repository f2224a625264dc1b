// Package server implements the sessmux gateway: a TLS terminator that picks
// a vhost by SNI, forwards the plaintext to one of the vhost's upstreams over
// its own TLS connection, and reuses cached upstream sessions across
// connections.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sessmux/sessmux/config"
	"github.com/sessmux/sessmux/relay"
	"github.com/sessmux/sessmux/sched"
	"github.com/sessmux/sessmux/server/connid"
	"github.com/sessmux/sessmux/server/tls/stek"
	"github.com/sessmux/sessmux/server/vhost"
	"github.com/sessmux/sessmux/session"
)

// Gateway is the sessmux server
type Gateway struct {
	config  *config.Server
	vhosts  map[string]*vhost.VHost
	manager *session.Manager
	metrics *session.Metrics
	rotator *stek.Rotator
	ln      net.Listener
	logger  zerolog.Logger
}

// New creates a new gateway
func New(conf *config.Server) (*Gateway, error) {
	// Apply defaults to ensure all required fields have values
	conf.ApplyDefaults()

	logger := log.With().Str("com", "server").Str("instance", conf.InstanceID).Logger()

	metrics := session.NewMetrics()
	manager := session.NewTLSManager(sched.NewWall(), session.WithMetrics(metrics))

	vhosts := make(map[string]*vhost.VHost, len(conf.VHosts))
	for _, vc := range conf.VHosts {
		vh, err := vhost.New(vc, manager)
		if err != nil {
			return nil, err
		}
		vhosts[vc.Name] = vh
		logger.Info().
			Str("vhost", vc.Name).
			Int("cache_capacity", vc.SessionCache.EffectiveCapacity()).
			Dur("cache_ttl", vc.SessionCache.TTL.Std()).
			Int("upstreams", len(vc.Upstreams)).
			Msg("configured vhost")
	}

	var rotator *stek.Rotator
	if conf.TLS.SessionTicketKeyRotationInterval > 0 {
		var err error
		rotator, err = stek.NewRotator(
			conf.TLS.SessionTicketKeyRotationInterval.Std(),
			conf.TLS.SessionTicketKeyRotationOverlap,
		)
		if err != nil {
			return nil, fmt.Errorf("initialize session ticket key rotation: %w", err)
		}
		logger.Info().
			Dur("rotation_interval", conf.TLS.SessionTicketKeyRotationInterval.Std()).
			Uint8("key_overlap", conf.TLS.SessionTicketKeyRotationOverlap).
			Msg("session ticket key rotation enabled")
	}

	return &Gateway{
		config:  conf,
		vhosts:  vhosts,
		manager: manager,
		metrics: metrics,
		rotator: rotator,
		logger:  logger,
	}, nil
}

// Start builds a gateway from the configuration and runs it until the
// context is cancelled.
func Start(ctx context.Context, conf *config.Server) error {
	g, err := New(conf)
	if err != nil {
		return err
	}
	return g.Run(ctx)
}

// tlsConfig builds the downstream-facing TLS config. Certificates are picked
// by SNI against the configured vhosts.
func (g *Gateway) tlsConfig() *tls.Config {
	conf := &tls.Config{
		GetCertificate: func(chi *tls.ClientHelloInfo) (*tls.Certificate, error) {
			if vh, ok := g.vhosts[chi.ServerName]; ok {
				return vh.Certificate(), nil
			}
			return nil, fmt.Errorf("no vhost for server name %q", chi.ServerName)
		},
	}
	if g.rotator != nil {
		g.rotator.Apply(conf)
	}
	return conf
}

// Run listens and serves connections until the context is cancelled.
func (g *Gateway) Run(ctx context.Context) error {
	if err := g.Listen(); err != nil {
		return err
	}
	return g.Serve(ctx)
}

// Listen binds the gateway's TLS listener.
func (g *Gateway) Listen() error {
	ln, err := tls.Listen("tcp", g.config.Listen, g.tlsConfig())
	if err != nil {
		return fmt.Errorf("listen %s: %w", g.config.Listen, err)
	}
	g.ln = ln
	return nil
}

// Addr returns the bound listen address. Valid after Listen.
func (g *Gateway) Addr() net.Addr {
	if g.ln == nil {
		return nil
	}
	return g.ln.Addr()
}

// Serve accepts connections on the bound listener until the context is
// cancelled.
func (g *Gateway) Serve(ctx context.Context) error {
	ln := g.ln
	defer ln.Close()

	if g.rotator != nil {
		g.rotator.Start(ctx)
		defer g.rotator.Stop()
	}

	if g.config.DebugListen != "" {
		debug, err := g.startDebugListener(ctx)
		if err != nil {
			return err
		}
		defer debug.Close()
	}

	// Cached upstream sessions die with the gateway; release their blobs.
	defer func() {
		for _, vh := range g.vhosts {
			g.manager.DestroyAll(vh.Owner())
		}
	}()

	g.logger.Info().
		Str("listen", g.config.Listen).
		Int("vhost_count", len(g.vhosts)).
		Msg("gateway started")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				g.logger.Info().Msg("gateway shutting down")
				return ctx.Err()
			}
			g.logger.Error().Err(err).Msg("accept connection failed")
			continue
		}

		go g.handleConn(ctx, conn.(*tls.Conn))
	}
}

// handleConn terminates one downstream connection and relays it to an
// upstream of the vhost selected by SNI.
func (g *Gateway) handleConn(ctx context.Context, conn *tls.Conn) {
	defer conn.Close()

	logger := g.logger.With().
		Uint64("conn_id", connid.Next()).
		Str("remote", conn.RemoteAddr().String()).
		Logger()

	if err := conn.HandshakeContext(ctx); err != nil {
		logger.Debug().Err(err).Msg("downstream handshake failed")
		return
	}

	serverName := conn.ConnectionState().ServerName
	vh, ok := g.vhosts[serverName]
	if !ok {
		// GetCertificate already rejects unknown names; this covers clients
		// that omit SNI entirely.
		logger.Debug().Str("server_name", serverName).Msg("no vhost for connection")
		return
	}
	logger = logger.With().Str("vhost", vh.Name()).Logger()

	up, selected, err := vh.DialUpstream(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("upstream dial failed")
		return
	}
	defer up.Close()

	logger.Info().
		Str("upstream", selected.Addr()).
		Bool("session_reused", up.ConnectionState().DidResume).
		Msg("connection established")

	res := relay.Pipe(conn, up, func() {
		conn.Close()
		up.Close()
	})
	if res.Err != nil && !errors.Is(res.Err, net.ErrClosed) {
		logger.Debug().Err(res.Err).Msg("relay ended with error")
	}

	logger.Info().
		Int64("bytes_down", res.Down).
		Int64("bytes_up", res.Up).
		Msg("connection closed")
}

// ApplyConfig applies a reloaded configuration to the running gateway.
// Only per-vhost session cache TTLs take effect at runtime; structural
// changes (listen addresses, vhost sets, certificates) need a restart.
func (g *Gateway) ApplyConfig(conf *config.Server) {
	for _, vc := range conf.VHosts {
		vh, ok := g.vhosts[vc.Name]
		if !ok {
			g.logger.Warn().Str("vhost", vc.Name).Msg("new vhost in reloaded config ignored, restart required")
			continue
		}
		ttl := vc.SessionCache.TTL.Std()
		if ttl != vh.Owner().TTL() {
			g.manager.Configure(vh.Owner(), ttl)
		}
	}
}
