package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"time"

	"github.com/sessmux/sessmux/session"
)

// startDebugListener serves Prometheus metrics and a JSON snapshot of the
// per-vhost session caches on the configured debug address.
func (g *Gateway) startDebugListener(ctx context.Context) (*http.Server, error) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", g.metrics.Handler())
	mux.HandleFunc("/sessions", g.handleSessions)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	ln, err := net.Listen("tcp", g.config.DebugListen)
	if err != nil {
		return nil, fmt.Errorf("listen debug %s: %w", g.config.DebugListen, err)
	}

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error().Err(err).Msg("debug listener failed")
		}
	}()

	g.logger.Info().Str("listen", g.config.DebugListen).Msg("debug listener started")
	return srv, nil
}

func (g *Gateway) handleSessions(w http.ResponseWriter, r *http.Request) {
	owners := make([]*session.Owner, 0, len(g.vhosts))
	for _, vh := range g.vhosts {
		owners = append(owners, vh.Owner())
	}
	sort.Slice(owners, func(i, j int) bool { return owners[i].Name() < owners[j].Name() })

	w.Header().Set("Content-Type", "application/json")
	if err := g.manager.EncodeSnapshots(w, owners); err != nil {
		g.logger.Warn().Err(err).Msg("encode session snapshot failed")
	}
}
