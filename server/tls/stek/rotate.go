package stek

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Rotator rotates TLS session ticket encryption keys on a fixed interval.
// The first key encrypts new tickets; the remaining keys stay valid for
// decryption so tickets issued before a rotation keep resuming during the
// overlap window.
//
// Keys can be read concurrently through the atomic pointer. Rotation runs in
// a single background goroutine.
type Rotator struct {
	keys     atomic.Pointer[[][32]byte]
	interval time.Duration
	overlap  uint8
	ticker   *time.Ticker
	stopCh   chan struct{}
	logger   zerolog.Logger
}

// NewRotator creates a Rotator with the given rotation interval. overlap is
// the number of keys kept live (the current key plus old ones).
func NewRotator(interval time.Duration, overlap uint8) (*Rotator, error) {
	if interval <= 0 {
		return nil, fmt.Errorf("rotation interval must be positive, got %v", interval)
	}
	if overlap < 1 {
		return nil, fmt.Errorf("overlap must be at least 1, got %d", overlap)
	}

	r := &Rotator{
		interval: interval,
		overlap:  overlap,
		logger:   log.With().Str("com", "stek").Logger(),
	}

	initial := make([][32]byte, overlap)
	for i := range initial {
		key, err := generateKey()
		if err != nil {
			return nil, fmt.Errorf("generate initial key %d: %w", i, err)
		}
		initial[i] = key
	}
	r.keys.Store(&initial)

	r.logger.Info().
		Int("initial_keys", len(initial)).
		Uint8("overlap", overlap).
		Msg("initialized session ticket encryption keys")

	return r, nil
}

// Keys returns the current key set, newest first.
func (r *Rotator) Keys() [][32]byte {
	return *r.keys.Load()
}

// Apply installs the rotator's keys into a server TLS config. Handshakes
// pick up rotated keys through GetConfigForClient; an already-set callback
// is preserved and runs first.
func (r *Rotator) Apply(conf *tls.Config) {
	conf.SetSessionTicketKeys(r.Keys())

	inner := conf.GetConfigForClient
	conf.GetConfigForClient = func(chi *tls.ClientHelloInfo) (*tls.Config, error) {
		base := conf
		if inner != nil {
			selected, err := inner(chi)
			if err != nil {
				return nil, err
			}
			if selected != nil {
				base = selected
			}
		}
		out := base.Clone()
		out.SetSessionTicketKeys(r.Keys())
		return out, nil
	}
}

func generateKey() ([32]byte, error) {
	var key [32]byte
	if _, err := rand.Read(key[:]); err != nil {
		return key, fmt.Errorf("generate session ticket key: %w", err)
	}
	return key, nil
}

// rotate prepends a fresh key and drops the oldest beyond the overlap.
func (r *Rotator) rotate() error {
	newKey, err := generateKey()
	if err != nil {
		return err
	}

	current := *r.keys.Load()
	size := len(current) + 1
	if size > int(r.overlap) {
		size = int(r.overlap)
	}

	next := make([][32]byte, size)
	next[0] = newKey
	copy(next[1:], current)
	r.keys.Store(&next)

	r.logger.Info().
		Int("live_keys", len(next)).
		Msg("rotated session ticket encryption keys")

	return nil
}

// Start begins periodic rotation. It runs until the context is cancelled or
// Stop is called.
func (r *Rotator) Start(ctx context.Context) {
	r.ticker = time.NewTicker(r.interval)
	r.stopCh = make(chan struct{})

	r.logger.Info().
		Dur("interval", r.interval).
		Uint8("overlap", r.overlap).
		Msg("starting session ticket key rotation")

	go r.run(ctx)
}

func (r *Rotator) run(ctx context.Context) {
	for {
		select {
		case <-r.ticker.C:
			if err := r.rotate(); err != nil {
				r.logger.Error().Err(err).Msg("failed to rotate session ticket keys")
			}
		case <-ctx.Done():
			r.ticker.Stop()
			close(r.stopCh)
			return
		case <-r.stopCh:
			r.ticker.Stop()
			return
		}
	}
}

// Stop ends the rotation. Safe to call more than once.
func (r *Rotator) Stop() {
	if r.stopCh != nil {
		select {
		case <-r.stopCh:
		default:
			close(r.stopCh)
		}
	}
}
