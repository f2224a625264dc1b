// Package sched provides single-shot callback scheduling for cache expiry.
//
// The session cache arms one timer per entry and needs to cancel it when the
// entry is destroyed early (eviction, teardown). The Scheduler interface keeps
// that contract narrow so tests can substitute a hand-driven clock.
package sched

import "time"

// Handle refers to one scheduled callback.
type Handle interface {
	// Cancel stops the callback from firing. It returns false when the
	// callback already fired or was already cancelled. Cancel is safe to
	// call more than once.
	Cancel() bool
}

// Scheduler schedules a callback to run once after a delay.
type Scheduler interface {
	Schedule(delay time.Duration, fn func()) Handle
}

// Wall schedules callbacks on the runtime timer wheel via time.AfterFunc.
// Callbacks run on their own goroutine; callers serialize against them with
// their own locks.
type Wall struct{}

// NewWall returns the wall-clock scheduler.
func NewWall() *Wall {
	return &Wall{}
}

func (*Wall) Schedule(delay time.Duration, fn func()) Handle {
	return wallHandle{t: time.AfterFunc(delay, fn)}
}

type wallHandle struct {
	t *time.Timer
}

func (h wallHandle) Cancel() bool {
	return h.t.Stop()
}
