package sched

import (
	"container/heap"
	"sync"
	"time"
)

// Manual is a Scheduler driven by an explicit clock. Nothing fires until the
// test advances the clock, which makes TTL behavior deterministic.
type Manual struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks taskHeap
}

// NewManual returns a scheduler whose clock starts at zero.
func NewManual() *Manual {
	return &Manual{}
}

type manualTask struct {
	due       time.Duration
	seq       uint64
	fn        func()
	cancelled bool
	fired     bool
	index     int
}

func (m *Manual) Schedule(delay time.Duration, fn func()) Handle {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTask{
		due: m.now + delay,
		seq: m.seq,
		fn:  fn,
	}
	heap.Push(&m.tasks, t)
	return &manualHandle{m: m, t: t}
}

// Advance moves the clock forward by d and runs every callback that becomes
// due, in due order. The clock steps to each callback's due time before it
// fires, so a callback that reschedules within the advanced window fires
// again during the same Advance. Callbacks run without the scheduler lock
// held, so they may schedule or cancel freely.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now + d
	for {
		t := m.popDueLocked(target)
		if t == nil {
			break
		}
		if t.due > m.now {
			m.now = t.due
		}
		m.mu.Unlock()
		t.fn()
		m.mu.Lock()
	}
	m.now = target
	m.mu.Unlock()
}

// Now returns the current manual clock reading.
func (m *Manual) Now() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

// Pending returns the number of scheduled, not-yet-fired callbacks.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tasks {
		if !t.cancelled {
			n++
		}
	}
	return n
}

func (m *Manual) popDueLocked(target time.Duration) *manualTask {
	for m.tasks.Len() > 0 {
		t := m.tasks[0]
		if t.due > target {
			return nil
		}
		heap.Pop(&m.tasks)
		if t.cancelled {
			continue
		}
		t.fired = true
		return t
	}
	return nil
}

type manualHandle struct {
	m *Manual
	t *manualTask
}

func (h *manualHandle) Cancel() bool {
	h.m.mu.Lock()
	defer h.m.mu.Unlock()
	if h.t.fired || h.t.cancelled {
		return false
	}
	h.t.cancelled = true
	return true
}

// taskHeap orders tasks by due time, then by scheduling order.
type taskHeap []*manualTask

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].due != h[j].due {
		return h[i].due < h[j].due
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*manualTask)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
