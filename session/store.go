package session

import (
	"container/list"
	"time"

	"github.com/sessmux/sessmux/sched"
)

// entry is one cached session. It lives in exactly one owner's store.
type entry struct {
	key      string
	blob     Blob
	timer    sched.Handle
	elem     *list.Element
	storedAt time.Time
}

// store is the per-owner ordered collection of entries.
// Invariant: list head is least-recently-used, tail is most-recently-used,
// and byKey holds exactly the elements of order (at most one per key).
type store struct {
	byKey map[string]*list.Element
	order *list.List
}

func (s *store) init() {
	s.byKey = make(map[string]*list.Element)
	s.order = list.New()
}

func (s *store) len() int {
	return s.order.Len()
}

func (s *store) find(key string) *entry {
	el, ok := s.byKey[key]
	if !ok {
		return nil
	}
	return el.Value.(*entry)
}

// head returns the least-recently-used entry, or nil when empty.
func (s *store) head() *entry {
	el := s.order.Front()
	if el == nil {
		return nil
	}
	return el.Value.(*entry)
}

// pushTail appends e as the most-recently-used entry.
func (s *store) pushTail(e *entry) {
	e.elem = s.order.PushBack(e)
	s.byKey[e.key] = e.elem
}

// moveToTail marks e most-recently-used.
func (s *store) moveToTail(e *entry) {
	s.order.MoveToBack(e.elem)
}

// remove detaches e. It returns false when e was already removed.
func (s *store) remove(e *entry) bool {
	el, ok := s.byKey[e.key]
	if !ok || el != e.elem {
		return false
	}
	delete(s.byKey, e.key)
	s.order.Remove(e.elem)
	return true
}
