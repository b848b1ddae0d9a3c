package tracker

import (
	"container/list"
	"sync"
)

// DefaultClientCapacity bounds the number of distinct clients remembered.
const DefaultClientCapacity = 10000

// ClientSet is a fixed-capacity set of client identities. When full, the
// least recently seen identity is evicted.
type ClientSet struct {
	capacity int

	mu    sync.Mutex
	order *list.List // front = most recently seen
	items map[string]*list.Element
}

// NewClientSet creates a set holding at most capacity identities.
// A non-positive capacity selects DefaultClientCapacity.
func NewClientSet(capacity int) *ClientSet {
	if capacity <= 0 {
		capacity = DefaultClientCapacity
	}
	return &ClientSet{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[string]*list.Element, capacity),
	}
}

// Add records id as seen. It returns the set size after the insertion and
// the number of identities evicted (0 or 1).
func (s *ClientSet) Add(id string) (size, evicted int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.items[id]; ok {
		s.order.MoveToFront(e)
		return s.order.Len(), 0
	}
	s.items[id] = s.order.PushFront(id)

	if s.order.Len() <= s.capacity {
		return s.order.Len(), 0
	}
	oldest := s.order.Back()
	s.order.Remove(oldest)
	delete(s.items, oldest.Value.(string))
	return s.order.Len(), 1
}

// Contains reports whether id is in the set. It does not refresh recency.
func (s *ClientSet) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.items[id]
	return ok
}

// Len returns the number of identities in the set.
func (s *ClientSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Capacity returns the bound.
func (s *ClientSet) Capacity() int { return s.capacity }
