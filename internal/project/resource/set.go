package resource

import (
	"sort"
	"sync"
	"sync/atomic"
)

// Set is an in-memory Collection. It is safe for concurrent use.
// Listeners are invoked after the set's lock is released, in subscription
// order.
type Set struct {
	mu        sync.RWMutex
	items     map[Resource]struct{}
	canPair   bool
	listeners listenerList
}

// NewSet creates an empty set.
func NewSet(canPair bool) *Set {
	return &Set{
		items:   make(map[Resource]struct{}),
		canPair: canPair,
	}
}

// Add inserts r and reports whether it was not already present.
func (s *Set) Add(r Resource) bool {
	if r == nil {
		return false
	}
	s.mu.Lock()
	if _, ok := s.items[r]; ok {
		s.mu.Unlock()
		return false
	}
	s.items[r] = struct{}{}
	s.mu.Unlock()

	s.listeners.emit(Event{Type: Added, Resource: r})
	return true
}

// Remove deletes r and reports whether it was present.
func (s *Set) Remove(r Resource) bool {
	if r == nil {
		return false
	}
	s.mu.Lock()
	if _, ok := s.items[r]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.items, r)
	s.mu.Unlock()

	s.listeners.emit(Event{Type: Removed, Resource: r})
	return true
}

// RemoveFunc removes every resource for which match returns true and returns
// the removed resources.
func (s *Set) RemoveFunc(match func(Resource) bool) []Resource {
	s.mu.Lock()
	var removed []Resource
	for r := range s.items {
		if match(r) {
			delete(s.items, r)
			removed = append(removed, r)
		}
	}
	s.mu.Unlock()

	sortResources(removed)
	for _, r := range removed {
		s.listeners.emit(Event{Type: Removed, Resource: r})
	}
	return removed
}

// Clear removes all resources.
func (s *Set) Clear() {
	s.RemoveFunc(func(Resource) bool { return true })
}

// Contains reports whether r is in the set.
func (s *Set) Contains(r Resource) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.items[r]
	return ok
}

// Len returns the number of resources.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Resources returns the resources sorted by relative path. It never fails.
func (s *Set) Resources() ([]Resource, error) {
	s.mu.RLock()
	out := make([]Resource, 0, len(s.items))
	for r := range s.items {
		out = append(out, r)
	}
	s.mu.RUnlock()

	sortResources(out)
	return out, nil
}

// Subscribe implements Collection.
func (s *Set) Subscribe(l Listener) func() {
	return s.listeners.add(l)
}

// CanPair implements Collection.
func (s *Set) CanPair() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canPair
}

// SetCanPair changes the pairing capability flag.
func (s *Set) SetCanPair(canPair bool) {
	s.mu.Lock()
	s.canPair = canPair
	s.mu.Unlock()
}

// subscription is a registered listener.
type subscription struct {
	fn     Listener
	active atomic.Bool
}

// listenerList is a copy-on-write list of subscriptions.
type listenerList struct {
	mu   sync.Mutex
	subs []*subscription
}

func (ll *listenerList) add(fn Listener) func() {
	sub := &subscription{fn: fn}
	sub.active.Store(true)

	ll.mu.Lock()
	next := make([]*subscription, len(ll.subs), len(ll.subs)+1)
	copy(next, ll.subs)
	ll.subs = append(next, sub)
	ll.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			ll.mu.Lock()
			defer ll.mu.Unlock()
			next := make([]*subscription, 0, len(ll.subs))
			for _, s := range ll.subs {
				if s != sub {
					next = append(next, s)
				}
			}
			ll.subs = next
		})
	}
}

func (ll *listenerList) emit(ev Event) {
	ll.mu.Lock()
	subs := ll.subs
	ll.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(ev)
		}
	}
}

// sortResources orders resources by relative path, then full path.
func sortResources(rs []Resource) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].RelativePath(), rs[j].RelativePath()
		if a != b {
			return a < b
		}
		return rs[i].Path() < rs[j].Path()
	})
}

// Ensure Set implements Collection.
var _ Collection = (*Set)(nil)
