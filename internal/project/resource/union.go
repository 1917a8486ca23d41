package resource

import (
	"fmt"
	"sync"
)

// Union presents several collections as one, for projects with more than
// one root. Resources keep their own owner, so each member's CanPair flag
// still applies per resource.
type Union struct {
	mu        sync.Mutex
	members   []*unionMember
	listeners listenerList
}

type unionMember struct {
	coll   Collection
	cancel func()
}

// NewUnion creates a union of the given collections.
func NewUnion(colls ...Collection) *Union {
	u := &Union{}
	for _, c := range colls {
		u.attach(c)
	}
	return u
}

// Attach adds a member collection and reports its current resources as added.
// Attaching a collection twice has no effect.
func (u *Union) Attach(c Collection) error {
	if !u.attach(c) {
		return nil
	}
	rs, err := c.Resources()
	if err != nil {
		return fmt.Errorf("attach collection: %w", err)
	}
	for _, r := range rs {
		u.listeners.emit(Event{Type: Added, Resource: r})
	}
	return nil
}

func (u *Union) attach(c Collection) bool {
	if c == nil {
		return false
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, m := range u.members {
		if m.coll == c {
			return false
		}
	}
	m := &unionMember{coll: c}
	m.cancel = c.Subscribe(u.listeners.emit)
	u.members = append(u.members, m)
	return true
}

// Detach removes a member collection. Its event forwarding stops at once and
// its resources are reported as removed.
func (u *Union) Detach(c Collection) error {
	u.mu.Lock()
	var found *unionMember
	for i, m := range u.members {
		if m.coll == c {
			found = m
			u.members = append(u.members[:i:i], u.members[i+1:]...)
			break
		}
	}
	u.mu.Unlock()

	if found == nil {
		return nil
	}
	found.cancel()

	rs, err := c.Resources()
	if err != nil {
		return fmt.Errorf("detach collection: %w", err)
	}
	for _, r := range rs {
		u.listeners.emit(Event{Type: Removed, Resource: r})
	}
	return nil
}

// Members returns the member collections in attach order.
func (u *Union) Members() []Collection {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]Collection, len(u.members))
	for i, m := range u.members {
		out[i] = m.coll
	}
	return out
}

// Resources implements Collection. An enumeration failure of any member is
// returned as is.
func (u *Union) Resources() ([]Resource, error) {
	var out []Resource
	for _, c := range u.Members() {
		rs, err := c.Resources()
		if err != nil {
			return nil, err
		}
		out = append(out, rs...)
	}
	return out, nil
}

// Subscribe implements Collection.
func (u *Union) Subscribe(l Listener) func() {
	return u.listeners.add(l)
}

// CanPair implements Collection. A union never vetoes pairing itself;
// the members decide per resource.
func (u *Union) CanPair() bool { return true }

// Close detaches all members without emitting events.
func (u *Union) Close() {
	u.mu.Lock()
	members := u.members
	u.members = nil
	u.mu.Unlock()
	for _, m := range members {
		m.cancel()
	}
}

// Ensure Union implements Collection.
var _ Collection = (*Union)(nil)
