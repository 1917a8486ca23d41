package pairing

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/dshills/livelink/internal/project/resource"
)

// Side names one half of a Pair.
type Side int

const (
	// SideProject is the project (on disk) half.
	SideProject Side = iota
	// SideLive is the live (runtime target) half.
	SideLive
)

// String returns the string representation of the side.
func (s Side) String() string {
	switch s {
	case SideProject:
		return "project"
	case SideLive:
		return "live"
	default:
		return "unknown"
	}
}

// ChangeEvent reports that one side of a pair was reassigned.
type ChangeEvent struct {
	Pair *Pair
	Side Side
	Old  resource.Resource
	New  resource.Resource
}

// Pair links at most one project resource with at most one live resource.
// A resource belongs to at most one Pair at a time.
//
// Pairs are created and mutated only by their Registry. A Pair keeps its
// identity for as long as the pairing it represents survives, so listeners
// attached with OnChange stay valid across rebuilds.
type Pair struct {
	id  uuid.UUID
	reg *Registry

	// Guarded by reg.mu.
	project resource.Resource
	live    resource.Resource

	listeners changeListeners
}

func newPair(reg *Registry) *Pair {
	return &Pair{id: uuid.New(), reg: reg}
}

// ID returns the pair's stable identifier.
func (p *Pair) ID() uuid.UUID { return p.id }

// Project returns the project side, or nil.
func (p *Pair) Project() resource.Resource {
	p.reg.mu.RLock()
	defer p.reg.mu.RUnlock()
	return p.project
}

// Live returns the live side, or nil.
func (p *Pair) Live() resource.Resource {
	p.reg.mu.RLock()
	defer p.reg.mu.RUnlock()
	return p.live
}

// Sides returns both sides under one lock.
func (p *Pair) Sides() (project, live resource.Resource) {
	p.reg.mu.RLock()
	defer p.reg.mu.RUnlock()
	return p.project, p.live
}

// OnChange registers fn to be called whenever a side of this pair changes.
// The returned function removes the listener.
func (p *Pair) OnChange(fn func(ChangeEvent)) func() {
	return p.listeners.add(fn)
}

// String describes the pair for logs.
func (p *Pair) String() string {
	project, live := p.Sides()
	return fmt.Sprintf("pair %s (project=%s live=%s)", p.id, describe(project), describe(live))
}

func (p *Pair) get(side Side) resource.Resource {
	if side == SideProject {
		return p.project
	}
	return p.live
}

func (p *Pair) set(side Side, r resource.Resource) {
	if side == SideProject {
		p.project = r
	} else {
		p.live = r
	}
}

func (p *Pair) empty() bool {
	return p.project == nil && p.live == nil
}

func describe(r resource.Resource) string {
	if r == nil {
		return "-"
	}
	return r.Path()
}

// changeListener is a registered callback.
type changeListener struct {
	fn     func(ChangeEvent)
	active atomic.Bool
}

// changeListeners is a copy-on-write listener list.
type changeListeners struct {
	mu   sync.Mutex
	list []*changeListener
}

func (cl *changeListeners) add(fn func(ChangeEvent)) func() {
	l := &changeListener{fn: fn}
	l.active.Store(true)

	cl.mu.Lock()
	next := make([]*changeListener, len(cl.list), len(cl.list)+1)
	copy(next, cl.list)
	cl.list = append(next, l)
	cl.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.active.Store(false)
			cl.mu.Lock()
			defer cl.mu.Unlock()
			next := make([]*changeListener, 0, len(cl.list))
			for _, x := range cl.list {
				if x != l {
					next = append(next, x)
				}
			}
			cl.list = next
		})
	}
}

func (cl *changeListeners) emit(ev ChangeEvent) {
	cl.mu.Lock()
	list := cl.list
	cl.mu.Unlock()

	for _, l := range list {
		if l.active.Load() {
			l.fn(ev)
		}
	}
}
