// Package pairing keeps project resources and live resources paired.
//
// A Registry watches two collections: the project (files on disk) and the
// live side (for example style sheets reported by a running page). After
// either side changes it rebuilds, once the events have gone quiet, the set
// of Pairs linking each live resource to the project resource that most
// likely backs it. Pairings made by hand with ManualPair survive rebuilds.
//
//	reg := pairing.NewRegistry(pairing.WithLogger(log))
//	defer reg.Close()
//	if err := reg.SetProjectCollection(project); err != nil { ... }
//	if err := reg.SetLiveCollection(live); err != nil { ... }
//	reg.Flush()
//	pair := reg.PairFor(sheet)
//	pair.OnChange(func(ev pairing.ChangeEvent) { ... })
//
// # Invariants
//
// A resource is held by at most one Pair. Assigning a resource to a Pair
// first clears it from the Pair that held it before. Every occupied side of
// every Pair is registered in the registry's resource table.
//
// # Thread Safety
//
// Registry is safe for concurrent use. Listeners run on the goroutine that
// made the change, after the registry lock has been released.
package pairing

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dshills/livelink/internal/project/index"
	"github.com/dshills/livelink/internal/project/resource"
)

// Errors returned by the registry.
var (
	ErrNilResource = errors.New("resource is nil")
	ErrForeignPair = errors.New("pair belongs to another registry")
	ErrClosed      = errors.New("registry is closed")
)

// ManualChange reports that a manual pairing was recorded or dropped.
type ManualChange struct {
	Project resource.Resource
	Live    resource.Resource
	Removed bool

	// Stale is set when the pairing was dropped because one of its
	// resources left its collection.
	Stale bool
}

// Config holds registry configuration.
type Config struct {
	// Debounce is the quiet window before a scheduled rebuild runs.
	Debounce time.Duration

	// Logger receives rebuild diagnostics.
	Logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Config)

// WithDebounce sets the rebuild quiet window.
func WithDebounce(d time.Duration) Option {
	return func(c *Config) {
		c.Debounce = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Registry owns the pairing between a project collection and a live
// collection.
type Registry struct {
	mu     sync.RWMutex
	logger *slog.Logger

	project       resource.Collection
	projectCancel func()
	projectIndex  *index.ResourceIndex

	live       resource.Collection
	liveCancel func()

	// owners maps every paired resource (either side) to its pair.
	owners map[resource.Resource]*Pair
	// pairs holds every non-empty pair.
	pairs map[*Pair]struct{}
	// manual maps a live resource to the project resource it was paired
	// with by hand.
	manual map[resource.Resource]resource.Resource

	listeners changeListeners
	manualMu  sync.Mutex
	manualFns []func(ManualChange)

	rebuildMu sync.Mutex
	debouncer *Debouncer
	closed    bool
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	config := Config{Debounce: DefaultDebounce}
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	r := &Registry{
		logger:       logger,
		projectIndex: index.New(),
		owners:       make(map[resource.Resource]*Pair),
		pairs:        make(map[*Pair]struct{}),
		manual:       make(map[resource.Resource]resource.Resource),
	}
	r.debouncer = NewDebouncer(config.Debounce, r.debouncedRebuild)
	return r
}

// ProjectIndex returns the index of the current project collection.
func (r *Registry) ProjectIndex() *index.ResourceIndex {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.projectIndex
}

// projectFeed routes one project collection's events into its index.
// Events that arrive while the collection is being enumerated are queued
// and replayed, in order, once the snapshot has been indexed.
type projectFeed struct {
	mu      sync.Mutex
	idx     *index.ResourceIndex
	pending []resource.Event
}

func (f *projectFeed) apply(ev resource.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.idx == nil {
		f.pending = append(f.pending, ev)
		return
	}
	applyEvent(f.idx, ev)
}

// fill indexes the snapshot, replays queued events, and routes later
// events straight to idx.
func (f *projectFeed) fill(idx *index.ResourceIndex, snapshot []resource.Resource) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, res := range snapshot {
		idx.Add(res)
	}
	for _, ev := range f.pending {
		applyEvent(idx, ev)
	}
	f.pending = nil
	f.idx = idx
}

func applyEvent(idx *index.ResourceIndex, ev resource.Event) {
	switch ev.Type {
	case resource.Added:
		idx.Add(ev.Resource)
	case resource.Removed:
		idx.Remove(ev.Resource)
	}
}

// SetProjectCollection replaces the project collection. The previous
// collection stops forwarding events immediately. The new collection is
// indexed into a fresh index that replaces the current one once complete,
// so a rebuild running meanwhile sees the previous index rather than a
// partial one. A rebuild is then scheduled. A nil collection detaches the
// project side.
func (r *Registry) SetProjectCollection(c resource.Collection) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.projectCancel != nil {
		r.projectCancel()
		r.projectCancel = nil
	}
	r.project = c
	if c == nil {
		r.projectIndex = index.New()
	}
	r.mu.Unlock()

	if c != nil {
		feed := &projectFeed{}
		cancel := c.Subscribe(func(ev resource.Event) { r.onProjectEvent(c, feed, ev) })
		rs, err := c.Resources()
		if err != nil {
			cancel()
			r.mu.Lock()
			if r.project == c {
				r.project = nil
				r.projectIndex = index.New()
			}
			r.mu.Unlock()
			return fmt.Errorf("enumerate project resources: %w", err)
		}
		idx := index.New()
		feed.fill(idx, rs)

		r.mu.Lock()
		if r.project == c {
			r.projectIndex = idx
			r.projectCancel = cancel
		} else {
			cancel()
		}
		r.mu.Unlock()
	}

	r.ScheduleRebuild()
	return nil
}

// SetLiveCollection replaces the live collection and schedules a rebuild.
// A nil collection detaches the live side.
func (r *Registry) SetLiveCollection(c resource.Collection) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	if r.liveCancel != nil {
		r.liveCancel()
		r.liveCancel = nil
	}
	r.live = c
	if c != nil {
		r.liveCancel = c.Subscribe(func(resource.Event) { r.ScheduleRebuild() })
	}
	r.mu.Unlock()

	r.ScheduleRebuild()
	return nil
}

func (r *Registry) onProjectEvent(c resource.Collection, feed *projectFeed, ev resource.Event) {
	r.mu.RLock()
	current := r.project == c
	r.mu.RUnlock()
	if !current {
		return
	}

	feed.apply(ev)
	r.ScheduleRebuild()
}

// ScheduleRebuild schedules a rebuild after the quiet window, replacing any
// rebuild already scheduled.
func (r *Registry) ScheduleRebuild() {
	r.debouncer.Trigger()
}

// Flush runs a scheduled rebuild now and returns its error. It returns nil
// without rebuilding when nothing is scheduled.
func (r *Registry) Flush() error {
	if !r.debouncer.Cancel() {
		return nil
	}
	return r.Rebuild()
}

func (r *Registry) debouncedRebuild() {
	if err := r.Rebuild(); err != nil && !errors.Is(err, ErrClosed) {
		r.logger.Error("pairing rebuild failed", "error", err)
	}
}

// Close stops scheduled rebuilds and detaches both collections. A rebuild
// that is already running finishes on its own; Close does not wait for it,
// so it is safe to call from OnChange and OnManualChange listeners.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	if r.projectCancel != nil {
		r.projectCancel()
		r.projectCancel = nil
	}
	if r.liveCancel != nil {
		r.liveCancel()
		r.liveCancel = nil
	}
	r.mu.Unlock()

	r.debouncer.Stop()
	return nil
}

// OnChange registers fn for every pair change in the registry.
func (r *Registry) OnChange(fn func(ChangeEvent)) func() {
	return r.listeners.add(fn)
}

// OnManualChange registers fn to be told when manual pairings are recorded
// or dropped.
func (r *Registry) OnManualChange(fn func(ManualChange)) {
	r.manualMu.Lock()
	r.manualFns = append(r.manualFns, fn)
	r.manualMu.Unlock()
}

// Lookup returns the pair holding res, if any.
func (r *Registry) Lookup(res resource.Resource) (*Pair, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.owners[res]
	return p, ok
}

// PairFor returns the pair holding res, creating a one-sided pair if there
// is none. Resources in the project index go on the project side, all others
// on the live side. A nil resource yields nil.
func (r *Registry) PairFor(res resource.Resource) *Pair {
	if res == nil {
		return nil
	}

	side := SideLive
	if r.ProjectIndex().Contains(res) {
		side = SideProject
	}

	var events []ChangeEvent
	r.mu.Lock()
	p, ok := r.owners[res]
	if !ok {
		p = newPair(r)
		r.assignLocked(p, side, res, &events)
	}
	r.mu.Unlock()

	r.dispatch(events)
	return p
}

// SetProject assigns res to the project side of p. A nil res clears it.
func (r *Registry) SetProject(p *Pair, res resource.Resource) error {
	return r.setSide(p, SideProject, res)
}

// SetLive assigns res to the live side of p. A nil res clears it.
func (r *Registry) SetLive(p *Pair, res resource.Resource) error {
	return r.setSide(p, SideLive, res)
}

func (r *Registry) setSide(p *Pair, side Side, res resource.Resource) error {
	if p == nil || p.reg != r {
		return ErrForeignPair
	}
	var events []ChangeEvent
	r.mu.Lock()
	r.assignLocked(p, side, res, &events)
	r.mu.Unlock()

	r.dispatch(events)
	return nil
}

// ManualPair pairs project with live regardless of fuzzy matching and
// records the pairing so that rebuilds keep it until either resource is
// removed. Calling it again with the same arguments changes nothing.
func (r *Registry) ManualPair(project, live resource.Resource) (*Pair, error) {
	if project == nil || live == nil {
		return nil, ErrNilResource
	}

	var (
		events  []ChangeEvent
		changes []ManualChange
	)
	r.mu.Lock()
	p, ok := r.owners[live]
	if !ok {
		p, ok = r.owners[project]
	}
	if !ok {
		p = newPair(r)
	}
	r.assignLocked(p, SideProject, project, &events)
	r.assignLocked(p, SideLive, live, &events)

	// A project resource backs at most one manual pairing.
	for l, proj := range r.manual {
		if proj == project && l != live {
			delete(r.manual, l)
			changes = append(changes, ManualChange{Project: proj, Live: l, Removed: true})
		}
	}
	if prev, had := r.manual[live]; !had || prev != project {
		if had {
			changes = append(changes, ManualChange{Project: prev, Live: live, Removed: true})
		}
		r.manual[live] = project
		changes = append(changes, ManualChange{Project: project, Live: live})
	}
	r.mu.Unlock()

	r.dispatch(events)
	r.notifyManual(changes)
	return p, nil
}

// Unpair drops the manual pairing of live, if any. The current pair is left
// as is; the next rebuild pairs live by fuzzy matching again.
func (r *Registry) Unpair(live resource.Resource) bool {
	r.mu.Lock()
	project, ok := r.manual[live]
	delete(r.manual, live)
	r.mu.Unlock()

	if ok {
		r.notifyManual([]ManualChange{{Project: project, Live: live, Removed: true}})
		r.ScheduleRebuild()
	}
	return ok
}

// ManualPairs returns a snapshot of the manual pairings, live to project.
func (r *Registry) ManualPairs() map[resource.Resource]resource.Resource {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[resource.Resource]resource.Resource, len(r.manual))
	for l, p := range r.manual {
		out[l] = p
	}
	return out
}

// Pairs returns the non-empty pairs ordered by live path, then project path.
func (r *Registry) Pairs() []*Pair {
	r.mu.RLock()
	type keyed struct {
		p          *Pair
		live, proj string
	}
	list := make([]keyed, 0, len(r.pairs))
	for p := range r.pairs {
		list = append(list, keyed{p: p, live: pathOf(p.live), proj: pathOf(p.project)})
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		if list[i].live != list[j].live {
			return list[i].live < list[j].live
		}
		if list[i].proj != list[j].proj {
			return list[i].proj < list[j].proj
		}
		return list[i].p.id.String() < list[j].p.id.String()
	})
	out := make([]*Pair, len(list))
	for i, k := range list {
		out[i] = k.p
	}
	return out
}

func pathOf(r resource.Resource) string {
	if r == nil {
		return ""
	}
	return r.Path()
}

// Rebuild recomputes the pairing of every live resource.
//
// Manually paired live resources keep their pairing. Every other live
// resource is paired with the project resource chosen by
// FindBestProjectMatch; a pair that already holds that project resource is
// reused. Live resources without a match keep a one-sided pair. Sides that
// refer to resources no longer present in either collection are cleared.
//
// If the live collection cannot be enumerated the error is returned and no
// pair is modified.
func (r *Registry) Rebuild() error {
	r.rebuildMu.Lock()
	defer r.rebuildMu.Unlock()

	start := time.Now()

	r.mu.RLock()
	live := r.live
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	var liveRes []resource.Resource
	if live != nil {
		rs, err := live.Resources()
		if err != nil {
			return fmt.Errorf("enumerate live resources: %w", err)
		}
		for _, res := range rs {
			if res != nil && !res.IsDir() {
				liveRes = append(liveRes, res)
			}
		}
	}

	var (
		events  []ChangeEvent
		changes []ManualChange
	)

	r.mu.Lock()
	plan, dropped := r.planLocked(liveRes)
	for l, p := range dropped {
		delete(r.manual, l)
		changes = append(changes, ManualChange{Project: p, Live: l, Removed: true, Stale: true})
	}
	r.applyLocked(plan, &events)
	paired := 0
	for p := range r.pairs {
		if p.project != nil && p.live != nil {
			paired++
		}
	}
	total := len(r.pairs)
	r.mu.Unlock()

	r.dispatch(events)
	r.notifyManual(changes)

	r.logger.Debug("pairing rebuilt",
		"live", len(liveRes),
		"pairs", total,
		"paired", paired,
		"changes", len(events),
		"elapsed", time.Since(start),
	)
	return nil
}

// assignment is one planned live pairing.
type assignment struct {
	live    resource.Resource
	project resource.Resource
	manual  bool
}

// planLocked decides the project side for each live resource without
// touching any pair. It also returns manual pairings whose resources are
// gone.
func (r *Registry) planLocked(liveRes []resource.Resource) ([]assignment, map[resource.Resource]resource.Resource) {
	present := make(map[resource.Resource]bool, len(liveRes))
	for _, l := range liveRes {
		present[l] = true
	}

	dropped := make(map[resource.Resource]resource.Resource)
	claimed := make(map[resource.Resource]bool)
	for l, p := range r.manual {
		if !present[l] || !r.projectIndex.Contains(p) {
			dropped[l] = p
			continue
		}
		claimed[p] = true
	}

	// Live resources that already have a project partner go first so that
	// existing pairings are not disturbed by newcomers.
	ordered := make([]resource.Resource, len(liveRes))
	copy(ordered, liveRes)
	hasPartner := func(l resource.Resource) bool {
		p, ok := r.owners[l]
		return ok && p.project != nil
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		pi, pj := hasPartner(ordered[i]), hasPartner(ordered[j])
		if pi != pj {
			return pi
		}
		return ordered[i].Path() < ordered[j].Path()
	})

	plan := make([]assignment, 0, len(ordered))
	for _, l := range ordered {
		if p, ok := r.manual[l]; ok {
			if _, gone := dropped[l]; !gone {
				plan = append(plan, assignment{live: l, project: p, manual: true})
				continue
			}
		}

		var prefer resource.Resource
		if p, ok := r.owners[l]; ok {
			prefer = p.project
		}
		match := bestMatch(l, r.projectIndex, func(c resource.Resource) bool {
			return claimed[c]
		}, prefer)
		if match != nil {
			claimed[match] = true
		}
		plan = append(plan, assignment{live: l, project: match})
	}
	return plan, dropped
}

// applyLocked carries out a plan and sweeps stale sides.
func (r *Registry) applyLocked(plan []assignment, events *[]ChangeEvent) {
	present := make(map[resource.Resource]bool, len(plan))
	for _, a := range plan {
		present[a.live] = true
	}

	for _, a := range plan {
		var p *Pair
		if a.project != nil {
			p = r.owners[a.project]
		}
		if p == nil {
			p = r.owners[a.live]
		}
		if p == nil {
			p = newPair(r)
		}
		r.assignLocked(p, SideProject, a.project, events)
		r.assignLocked(p, SideLive, a.live, events)
	}

	// Collect first; assignments mutate r.pairs.
	var stale []*Pair
	for p := range r.pairs {
		if (p.live != nil && !present[p.live]) ||
			(p.project != nil && !r.projectIndex.Contains(p.project)) {
			stale = append(stale, p)
		}
	}
	for _, p := range stale {
		if p.live != nil && !present[p.live] {
			r.assignLocked(p, SideLive, nil, events)
		}
		if p.project != nil && !r.projectIndex.Contains(p.project) {
			r.assignLocked(p, SideProject, nil, events)
		}
	}
}

// assignLocked stores res on the given side of p, evicting it from any other
// pair first, and records a change event if the side actually changed.
func (r *Registry) assignLocked(p *Pair, side Side, res resource.Resource, events *[]ChangeEvent) {
	old := p.get(side)

	if res != nil {
		if holder, ok := r.owners[res]; ok && !(holder == p && old == res) {
			hs := SideLive
			if holder.project == res {
				hs = SideProject
			}
			holder.set(hs, nil)
			delete(r.owners, res)
			*events = append(*events, ChangeEvent{Pair: holder, Side: hs, Old: res})
			r.trackLocked(holder)
			// The eviction may have emptied the side we are assigning.
			old = p.get(side)
		}
	}

	if old == res {
		if res != nil {
			r.owners[res] = p
		}
		r.trackLocked(p)
		return
	}

	if old != nil && r.owners[old] == p {
		delete(r.owners, old)
	}
	p.set(side, res)
	if res != nil {
		r.owners[res] = p
	}
	r.trackLocked(p)
	*events = append(*events, ChangeEvent{Pair: p, Side: side, Old: old, New: res})
}

// trackLocked keeps r.pairs equal to the set of non-empty pairs.
func (r *Registry) trackLocked(p *Pair) {
	if p.empty() {
		delete(r.pairs, p)
	} else {
		r.pairs[p] = struct{}{}
	}
}

func (r *Registry) dispatch(events []ChangeEvent) {
	for _, ev := range events {
		ev.Pair.listeners.emit(ev)
		r.listeners.emit(ev)
	}
}

func (r *Registry) notifyManual(changes []ManualChange) {
	if len(changes) == 0 {
		return
	}
	r.manualMu.Lock()
	fns := make([]func(ManualChange), len(r.manualFns))
	copy(fns, r.manualFns)
	r.manualMu.Unlock()

	for _, c := range changes {
		for _, fn := range fns {
			fn(c)
		}
	}
}
