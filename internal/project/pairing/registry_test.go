package pairing

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/livelink/internal/project/resource"
)

// fixture is a registry wired to one project set and one live set.
type fixture struct {
	reg     *Registry
	project *resource.Set
	live    *resource.Set
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	f := &fixture{
		reg:     NewRegistry(append([]Option{WithDebounce(time.Hour)}, opts...)...),
		project: resource.NewSet(true),
		live:    resource.NewSet(false),
	}
	t.Cleanup(func() { f.reg.Close() })
	require.NoError(t, f.reg.SetProjectCollection(f.project))
	require.NoError(t, f.reg.SetLiveCollection(f.live))
	return f
}

func (f *fixture) addProject(rel string) resource.Resource {
	r := resource.NewEntry(f.project, "/proj", rel, false)
	f.project.Add(r)
	return r
}

func (f *fixture) addLive(root, rel string) resource.Resource {
	r := resource.NewEntry(f.live, root, rel, false)
	f.live.Add(r)
	return r
}

// checkInvariants verifies the resource table against the pair set.
func checkInvariants(t *testing.T, reg *Registry) {
	t.Helper()
	reg.mu.RLock()
	defer reg.mu.RUnlock()

	seen := make(map[resource.Resource]*Pair)
	for p := range reg.pairs {
		require.False(t, p.empty(), "empty pair tracked")
		for _, r := range []resource.Resource{p.project, p.live} {
			if r == nil {
				continue
			}
			if other, dup := seen[r]; dup {
				t.Fatalf("%s held by %s and %s", r.Path(), other.id, p.id)
			}
			seen[r] = p
			require.Same(t, p, reg.owners[r], "owner of %s", r.Path())
		}
	}
	require.Equal(t, len(seen), len(reg.owners), "stale owner entries")
}

func TestRegistry_RebuildPairsByDepth(t *testing.T) {
	f := newFixture(t)
	f.addProject("a/x.css")
	b := f.addProject("b/x.css")
	live := f.addLive("/srv/b", "x.css")

	require.NoError(t, f.reg.Flush())

	p, ok := f.reg.Lookup(live)
	require.True(t, ok)
	assert.Same(t, b, p.Project())
	assert.Same(t, live, p.Live())
	checkInvariants(t, f.reg)
}

func TestRegistry_EveryLiveResourceGetsAPair(t *testing.T) {
	f := newFixture(t)
	f.addProject("x.css")
	one := f.addLive("/srv/a", "x.css")
	two := f.addLive("/srv/b", "x.css")
	orphan := f.addLive("/srv", "none.css")

	require.NoError(t, f.reg.Rebuild())

	for _, l := range []resource.Resource{one, two, orphan} {
		p, ok := f.reg.Lookup(l)
		require.True(t, ok, l.Path())
		assert.Same(t, l, p.Live())
	}
	p, _ := f.reg.Lookup(orphan)
	assert.Nil(t, p.Project())

	// Only one of the two lives can hold x.css.
	withProject := 0
	for _, l := range []resource.Resource{one, two} {
		p, _ := f.reg.Lookup(l)
		if p.Project() != nil {
			withProject++
		}
	}
	assert.Equal(t, 1, withProject)
	assert.Len(t, f.reg.Pairs(), 3)
	checkInvariants(t, f.reg)
}

func TestRegistry_Eviction(t *testing.T) {
	f := newFixture(t)
	shared := f.addProject("x.css")
	first := f.reg.PairFor(shared)
	second := f.reg.PairFor(f.addLive("/srv", "y.css"))

	var events []ChangeEvent
	cancel := first.OnChange(func(ev ChangeEvent) { events = append(events, ev) })
	defer cancel()

	require.NoError(t, f.reg.SetProject(second, shared))

	assert.Nil(t, first.Project())
	assert.Same(t, shared, second.Project())
	require.Len(t, events, 1)
	assert.Equal(t, SideProject, events[0].Side)
	assert.Same(t, shared, events[0].Old)
	assert.Nil(t, events[0].New)

	_, ok := f.reg.Lookup(shared)
	assert.True(t, ok)
	assert.NotContains(t, f.reg.Pairs(), first, "emptied pair is dropped")
	checkInvariants(t, f.reg)
}

func TestRegistry_SetForeignPair(t *testing.T) {
	f := newFixture(t)
	other := NewRegistry()
	defer other.Close()

	p := other.PairFor(f.addLive("/srv", "a.css"))
	assert.ErrorIs(t, f.reg.SetLive(p, nil), ErrForeignPair)
	assert.ErrorIs(t, f.reg.SetProject(nil, nil), ErrForeignPair)
}

func TestRegistry_PairFor(t *testing.T) {
	f := newFixture(t)
	proj := f.addProject("a.css")
	live := f.addLive("/srv", "b.css")

	pp := f.reg.PairFor(proj)
	assert.Same(t, proj, pp.Project())
	assert.Nil(t, pp.Live())

	lp := f.reg.PairFor(live)
	assert.Same(t, live, lp.Live())
	assert.Nil(t, lp.Project())

	assert.Same(t, pp, f.reg.PairFor(proj), "existing pair is returned")
	assert.Nil(t, f.reg.PairFor(nil))
	checkInvariants(t, f.reg)
}

func TestRegistry_ManualPairSurvivesRebuild(t *testing.T) {
	f := newFixture(t)
	a := f.addProject("a/x.css")
	b := f.addProject("b/x.css")
	live := f.addLive("/srv/b", "x.css")

	var manual []ManualChange
	f.reg.OnManualChange(func(c ManualChange) { manual = append(manual, c) })

	p, err := f.reg.ManualPair(a, live)
	require.NoError(t, err)
	require.Len(t, manual, 1)
	assert.False(t, manual[0].Removed)
	assert.False(t, manual[0].Stale)

	same, err := f.reg.ManualPair(a, live)
	require.NoError(t, err)
	assert.Same(t, p, same)
	assert.Len(t, manual, 1, "repeat is a no-op")

	require.NoError(t, f.reg.Rebuild())
	assert.Same(t, a, p.Project(), "manual pairing beats a closer match")
	assert.Same(t, live, p.Live())

	_, held := f.reg.Lookup(b)
	assert.False(t, held)
	assert.Equal(t, map[resource.Resource]resource.Resource{live: a}, f.reg.ManualPairs())
	checkInvariants(t, f.reg)
}

func TestRegistry_ManualPairNil(t *testing.T) {
	f := newFixture(t)
	_, err := f.reg.ManualPair(nil, f.addLive("/srv", "a.css"))
	assert.ErrorIs(t, err, ErrNilResource)
	_, err = f.reg.ManualPair(f.addProject("a.css"), nil)
	assert.ErrorIs(t, err, ErrNilResource)
}

func TestRegistry_ManualPairReplacesOlder(t *testing.T) {
	f := newFixture(t)
	proj := f.addProject("x.css")
	l1 := f.addLive("/srv/1", "x.css")
	l2 := f.addLive("/srv/2", "x.css")

	_, err := f.reg.ManualPair(proj, l1)
	require.NoError(t, err)
	_, err = f.reg.ManualPair(proj, l2)
	require.NoError(t, err)

	assert.Equal(t, map[resource.Resource]resource.Resource{l2: proj}, f.reg.ManualPairs())
	p1, _ := f.reg.Lookup(l1)
	assert.Nil(t, p1)
	checkInvariants(t, f.reg)
}

func TestRegistry_ManualPairDroppedWithResource(t *testing.T) {
	f := newFixture(t)
	a := f.addProject("a/x.css")
	b := f.addProject("b/x.css")
	live := f.addLive("/srv/b", "x.css")

	_, err := f.reg.ManualPair(a, live)
	require.NoError(t, err)

	var removed []ManualChange
	f.reg.OnManualChange(func(c ManualChange) {
		if c.Removed {
			removed = append(removed, c)
		}
	})

	f.project.Remove(a)
	require.NoError(t, f.reg.Flush())

	require.Len(t, removed, 1)
	assert.Same(t, a, removed[0].Project)
	assert.True(t, removed[0].Stale)
	assert.Empty(t, f.reg.ManualPairs())

	p, ok := f.reg.Lookup(live)
	require.True(t, ok)
	assert.Same(t, b, p.Project(), "fuzzy matching resumes")
	checkInvariants(t, f.reg)
}

func TestRegistry_Unpair(t *testing.T) {
	f := newFixture(t)
	a := f.addProject("a/x.css")
	b := f.addProject("b/x.css")
	live := f.addLive("/srv/b", "x.css")

	_, err := f.reg.ManualPair(a, live)
	require.NoError(t, err)

	assert.True(t, f.reg.Unpair(live))
	assert.False(t, f.reg.Unpair(live))
	require.NoError(t, f.reg.Flush())

	p, _ := f.reg.Lookup(live)
	assert.Same(t, b, p.Project())
}

func TestRegistry_RemovedProjectLeavesLiveSide(t *testing.T) {
	f := newFixture(t)
	proj := f.addProject("css/site.css")
	live := f.addLive("/srv/css", "site.css")
	require.NoError(t, f.reg.Flush())

	p, ok := f.reg.Lookup(live)
	require.True(t, ok)
	require.Same(t, proj, p.Project())

	var changes []ChangeEvent
	f.reg.OnChange(func(ev ChangeEvent) { changes = append(changes, ev) })

	f.project.Remove(proj)
	require.NoError(t, f.reg.Flush())

	again, ok := f.reg.Lookup(live)
	require.True(t, ok)
	assert.Same(t, p, again, "pair identity is kept")
	assert.Nil(t, p.Project())
	assert.Same(t, live, p.Live())

	require.Len(t, changes, 1)
	assert.Equal(t, SideProject, changes[0].Side)
	assert.Same(t, proj, changes[0].Old)
	checkInvariants(t, f.reg)
}

func TestRegistry_RemovedLiveClearsSide(t *testing.T) {
	f := newFixture(t)
	proj := f.addProject("site.css")
	live := f.addLive("/srv", "site.css")
	require.NoError(t, f.reg.Flush())
	p, _ := f.reg.Lookup(live)

	f.live.Remove(live)
	require.NoError(t, f.reg.Flush())

	assert.Nil(t, p.Live())
	assert.Same(t, proj, p.Project())
	_, ok := f.reg.Lookup(live)
	assert.False(t, ok)
	checkInvariants(t, f.reg)
}

func TestRegistry_PairIdentityStable(t *testing.T) {
	f := newFixture(t)
	f.addProject("a/x.css")
	live := f.addLive("/srv/a", "x.css")
	require.NoError(t, f.reg.Flush())
	before, _ := f.reg.Lookup(live)

	var changes int
	before.OnChange(func(ChangeEvent) { changes++ })

	// A worse candidate appearing does not disturb the pair.
	f.addProject("b/x.css")
	require.NoError(t, f.reg.Flush())
	require.NoError(t, f.reg.Rebuild())

	after, _ := f.reg.Lookup(live)
	assert.Same(t, before, after)
	assert.Equal(t, 0, changes)
}

func TestRegistry_BetterCandidateTakesOver(t *testing.T) {
	f := newFixture(t)
	a := f.addProject("a/x.css")
	live := f.addLive("/srv/b", "x.css")
	require.NoError(t, f.reg.Flush())
	p, _ := f.reg.Lookup(live)
	require.Same(t, a, p.Project())

	b := f.addProject("b/x.css")
	require.NoError(t, f.reg.Flush())

	p, _ = f.reg.Lookup(live)
	assert.Same(t, b, p.Project())
	_, held := f.reg.Lookup(a)
	assert.False(t, held)
	checkInvariants(t, f.reg)
}

// failingSet is a live collection whose enumeration can be made to fail.
type failingSet struct {
	*resource.Set
	mu  sync.Mutex
	err error
}

func (s *failingSet) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

func (s *failingSet) Resources() ([]resource.Resource, error) {
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Set.Resources()
}

func TestRegistry_RebuildErrorLeavesPairs(t *testing.T) {
	reg := NewRegistry(WithDebounce(time.Hour))
	defer reg.Close()

	project := resource.NewSet(true)
	live := &failingSet{Set: resource.NewSet(false)}
	require.NoError(t, reg.SetProjectCollection(project))
	require.NoError(t, reg.SetLiveCollection(live))

	proj := resource.NewEntry(project, "/proj", "x.css", false)
	project.Add(proj)
	sheet := resource.NewEntry(live, "/srv", "x.css", false)
	live.Add(sheet)
	require.NoError(t, reg.Flush())
	p, _ := reg.Lookup(sheet)
	require.Same(t, proj, p.Project())

	boom := errors.New("boom")
	live.fail(boom)
	project.Remove(proj)
	err := reg.Flush()
	require.ErrorIs(t, err, boom)

	assert.Same(t, proj, p.Project(), "pairs untouched on failure")
	assert.Same(t, sheet, p.Live())
}

func TestRegistry_ProjectEnumerationError(t *testing.T) {
	reg := NewRegistry(WithDebounce(time.Hour))
	defer reg.Close()

	boom := errors.New("boom")
	bad := &failingSet{Set: resource.NewSet(true), err: boom}
	require.ErrorIs(t, reg.SetProjectCollection(bad), boom)
	assert.Equal(t, 0, reg.ProjectIndex().Len())
}

func TestRegistry_SwitchProjectCollection(t *testing.T) {
	f := newFixture(t)
	old := f.addProject("x.css")
	live := f.addLive("/srv", "x.css")
	require.NoError(t, f.reg.Flush())

	next := resource.NewSet(true)
	repl := resource.NewEntry(next, "/next", "x.css", false)
	next.Add(repl)
	require.NoError(t, f.reg.SetProjectCollection(next))
	require.NoError(t, f.reg.Flush())

	assert.False(t, f.reg.ProjectIndex().Contains(old))
	p, _ := f.reg.Lookup(live)
	assert.Same(t, repl, p.Project())

	// Events from the detached collection are ignored.
	f.project.Add(resource.NewEntry(f.project, "/proj", "y.css", false))
	assert.Equal(t, 1, f.reg.ProjectIndex().Len())
}

// gatedSet is a project collection whose enumeration takes its snapshot,
// runs after, and then blocks until release is closed.
type gatedSet struct {
	*resource.Set
	after   func()
	entered chan struct{}
	release chan struct{}
}

func newGatedSet(set *resource.Set) *gatedSet {
	return &gatedSet{
		Set:     set,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *gatedSet) Resources() ([]resource.Resource, error) {
	rs, err := s.Set.Resources()
	if s.after != nil {
		s.after()
	}
	close(s.entered)
	<-s.release
	return rs, err
}

func TestRegistry_RebuildDuringProjectSwitchKeepsManualPair(t *testing.T) {
	f := newFixture(t)
	a := f.addProject("a/x.css")
	f.addProject("b/x.css")
	live := f.addLive("/srv/b", "x.css")
	_, err := f.reg.ManualPair(a, live)
	require.NoError(t, err)
	require.NoError(t, f.reg.Rebuild())

	gated := newGatedSet(f.project)
	done := make(chan error, 1)
	go func() { done <- f.reg.SetProjectCollection(gated) }()
	<-gated.entered

	require.NoError(t, f.reg.Rebuild())
	assert.Equal(t, map[resource.Resource]resource.Resource{live: a}, f.reg.ManualPairs())

	close(gated.release)
	require.NoError(t, <-done)
	require.NoError(t, f.reg.Flush())

	p, ok := f.reg.Lookup(live)
	require.True(t, ok)
	assert.Same(t, a, p.Project())
	assert.Equal(t, map[resource.Resource]resource.Resource{live: a}, f.reg.ManualPairs())
	checkInvariants(t, f.reg)
}

func TestRegistry_RemovalDuringEnumeration(t *testing.T) {
	reg := NewRegistry(WithDebounce(time.Hour))
	defer reg.Close()

	project := resource.NewSet(true)
	keep := resource.NewEntry(project, "/proj", "keep.css", false)
	gone := resource.NewEntry(project, "/proj", "gone.css", false)
	project.Add(keep)
	project.Add(gone)

	gated := newGatedSet(project)
	late := resource.NewEntry(project, "/proj", "late.css", false)
	gated.after = func() {
		project.Remove(gone)
		project.Add(late)
	}
	close(gated.release)
	require.NoError(t, reg.SetProjectCollection(gated))

	idx := reg.ProjectIndex()
	assert.False(t, idx.Contains(gone))
	assert.Empty(t, idx.FindBasename("gone.css"))
	assert.Empty(t, idx.FuzzyMatchPath("gone", 0))
	assert.True(t, idx.Contains(keep))
	assert.True(t, idx.Contains(late))
	assert.Equal(t, project.Len(), idx.Len())

	// Later events go straight to the index.
	project.Remove(keep)
	assert.False(t, reg.ProjectIndex().Contains(keep))
}

func TestRegistry_CloseFromListener(t *testing.T) {
	reg := NewRegistry(WithDebounce(5 * time.Millisecond))
	project := resource.NewSet(true)
	live := resource.NewSet(false)
	require.NoError(t, reg.SetProjectCollection(project))
	require.NoError(t, reg.SetLiveCollection(live))

	closed := make(chan error, 1)
	var once sync.Once
	reg.OnChange(func(ChangeEvent) {
		once.Do(func() { closed <- reg.Close() })
	})
	project.Add(resource.NewEntry(project, "/proj", "x.css", false))
	live.Add(resource.NewEntry(live, "/srv", "x.css", false))

	select {
	case err := <-closed:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Close from a listener did not return")
	}
	reg.debouncer.Wait()
	assert.ErrorIs(t, reg.Rebuild(), ErrClosed)
}

func TestRegistry_DebouncedRebuild(t *testing.T) {
	reg := NewRegistry(WithDebounce(10 * time.Millisecond))
	defer reg.Close()

	project := resource.NewSet(true)
	live := resource.NewSet(false)
	require.NoError(t, reg.SetProjectCollection(project))
	require.NoError(t, reg.SetLiveCollection(live))

	var rebuilt sync.WaitGroup
	rebuilt.Add(1)
	var once sync.Once
	reg.OnChange(func(ev ChangeEvent) {
		if ev.Side == SideProject && ev.New != nil {
			once.Do(rebuilt.Done)
		}
	})

	for i := 0; i < 20; i++ {
		project.Add(resource.NewEntry(project, "/proj", fmt.Sprintf("d%d/x.css", i), false))
	}
	sheet := resource.NewEntry(live, "/srv/d7", "x.css", false)
	live.Add(sheet)

	rebuilt.Wait()
	assert.Eventually(t, func() bool {
		p, ok := reg.Lookup(sheet)
		return ok && p.Project() != nil && p.Project().RelativePath() == "d7/x.css"
	}, time.Second, 5*time.Millisecond)
}

func TestRegistry_Close(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Close())
	require.NoError(t, reg.Close())

	assert.ErrorIs(t, reg.SetProjectCollection(resource.NewSet(true)), ErrClosed)
	assert.ErrorIs(t, reg.SetLiveCollection(resource.NewSet(true)), ErrClosed)
	assert.ErrorIs(t, reg.Rebuild(), ErrClosed)
}

func TestRegistry_PairsSorted(t *testing.T) {
	f := newFixture(t)
	f.addLive("/srv", "b.css")
	f.addLive("/srv", "a.css")
	require.NoError(t, f.reg.Flush())

	pairs := f.reg.Pairs()
	require.Len(t, pairs, 2)
	assert.Equal(t, "/srv/a.css", pairs[0].Live().Path())
	assert.Equal(t, "/srv/b.css", pairs[1].Live().Path())
	assert.Contains(t, pairs[0].String(), "live=/srv/a.css")
}

func TestRegistry_RandomInvariant(t *testing.T) {
	f := newFixture(t)
	rng := rand.New(rand.NewSource(3))

	var projects, lives []resource.Resource
	for _, d := range []string{"", "a/", "b/", "a/b/"} {
		for _, n := range []string{"x.css", "y.css"} {
			projects = append(projects, resource.NewEntry(f.project, "/proj", d+n, false))
			lives = append(lives, resource.NewEntry(f.live, "/srv", d+n, false))
		}
	}

	for step := 0; step < 500; step++ {
		switch rng.Intn(7) {
		case 0:
			f.project.Add(projects[rng.Intn(len(projects))])
		case 1:
			f.project.Remove(projects[rng.Intn(len(projects))])
		case 2:
			f.live.Add(lives[rng.Intn(len(lives))])
		case 3:
			f.live.Remove(lives[rng.Intn(len(lives))])
		case 4:
			_, err := f.reg.ManualPair(projects[rng.Intn(len(projects))], lives[rng.Intn(len(lives))])
			require.NoError(t, err)
		case 5:
			f.reg.PairFor(projects[rng.Intn(len(projects))])
		default:
			require.NoError(t, f.reg.Rebuild())

			current, err := f.live.Resources()
			require.NoError(t, err)
			for _, l := range current {
				p, ok := f.reg.Lookup(l)
				require.True(t, ok, "step %d: %s unpaired", step, l.Path())
				require.Same(t, l, p.Live())
				if proj := p.Project(); proj != nil {
					require.True(t, f.reg.ProjectIndex().Contains(proj))
				}
			}
			for l, proj := range f.reg.ManualPairs() {
				p, ok := f.reg.Lookup(l)
				require.True(t, ok)
				require.Same(t, proj, p.Project(), "step %d: manual pair kept", step)
			}
		}
		checkInvariants(t, f.reg)
	}
}
