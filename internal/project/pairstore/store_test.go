package pairstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/livelink/internal/project/pairing"
	"github.com/dshills/livelink/internal/project/resource"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Memory)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen(t *testing.T) {
	_, err := Open("  ")
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "nested", "pairs.db")
	s, err := Open(path)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/a.css", ProjectPath: "/p/a.css"}))
	require.NoError(t, s.Close())

	again, err := Open(path)
	require.NoError(t, err)
	defer again.Close()
	recs, err := again.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/p/a.css", recs[0].ProjectPath)

	var nilStore *Store
	assert.NoError(t, nilStore.Close())
}

func TestSaveListDelete(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/b.css", ProjectPath: "/p/b.css"}))
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/a.css", ProjectPath: "/p/a.css"}))
	assert.Error(t, s.Save(ctx, Record{LivePath: "/srv/c.css"}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "/srv/a.css", recs[0].LivePath)
	assert.Equal(t, "/srv/b.css", recs[1].LivePath)
	assert.True(t, fixed.Equal(recs[0].CreatedAt))

	ok, err := s.Delete(ctx, "/srv/a.css")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.Delete(ctx, "/srv/a.css")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSave_Replaces(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	first := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	later := first.Add(time.Hour)

	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/x.css", ProjectPath: "/p/a/x.css", CreatedAt: first}))
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/x.css", ProjectPath: "/p/a/x.css", CreatedAt: later}))

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.True(t, first.Equal(recs[0].CreatedAt), "same pairing keeps its time")

	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/x.css", ProjectPath: "/p/b/x.css", CreatedAt: later}))
	recs, _ = s.List(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, "/p/b/x.css", recs[0].ProjectPath)
	assert.True(t, later.Equal(recs[0].CreatedAt))

	// A project path backs one live path at most.
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/y.css", ProjectPath: "/p/b/x.css"}))
	recs, _ = s.List(ctx)
	require.Len(t, recs, 1)
	assert.Equal(t, "/srv/y.css", recs[0].LivePath)
}

func newRegistry(t *testing.T) (*pairing.Registry, *resource.Set, *resource.Set) {
	t.Helper()
	reg := pairing.NewRegistry(pairing.WithDebounce(time.Hour))
	t.Cleanup(func() { reg.Close() })
	project := resource.NewSet(true)
	live := resource.NewSet(false)
	require.NoError(t, reg.SetProjectCollection(project))
	require.NoError(t, reg.SetLiveCollection(live))
	return reg, project, live
}

func TestTrackAndRestore(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()

	reg, project, live := newRegistry(t)
	s.Track(reg)

	a := resource.NewEntry(project, "/p", "a/x.css", false)
	b := resource.NewEntry(project, "/p", "b/x.css", false)
	project.Add(a)
	project.Add(b)
	sheet := resource.NewEntry(live, "/srv/b", "x.css", false)
	live.Add(sheet)

	_, err := reg.ManualPair(a, sheet)
	require.NoError(t, err)

	recs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, Record{LivePath: "/srv/b/x.css", ProjectPath: "/p/a/x.css", CreatedAt: recs[0].CreatedAt}, recs[0])

	// The live resource goes away; the stored pairing stays.
	live.Remove(sheet)
	require.NoError(t, reg.Flush())
	assert.Empty(t, reg.ManualPairs())
	recs, _ = s.List(ctx)
	assert.Len(t, recs, 1)

	// A fresh resource at the same path comes back and is re-paired.
	back := resource.NewEntry(live, "/srv/b", "x.css", false)
	live.Add(back)
	n, err := s.Restore(ctx, reg, live)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, reg.Flush())

	p, ok := reg.Lookup(back)
	require.True(t, ok)
	assert.Same(t, a, p.Project())

	// Unpair forgets it for good.
	assert.True(t, reg.Unpair(back))
	recs, _ = s.List(ctx)
	assert.Empty(t, recs)
}

func TestRestore_SkipsUnknown(t *testing.T) {
	s := openMemory(t)
	ctx := context.Background()
	reg, project, live := newRegistry(t)

	project.Add(resource.NewEntry(project, "/p", "a.css", false))
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/a.css", ProjectPath: "/p/a.css"}))
	require.NoError(t, s.Save(ctx, Record{LivePath: "/srv/b.css", ProjectPath: "/p/missing.css"}))

	n, err := s.Restore(ctx, reg, live)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	live.Add(resource.NewEntry(live, "/srv", "a.css", false))
	n, err = s.Restore(ctx, reg, live)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	recs, _ := s.List(ctx)
	assert.Len(t, recs, 2, "unmatched records are kept")

	n, err = s.Restore(ctx, reg, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
