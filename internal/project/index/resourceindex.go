package index

import (
	"sort"
	"sync"

	"github.com/dshills/livelink/internal/project/pathmatch"
	"github.com/dshills/livelink/internal/project/resource"
)

// Match is a fuzzy search hit.
type Match struct {
	Score    float64
	Resource resource.Resource
}

// entryKey records the keys a resource was indexed under.
type entryKey struct {
	basename string
	relPath  string
}

// ResourceIndex indexes resources by basename and by relative path.
// It is safe for concurrent use.
type ResourceIndex struct {
	mu     sync.RWMutex
	config Config

	byBasename *IndexMap[string, resource.Resource]
	byRelPath  *IndexMap[string, resource.Resource]

	// keys holds the keys each resource was inserted under, so removal works
	// even if the resource reports different names later.
	keys map[resource.Resource]entryKey
}

// New creates an empty index.
func New(opts ...Option) *ResourceIndex {
	config := DefaultConfig()
	for _, opt := range opts {
		opt(&config)
	}

	return &ResourceIndex{
		config:     config,
		byBasename: NewIndexMap[string, resource.Resource](config.InitialCapacity),
		byRelPath:  NewIndexMap[string, resource.Resource](config.InitialCapacity),
		keys:       make(map[resource.Resource]entryKey, config.InitialCapacity),
	}
}

// Add indexes r under its current basename and relative path. Adding a
// resource that is already indexed has no effect and returns false.
func (ri *ResourceIndex) Add(r resource.Resource) bool {
	if r == nil {
		return false
	}

	ri.mu.Lock()
	defer ri.mu.Unlock()

	if _, ok := ri.keys[r]; ok {
		return false
	}
	ri.insertLocked(r)
	return true
}

// Remove drops r from both maps. Unknown resources are ignored.
func (ri *ResourceIndex) Remove(r resource.Resource) bool {
	if r == nil {
		return false
	}

	ri.mu.Lock()
	defer ri.mu.Unlock()

	return ri.removeLocked(r)
}

// Reindex moves r to the keys it currently reports. It is needed when a
// resource is renamed in place; the old entries are removed first and the
// resource is inserted again. Reindex of an unknown resource adds it.
func (ri *ResourceIndex) Reindex(r resource.Resource) {
	if r == nil {
		return
	}

	ri.mu.Lock()
	defer ri.mu.Unlock()

	ri.removeLocked(r)
	ri.insertLocked(r)
}

func (ri *ResourceIndex) insertLocked(r resource.Resource) {
	key := entryKey{basename: r.Basename(), relPath: r.RelativePath()}
	ri.byBasename.Add(key.basename, r)
	ri.byRelPath.Add(key.relPath, r)
	ri.keys[r] = key
}

func (ri *ResourceIndex) removeLocked(r resource.Resource) bool {
	key, ok := ri.keys[r]
	if !ok {
		return false
	}
	ri.byBasename.Remove(key.basename, r)
	ri.byRelPath.Remove(key.relPath, r)
	delete(ri.keys, r)
	return true
}

// Contains reports whether r is indexed.
func (ri *ResourceIndex) Contains(r resource.Resource) bool {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	_, ok := ri.keys[r]
	return ok
}

// Len returns the number of indexed resources.
func (ri *ResourceIndex) Len() int {
	ri.mu.RLock()
	defer ri.mu.RUnlock()

	return len(ri.keys)
}

// FindBasename returns the resources whose basename is exactly name, sorted
// by relative path, or nil if there are none.
func (ri *ResourceIndex) FindBasename(name string) []resource.Resource {
	ri.mu.RLock()
	out := ri.byBasename.Get(name)
	ri.mu.RUnlock()

	sortByRelPath(out)
	return out
}

// FindRelativePath returns the resources whose relative path is exactly rel.
func (ri *ResourceIndex) FindRelativePath(rel string) []resource.Resource {
	ri.mu.RLock()
	out := ri.byRelPath.Get(rel)
	ri.mu.RUnlock()

	sortByRelPath(out)
	return out
}

// All returns every indexed resource sorted by relative path.
func (ri *ResourceIndex) All() []resource.Resource {
	ri.mu.RLock()
	out := make([]resource.Resource, 0, len(ri.keys))
	for r := range ri.keys {
		out = append(out, r)
	}
	ri.mu.RUnlock()

	sortByRelPath(out)
	return out
}

// Clear removes all entries.
func (ri *ResourceIndex) Clear() {
	ri.mu.Lock()
	defer ri.mu.Unlock()

	ri.byBasename.Clear()
	ri.byRelPath.Clear()
	clear(ri.keys)
}

// FuzzyMatchPath searches relative paths. Candidate paths are pre-filtered
// with pathmatch.QuickMatch, the pattern is compiled once, and every
// non-directory resource registered under a scoring path is returned.
// Results are sorted with SortMatches. A limit of 0 returns all hits.
func (ri *ResourceIndex) FuzzyMatchPath(search string, limit int) []Match {
	pattern := pathmatch.Compile(search)

	ri.mu.RLock()
	var results []Match
	for _, rel := range ri.byRelPath.Keys() {
		if !pathmatch.QuickMatch(search, rel) {
			continue
		}
		score := pathmatch.Score(pattern, rel)
		if score <= 0 {
			continue
		}
		for _, r := range ri.byRelPath.Get(rel) {
			if r.IsDir() {
				continue
			}
			results = append(results, Match{Score: score, Resource: r})
		}
	}
	ri.mu.RUnlock()

	SortMatches(results)
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}

// SortMatches orders matches canonically: descending score, then shorter
// relative path, then lexical relative path, then full path.
func SortMatches(ms []Match) {
	sort.SliceStable(ms, func(i, j int) bool {
		a := pathmatch.Ranked{Score: ms[i].Score, Path: ms[i].Resource.RelativePath()}
		b := pathmatch.Ranked{Score: ms[j].Score, Path: ms[j].Resource.RelativePath()}
		if a != b {
			return pathmatch.Less(a, b)
		}
		return ms[i].Resource.Path() < ms[j].Resource.Path()
	})
}

func sortByRelPath(rs []resource.Resource) {
	sort.SliceStable(rs, func(i, j int) bool {
		a, b := rs[i].RelativePath(), rs[j].RelativePath()
		if a != b {
			return a < b
		}
		return rs[i].Path() < rs[j].Path()
	})
}
