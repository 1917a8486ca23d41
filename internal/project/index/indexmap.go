package index

// IndexMap maps a key to a set of values. Values are unique per key; no
// ordering is kept. The zero value is not usable; create one with NewIndexMap.
//
// IndexMap is not safe for concurrent use. ResourceIndex guards its maps with
// its own lock.
type IndexMap[K comparable, V comparable] struct {
	m map[K]map[V]struct{}
}

// NewIndexMap creates an empty map with room for capacity keys.
func NewIndexMap[K comparable, V comparable](capacity int) *IndexMap[K, V] {
	return &IndexMap[K, V]{m: make(map[K]map[V]struct{}, capacity)}
}

// Add inserts v under k and reports whether it was not already there.
func (im *IndexMap[K, V]) Add(k K, v V) bool {
	set, ok := im.m[k]
	if !ok {
		set = make(map[V]struct{}, 1)
		im.m[k] = set
	}
	if _, exists := set[v]; exists {
		return false
	}
	set[v] = struct{}{}
	return true
}

// Remove deletes v from k and reports whether it was there. Keys whose set
// becomes empty are dropped.
func (im *IndexMap[K, V]) Remove(k K, v V) bool {
	set, ok := im.m[k]
	if !ok {
		return false
	}
	if _, exists := set[v]; !exists {
		return false
	}
	delete(set, v)
	if len(set) == 0 {
		delete(im.m, k)
	}
	return true
}

// Has reports whether v is stored under k.
func (im *IndexMap[K, V]) Has(k K, v V) bool {
	_, ok := im.m[k][v]
	return ok
}

// Get returns a copy of the values under k, or nil.
func (im *IndexMap[K, V]) Get(k K) []V {
	set := im.m[k]
	if len(set) == 0 {
		return nil
	}
	out := make([]V, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	return out
}

// Count returns the number of values under k.
func (im *IndexMap[K, V]) Count(k K) int {
	return len(im.m[k])
}

// Keys returns all keys in unspecified order.
func (im *IndexMap[K, V]) Keys() []K {
	out := make([]K, 0, len(im.m))
	for k := range im.m {
		out = append(out, k)
	}
	return out
}

// Len returns the number of keys.
func (im *IndexMap[K, V]) Len() int {
	return len(im.m)
}

// Clear removes everything.
func (im *IndexMap[K, V]) Clear() {
	clear(im.m)
}
