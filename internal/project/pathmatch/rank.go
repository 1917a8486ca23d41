package pathmatch

import "sort"

// Ranked is a scored search hit.
type Ranked struct {
	Score float64
	Path  string
}

// Less reports whether hit a ranks before hit b: higher score first, then
// shorter path, then lexical path order.
func Less(a, b Ranked) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if len(a.Path) != len(b.Path) {
		return len(a.Path) < len(b.Path)
	}
	return a.Path < b.Path
}

// Rank filters and orders paths against search. A limit of 0 returns every
// match.
func Rank(search string, paths []string, limit int) []Ranked {
	pattern := Compile(search)
	var out []Ranked
	for _, p := range paths {
		if !QuickMatch(search, p) {
			continue
		}
		if score := Score(pattern, p); score > 0 {
			out = append(out, Ranked{Score: score, Path: p})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return Less(out[i], out[j]) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
