package pairing

import (
	"github.com/hbollon/go-edlib"

	"github.com/dshills/livelink/internal/project/index"
	"github.com/dshills/livelink/internal/project/resource"
)

// MatchedDepth counts the identical trailing path components of a and b,
// starting at the basename and walking toward the root.
func MatchedDepth(a, b string) int {
	pa := resource.SplitPath(a)
	pb := resource.SplitPath(b)
	depth := 0
	for i, j := len(pa)-1, len(pb)-1; i >= 0 && j >= 0; i, j = i-1, j-1 {
		if pa[i] != pb[j] {
			break
		}
		depth++
	}
	return depth
}

// candidate is a ranked pairing candidate.
type candidate struct {
	res       resource.Resource
	depth     int
	remaining int
	preferred bool
	distance  int
}

// better reports whether c should be chosen over o.
func (c candidate) better(o candidate) bool {
	if c.depth != o.depth {
		return c.depth > o.depth
	}
	if c.remaining != o.remaining {
		return c.remaining < o.remaining
	}
	if c.preferred != o.preferred {
		return c.preferred
	}
	if c.distance != o.distance {
		return c.distance < o.distance
	}
	cr, or := c.res.RelativePath(), o.res.RelativePath()
	if cr != or {
		return cr < or
	}
	return c.res.Path() < o.res.Path()
}

// FindBestProjectMatch picks the project resource in idx that best matches
// live, or nil when no project resource shares its basename.
//
// Candidates are the pairable, non-directory resources with live's basename
// for which skip (if non-nil) returns false. The winner has the greatest
// matched depth; ties go to the candidate with the fewest remaining
// components in its relative path, then the smallest edit distance between
// the full paths, then lexical relative path order.
func FindBestProjectMatch(live resource.Resource, idx *index.ResourceIndex, skip func(resource.Resource) bool) resource.Resource {
	return bestMatch(live, idx, skip, nil)
}

// bestMatch is FindBestProjectMatch with a preferred candidate that wins
// ties on depth and remaining components, used to keep existing pairings
// stable.
func bestMatch(live resource.Resource, idx *index.ResourceIndex, skip func(resource.Resource) bool, prefer resource.Resource) resource.Resource {
	if live == nil || idx == nil {
		return nil
	}

	var best *candidate
	livePath := live.Path()
	for _, r := range idx.FindBasename(live.Basename()) {
		if r.IsDir() || !resource.Pairable(r) {
			continue
		}
		if skip != nil && skip(r) {
			continue
		}

		depth := MatchedDepth(r.Path(), livePath)
		remaining := len(resource.SplitPath(r.RelativePath())) - depth
		if remaining < 0 {
			remaining = 0
		}
		c := candidate{
			res:       r,
			depth:     depth,
			remaining: remaining,
			preferred: prefer != nil && r == prefer,
			distance:  edlib.LevenshteinDistance(r.Path(), livePath),
		}
		if best == nil || c.better(*best) {
			best = &c
		}
	}

	if best == nil {
		return nil
	}
	return best.res
}
