// Package pathmatch implements boundary-aware fuzzy matching of file paths.
//
// Matching happens in two steps. QuickMatch is a cheap subsequence test used
// to discard strings that cannot possibly match. A compiled Pattern then
// applies the full rule: every search character must begin a word (sit at
// the start of the string or right after a non-alphanumeric character),
// except that a character may also directly follow the previous matched one.
//
//	pathmatch.QuickMatch("ac", "/bin/activate")          // true
//	pathmatch.Compile("ac").Match("/bin/activate")       // true
//	pathmatch.Compile("b").Match("abc")                  // false: no boundary before b
//	pathmatch.Compile("a/b").Match("ab")                 // false
//
// Both steps ignore case, and QuickMatch accepts everything the full matcher
// accepts, so it is always safe to pre-filter with it.
package pathmatch

import (
	"regexp"
	"strings"
)

// MatchScore is the score assigned to every successful match. Candidates with
// equal scores are ordered by path length and then lexically; see Less.
const MatchScore = 1.0

// QuickMatch reports whether every character of search occurs in path, in
// order, at strictly increasing positions. An empty search matches anything.
func QuickMatch(search, path string) bool {
	if search == "" {
		return true
	}
	s := []rune(strings.ToLower(search))
	i := 0
	for _, r := range strings.ToLower(path) {
		if r == s[i] {
			i++
			if i == len(s) {
				return true
			}
		}
	}
	return false
}

// Pattern is a compiled search pattern.
type Pattern struct {
	search string
	re     *regexp.Regexp
}

// Compile builds the matcher for search. Characters in search are always
// literal, including regular expression metacharacters.
func Compile(search string) *Pattern {
	search = strings.ToLower(search)
	p := &Pattern{search: search}
	if search == "" {
		return p
	}

	var b strings.Builder
	b.WriteString(`(?s)(?:^|` + boundaryClass + `)`)
	for i, r := range search {
		if i > 0 {
			// Either directly after the previous character, or anywhere once
			// a boundary has been crossed.
			b.WriteString(`(?:.*` + boundaryClass + `.*)?`)
		}
		b.WriteString(regexp.QuoteMeta(string(r)))
	}
	p.re = regexp.MustCompile(b.String())
	return p
}

// boundaryClass matches one word-boundary character: anything that is not a
// letter or a digit, which includes - _ : / and \.
const boundaryClass = `[^\pL\pN]`

// String returns the (lowercased) search text.
func (p *Pattern) String() string { return p.search }

// Match reports whether candidate satisfies the pattern.
func (p *Pattern) Match(candidate string) bool {
	if p == nil || p.re == nil {
		return true
	}
	return p.re.MatchString(strings.ToLower(candidate))
}

// Score returns 0 when candidate does not match, and MatchScore otherwise.
func Score(p *Pattern, candidate string) float64 {
	if !p.Match(candidate) {
		return 0
	}
	return MatchScore
}

// Match is a convenience that compiles search and matches path once.
// Use Compile when testing many candidates.
func Match(search, path string) bool {
	return QuickMatch(search, path) && Compile(search).Match(path)
}
