package watcher

import (
	"bufio"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"
)

// DefaultIgnore lists patterns excluded from every project tree.
var DefaultIgnore = []string{
	".git/",
	".hg/",
	".svn/",
	"node_modules/",
	".DS_Store",
}

// IgnoreRules decides which paths below a root are excluded, using
// gitignore-style patterns matched with doublestar globs:
//   - *.log                 any file ending in .log, at any depth
//   - /build/               the build directory at the root only
//   - **/generated/*.css    css directly inside any generated directory
//   - !keep.log             re-include keep.log
//
// Later rules override earlier ones. A path inside an ignored directory is
// ignored regardless of later negations.
type IgnoreRules struct {
	mu    sync.RWMutex
	rules []ignoreRule
}

type ignoreRule struct {
	pattern  string
	negate   bool
	dirOnly  bool
	anchored bool
}

// NewIgnoreRules builds rules from patterns.
func NewIgnoreRules(patterns ...string) (*IgnoreRules, error) {
	ir := &IgnoreRules{}
	if err := ir.Add(patterns...); err != nil {
		return nil, err
	}
	return ir, nil
}

// Add appends patterns. Blank lines and lines starting with # are skipped.
func (ir *IgnoreRules) Add(patterns ...string) error {
	parsed := make([]ignoreRule, 0, len(patterns))
	for _, p := range patterns {
		rule, ok, err := parseRule(p)
		if err != nil {
			return err
		}
		if ok {
			parsed = append(parsed, rule)
		}
	}

	ir.mu.Lock()
	ir.rules = append(ir.rules, parsed...)
	ir.mu.Unlock()
	return nil
}

// AddFromFile appends the patterns of an ignore file such as .gitignore.
// A missing file is not an error.
func (ir *IgnoreRules) AddFromFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	return ir.Add(lines...)
}

// Len returns the number of rules.
func (ir *IgnoreRules) Len() int {
	if ir == nil {
		return 0
	}
	ir.mu.RLock()
	defer ir.mu.RUnlock()
	return len(ir.rules)
}

func parseRule(raw string) (ignoreRule, bool, error) {
	p := strings.TrimRight(raw, " \t\r")
	if p == "" || strings.HasPrefix(p, "#") {
		return ignoreRule{}, false, nil
	}

	var r ignoreRule
	if strings.HasPrefix(p, "!") {
		r.negate = true
		p = p[1:]
	}
	if strings.HasSuffix(p, "/") {
		r.dirOnly = true
		p = strings.TrimRight(p, "/")
	}
	if strings.HasPrefix(p, "/") {
		r.anchored = true
		p = strings.TrimLeft(p, "/")
	} else if strings.Contains(p, "/") && !strings.HasPrefix(p, "**/") {
		// gitignore: a slash anywhere but the end anchors the pattern.
		r.anchored = true
	}
	if p == "" {
		return ignoreRule{}, false, nil
	}
	if !doublestar.ValidatePattern(p) {
		return ignoreRule{}, false, fmt.Errorf("invalid ignore pattern %q", raw)
	}
	r.pattern = p
	return r, true, nil
}

// Match reports whether rel, a slash or OS separated path relative to the
// root, is ignored.
func (ir *IgnoreRules) Match(rel string, isDir bool) bool {
	if ir == nil {
		return false
	}
	rel = strings.Trim(filepath.ToSlash(rel), "/")
	if rel == "" || rel == "." {
		return false
	}

	ir.mu.RLock()
	defer ir.mu.RUnlock()
	if len(ir.rules) == 0 {
		return false
	}

	parts := strings.Split(rel, "/")
	for i := 1; i < len(parts); i++ {
		if ir.matchLocked(strings.Join(parts[:i], "/"), true) {
			return true
		}
	}
	return ir.matchLocked(rel, isDir)
}

func (ir *IgnoreRules) matchLocked(rel string, isDir bool) bool {
	ignored := false
	for _, r := range ir.rules {
		if r.dirOnly && !isDir {
			continue
		}
		if r.match(rel) {
			ignored = !r.negate
		}
	}
	return ignored
}

func (r ignoreRule) match(rel string) bool {
	target := rel
	if !r.anchored && !strings.Contains(r.pattern, "/") {
		target = path.Base(rel)
	}
	ok, err := doublestar.Match(r.pattern, target)
	return err == nil && ok
}
