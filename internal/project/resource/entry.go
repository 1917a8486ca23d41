package resource

import (
	"path"
	"path/filepath"
	"strings"
)

// Entry is a plain Resource backed by fixed path metadata.
type Entry struct {
	owner Collection
	root  string
	rel   string
	base  string
	isDir bool
}

// NewEntry creates a resource rooted at root with the given relative path.
// Separators are normalized to '/', and directories lose any trailing
// separator.
func NewEntry(owner Collection, root, rel string, isDir bool) *Entry {
	rel = strings.TrimSuffix(filepath.ToSlash(rel), "/")
	rel = strings.TrimPrefix(rel, "./")
	return &Entry{
		owner: owner,
		root:  filepath.ToSlash(root),
		rel:   rel,
		base:  Basename(rel),
		isDir: isDir,
	}
}

// Basename implements Resource.
func (e *Entry) Basename() string { return e.base }

// RelativePath implements Resource.
func (e *Entry) RelativePath() string { return e.rel }

// Path implements Resource.
func (e *Entry) Path() string {
	if e.root == "" {
		return e.rel
	}
	return path.Join(e.root, e.rel)
}

// Root returns the root the entry is relative to.
func (e *Entry) Root() string { return e.root }

// IsDir implements Resource.
func (e *Entry) IsDir() bool { return e.isDir }

// Owner implements Resource.
func (e *Entry) Owner() Collection { return e.owner }

// String returns the full path.
func (e *Entry) String() string { return e.Path() }

// Ensure Entry implements Resource.
var _ Resource = (*Entry)(nil)
