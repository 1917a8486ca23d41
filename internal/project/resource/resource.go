// Package resource defines the file-like items the project core indexes and
// pairs, and the collections that own them.
//
// Resources are produced and owned by stores (a directory on disk, a live
// runtime target). The core only reads their metadata and holds references to
// them; a resource leaves the core when its collection reports it removed.
//
// # Identity
//
// A Resource is identified by interface equality, so implementations must be
// pointer types. Two distinct *Entry values with the same path are two
// different resources.
//
// # Collections
//
// A Collection enumerates its resources and reports changes through
// subscribed listeners:
//
//	set := resource.NewSet(true)
//	cancel := set.Subscribe(func(ev resource.Event) {
//	    fmt.Println(ev.Type, ev.Resource.RelativePath())
//	})
//	defer cancel()
//	set.Add(resource.NewEntry(set, "/src", "css/site.css", false))
package resource

import (
	"context"
	"strings"
)

// Resource is an addressable file-like or virtual item.
type Resource interface {
	// Basename is the last path segment. Directories carry no trailing separator.
	Basename() string

	// RelativePath is the path relative to the owning collection's root.
	// It is used for search display and tie-breaking.
	RelativePath() string

	// Path is the full path (or URL path) of the resource. Its components are
	// compared when ranking pairing candidates.
	Path() string

	// IsDir reports whether the resource is a directory.
	IsDir() bool

	// Owner returns the collection the resource belongs to, or nil.
	Owner() Collection
}

// Applier is implemented by resources that accept new content, such as
// style sheets in a live runtime target.
type Applier interface {
	Apply(ctx context.Context, text string) error
}

// Collection is a set of resources that reports additions and removals.
type Collection interface {
	// Resources returns a snapshot of the current resources.
	Resources() ([]Resource, error)

	// Subscribe registers a listener and returns a function that removes it.
	// After cancel returns the listener receives no further events.
	Subscribe(l Listener) (cancel func())

	// CanPair reports whether resources of this collection may be selected
	// as pairing partners.
	CanPair() bool
}

// EventType identifies a collection change.
type EventType int

const (
	// Added indicates a resource joined the collection.
	Added EventType = iota
	// Removed indicates a resource left the collection.
	Removed
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	switch t {
	case Added:
		return "added"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Event is a collection change notification.
type Event struct {
	Type     EventType
	Resource Resource
}

// Listener receives collection events.
type Listener func(Event)

// Pairable reports whether r may take part in automatic pairing.
// Resources without an owner are pairable.
func Pairable(r Resource) bool {
	if r == nil {
		return false
	}
	owner := r.Owner()
	return owner == nil || owner.CanPair()
}

// SplitPath splits a slash or backslash separated path into its non-empty
// components.
func SplitPath(p string) []string {
	return strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '\\'
	})
}

// Basename returns the last component of p, ignoring trailing separators.
func Basename(p string) string {
	parts := SplitPath(p)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}
