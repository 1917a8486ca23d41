package live

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/dshills/livelink/internal/project/resource"
)

// Stylesheet is a style sheet loaded by the live page.
type Stylesheet struct {
	client *Client
	id     string
	url    string
	path   string
	rel    string
	base   string

	mu      sync.Mutex
	digest  uint64
	applied bool
}

func newStylesheet(c *Client, id, raw string) (*Stylesheet, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: stylesheet url %q: %v", ErrBadMessage, raw, err)
	}
	rel := strings.TrimPrefix(u.Path, "/")
	full := u.Path
	if u.Host != "" {
		full = u.Scheme + "://" + u.Host + "/" + rel
	}
	return &Stylesheet{
		client: c,
		id:     id,
		url:    raw,
		path:   full,
		rel:    rel,
		base:   resource.Basename(rel),
	}, nil
}

// ID returns the page's identifier for the sheet.
func (s *Stylesheet) ID() string { return s.id }

// URL returns the sheet URL as reported by the page.
func (s *Stylesheet) URL() string { return s.url }

// Basename implements resource.Resource.
func (s *Stylesheet) Basename() string { return s.base }

// RelativePath returns the URL path without its leading slash.
func (s *Stylesheet) RelativePath() string { return s.rel }

// Path returns the URL without query or fragment.
func (s *Stylesheet) Path() string { return s.path }

// IsDir implements resource.Resource.
func (s *Stylesheet) IsDir() bool { return false }

// Owner implements resource.Resource.
func (s *Stylesheet) Owner() resource.Collection {
	if s.client == nil {
		return nil
	}
	return s.client
}

// String describes the sheet for logs.
func (s *Stylesheet) String() string { return s.id + " " + s.path }

// Apply replaces the sheet's text in the live page. Text identical to the
// last applied text is not sent again.
func (s *Stylesheet) Apply(ctx context.Context, text string) error {
	digest := xxhash.Sum64String(text)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied && s.digest == digest {
		return nil
	}
	if s.client == nil {
		return ErrClosed
	}
	if err := s.client.send(ctx, Message{Type: TypeApply, ID: s.id, Text: text}); err != nil {
		return err
	}
	s.digest = digest
	s.applied = true
	return nil
}

var (
	_ resource.Resource = (*Stylesheet)(nil)
	_ resource.Applier  = (*Stylesheet)(nil)
)
