// Package live connects to a running page over a websocket and exposes the
// style sheets it has loaded as a resource collection.
//
// The page reports sheets with added, removed and reset messages, each
// validated against an embedded JSON Schema before it is applied. Sheets can
// be rewritten in place with Stylesheet.Apply.
package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/dshills/livelink/internal/project/resource"
)

// Errors returned by the client.
var (
	ErrClosed     = errors.New("live connection is closed")
	ErrBadMessage = errors.New("malformed live message")
)

// DefaultDialTimeout bounds the websocket handshake.
const DefaultDialTimeout = 10 * time.Second

// maxMessageSize bounds a single incoming frame.
const maxMessageSize = 1 << 20

// Config holds client configuration.
type Config struct {
	// DialTimeout bounds the handshake.
	// Default: 10s
	DialTimeout time.Duration

	// Logger receives protocol diagnostics.
	Logger *slog.Logger
}

// Option configures a Client.
type Option func(*Config)

// WithDialTimeout sets the handshake timeout.
func WithDialTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.DialTimeout = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// Client is a live page connection and the collection of its style sheets.
type Client struct {
	url    string
	conn   *websocket.Conn
	logger *slog.Logger
	set    *resource.Set

	mu     sync.Mutex
	sheets map[string]*Stylesheet

	closed atomic.Bool
}

// Dial connects to the live page endpoint at url.
func Dial(ctx context.Context, url string, opts ...Option) (*Client, error) {
	config := Config{DialTimeout: DefaultDialTimeout}
	for _, opt := range opts {
		opt(&config)
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, config.DialTimeout)
		defer cancel()
	}

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(maxMessageSize)

	return &Client{
		url:    url,
		conn:   conn,
		logger: logger.With("live", url),
		set:    resource.NewSet(true),
		sheets: make(map[string]*Stylesheet),
	}, nil
}

// URL returns the endpoint the client is connected to.
func (c *Client) URL() string {
	return c.url
}

// Resources implements resource.Collection.
func (c *Client) Resources() ([]resource.Resource, error) {
	return c.set.Resources()
}

// Subscribe implements resource.Collection.
func (c *Client) Subscribe(l resource.Listener) func() {
	return c.set.Subscribe(l)
}

// CanPair implements resource.Collection.
func (c *Client) CanPair() bool {
	return c.set.CanPair()
}

// Lookup returns the sheet with the given page identifier.
func (c *Client) Lookup(id string) (*Stylesheet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sheets[id]
	return s, ok
}

// Run reads page messages until ctx is done, the page closes the
// connection or Close is called. Malformed messages are logged and skipped.
func (c *Client) Run(ctx context.Context) error {
	for {
		typ, data, err := c.conn.Read(ctx)
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				return nil
			}
			return fmt.Errorf("read live message: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := DecodeMessage(data)
		if err != nil {
			c.logger.Warn("skip live message", "error", err)
			continue
		}
		if err := c.handle(msg); err != nil {
			c.logger.Warn("skip live message", "type", msg.Type, "error", err)
		}
	}
}

func (c *Client) handle(msg Message) error {
	switch msg.Type {
	case TypeAdded:
		sheet, err := newStylesheet(c, msg.ID, msg.URL)
		if err != nil {
			return err
		}
		c.mu.Lock()
		old, ok := c.sheets[msg.ID]
		if ok && old.url == msg.URL {
			c.mu.Unlock()
			return nil
		}
		c.sheets[msg.ID] = sheet
		c.mu.Unlock()

		if ok {
			c.set.Remove(old)
		}
		c.set.Add(sheet)
		c.logger.Debug("stylesheet added", "id", msg.ID, "url", msg.URL)

	case TypeRemoved:
		c.mu.Lock()
		old, ok := c.sheets[msg.ID]
		delete(c.sheets, msg.ID)
		c.mu.Unlock()
		if ok {
			c.set.Remove(old)
			c.logger.Debug("stylesheet removed", "id", msg.ID)
		}

	case TypeReset:
		c.mu.Lock()
		c.sheets = make(map[string]*Stylesheet)
		c.mu.Unlock()
		c.set.Clear()
		c.logger.Debug("stylesheets reset")
	}
	return nil
}

func (c *Client) send(ctx context.Context, msg Message) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, c.conn, msg); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	return nil
}

// Close closes the connection and empties the collection.
func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.mu.Lock()
	c.sheets = make(map[string]*Stylesheet)
	c.mu.Unlock()
	c.set.Clear()
	if err != nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		return fmt.Errorf("close live connection: %w", err)
	}
	return nil
}

var _ resource.Collection = (*Client)(nil)
