// Package pairstore persists manual pairings in SQLite so that they outlive
// the process and reconnecting live sessions.
//
// Pairings are keyed by full path, since resource identities do not survive
// a restart. Restore matches stored paths against the resources currently
// known to a registry and re-creates the manual pairs it can.
package pairstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/dshills/livelink/internal/project/pairing"
	"github.com/dshills/livelink/internal/project/resource"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// Record is one persisted manual pairing.
type Record struct {
	LivePath    string
	ProjectPath string
	CreatedAt   time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Store is a SQLite-backed table of manual pairings.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// Open opens or creates the database at path. Missing parent directories
// are created. Use Memory for a throwaway database.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("pair store path is empty")
	}

	dsn := path
	if path != Memory {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve pair store path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
			return nil, fmt.Errorf("create pair store dir: %w", err)
		}
		dsn = abs
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	s := &Store{
		db:     db,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS manual_pairs (
			live_path TEXT PRIMARY KEY,
			project_path TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS manual_pairs_project ON manual_pairs(project_path)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate pair store: %w", err)
		}
	}
	return nil
}

// Save stores rec, replacing any record for the same live path or the same
// project path. A zero CreatedAt is set to the current time. Saving a record
// that is already stored keeps its original CreatedAt.
func (s *Store) Save(ctx context.Context, rec Record) error {
	if rec.LivePath == "" || rec.ProjectPath == "" {
		return errors.New("pair record needs both paths")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM manual_pairs WHERE project_path = ? AND live_path <> ?`,
		rec.ProjectPath, rec.LivePath,
	); err != nil {
		return fmt.Errorf("save pair: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO manual_pairs (live_path, project_path, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(live_path) DO UPDATE SET
			created_at = CASE WHEN project_path = excluded.project_path THEN created_at ELSE excluded.created_at END,
			project_path = excluded.project_path`,
		rec.LivePath, rec.ProjectPath, rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("save pair: %w", err)
	}
	return tx.Commit()
}

// Delete removes the record for livePath and reports whether one existed.
func (s *Store) Delete(ctx context.Context, livePath string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM manual_pairs WHERE live_path = ?`, livePath)
	if err != nil {
		return false, fmt.Errorf("delete pair: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete pair: %w", err)
	}
	return n > 0, nil
}

// List returns every record ordered by live path.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT live_path, project_path, created_at FROM manual_pairs ORDER BY live_path`)
	if err != nil {
		return nil, fmt.Errorf("list pairs: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			rec     Record
			created string
		)
		if err := rows.Scan(&rec.LivePath, &rec.ProjectPath, &created); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		rec.CreatedAt, err = time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("parse pair time %q: %w", created, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Restore re-creates the stored pairings whose project resource is in the
// registry's project index and whose live resource is in live. Records that
// cannot be matched yet are kept. It returns the number of pairings made.
func (s *Store) Restore(ctx context.Context, reg *pairing.Registry, live resource.Collection) (int, error) {
	records, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	projects := make(map[string]resource.Resource)
	for _, r := range reg.ProjectIndex().All() {
		projects[r.Path()] = r
	}
	lives := make(map[string]resource.Resource)
	if live != nil {
		rs, err := live.Resources()
		if err != nil {
			return 0, fmt.Errorf("enumerate live resources: %w", err)
		}
		for _, r := range rs {
			lives[r.Path()] = r
		}
	}

	restored := 0
	for _, rec := range records {
		p, okP := projects[rec.ProjectPath]
		l, okL := lives[rec.LivePath]
		if !okP || !okL {
			continue
		}
		if _, err := reg.ManualPair(p, l); err != nil {
			return restored, fmt.Errorf("restore pair %s: %w", rec.LivePath, err)
		}
		restored++
	}
	s.logger.Debug("manual pairs restored", "stored", len(records), "restored", restored)
	return restored, nil
}

// Track records the registry's manual pairing changes as they happen.
// Pairings dropped because a resource went away stay stored so that Restore
// can bring them back when the resource returns.
func (s *Store) Track(reg *pairing.Registry) {
	reg.OnManualChange(func(c pairing.ManualChange) {
		ctx := context.Background()
		switch {
		case c.Removed && c.Stale:
			return
		case c.Removed:
			if _, err := s.Delete(ctx, c.Live.Path()); err != nil {
				s.logger.Error("forget manual pair", "live", c.Live.Path(), "error", err)
			}
		default:
			rec := Record{LivePath: c.Live.Path(), ProjectPath: c.Project.Path()}
			if err := s.Save(ctx, rec); err != nil {
				s.logger.Error("save manual pair", "live", rec.LivePath, "error", err)
			}
		}
	})
}
