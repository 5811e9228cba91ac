// Package store is the SQLite-backed time-series store for usage events,
// provider snapshots, rollups and session observations.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	_ "modernc.org/sqlite" // register sqlite driver
)

// ErrNotInitialized is returned by every operation on a nil or closed Store.
var ErrNotInitialized = errors.New("store not initialized")

// Store wraps the database. Writes are serialized; reads run concurrently
// under WAL.
type Store struct {
	db  *sql.DB
	loc *time.Location

	writeMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// Option configures a Store.
type Option func(*Store)

// WithLocation sets the zone used for hour and date rollup keys. Default is
// time.Local.
func WithLocation(loc *time.Location) Option {
	return func(s *Store) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// Open opens or creates the database at dbPath.
func Open(dbPath string, opts ...Option) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=synchronous(normal)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening store db: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	s := &Store{db: db, loc: time.Local}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Close closes the database. Later calls return ErrNotInitialized.
func (s *Store) Close() error {
	if s == nil {
		return ErrNotInitialized
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.db == nil {
		return ErrNotInitialized
	}
	s.closed = true
	return s.db.Close()
}

// Location returns the rollup key zone.
func (s *Store) Location() *time.Location {
	if s == nil || s.loc == nil {
		return time.Local
	}
	return s.loc
}

func (s *Store) ready() error {
	if s == nil {
		return ErrNotInitialized
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed || s.db == nil {
		return ErrNotInitialized
	}
	return nil
}

// lockWrite takes writeMu and confirms the store is still open. On success
// the caller owns writeMu.
func (s *Store) lockWrite() error {
	if s == nil {
		return ErrNotInitialized
	}
	s.writeMu.Lock()
	if err := s.ready(); err != nil {
		s.writeMu.Unlock()
		return err
	}
	return nil
}

func toMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullPositive(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: v > 0}
}

func nullIntPtr(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullFloatPtr(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func intPtr(n sql.NullInt64) *int64 {
	if !n.Valid {
		return nil
	}
	v := n.Int64
	return &v
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// roundUSD trims REAL aggregation noise to six places.
func roundUSD(v float64) float64 {
	return decimal.NewFromFloat(v).Round(6).InexactFloat64()
}
