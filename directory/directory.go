package directory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrSubscriberNotFound is returned by Lookup for an unknown tel.
var ErrSubscriberNotFound = errors.New("subscriber not found")

// ErrDirectoryUnavailable wraps transport-level database failures.
var ErrDirectoryUnavailable = errors.New("directory unavailable")

// Subscriber is one account directory row.
type Subscriber struct {
	ID       int64
	Tel      string
	Username string
	Active   bool

	// CreatedAt anchors the account expiry computation.
	CreatedAt time.Time

	// ExpiryPolicy is a duration of the form "<integer><unit>" with unit
	// h, d, or y, measured from CreatedAt.
	ExpiryPolicy string

	// MaxConcurrent is the subscriber's concurrency ceiling (at least 1).
	MaxConcurrent int
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	tel TEXT NOT NULL UNIQUE,
	username TEXT NOT NULL DEFAULT '',
	active BOOLEAN NOT NULL DEFAULT true,
	expires_at TEXT NOT NULL DEFAULT '1y',
	max_concurrent_requests INTEGER,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_users_tel ON users(tel);
`

// Directory queries the subscriber table.
type Directory struct {
	db *sql.DB
}

// Open connects to the subscriber database and ensures the schema exists.
func Open(dsn string) (*Directory, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return &Directory{db: db}, nil
}

// New wraps an existing database handle. The caller keeps ownership.
func New(db *sql.DB) *Directory {
	return &Directory{db: db}
}

// Close releases the underlying database handle.
func (d *Directory) Close() error {
	return d.db.Close()
}

// Create inserts a subscriber row. Zero-value fields fall back to the
// schema defaults (active, "1y" policy, ceiling 1).
func (d *Directory) Create(ctx context.Context, sub Subscriber) error {
	if sub.ExpiryPolicy == "" {
		sub.ExpiryPolicy = "1y"
	}
	if sub.MaxConcurrent < 1 {
		sub.MaxConcurrent = 1
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx,
		`INSERT INTO users (tel, username, active, expires_at, max_concurrent_requests, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		sub.Tel, sub.Username, sub.Active, sub.ExpiryPolicy, sub.MaxConcurrent, sub.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return nil
}

// Lookup fetches a subscriber by tel. The active flag is returned as-is;
// policy decisions about inactive subscribers belong to the caller.
func (d *Directory) Lookup(ctx context.Context, tel string) (*Subscriber, error) {
	const q = `
SELECT id, tel, username, active, expires_at, COALESCE(max_concurrent_requests, 1), created_at
FROM users WHERE tel = ?`

	var sub Subscriber
	err := d.db.QueryRowContext(ctx, q, tel).Scan(
		&sub.ID,
		&sub.Tel,
		&sub.Username,
		&sub.Active,
		&sub.ExpiryPolicy,
		&sub.MaxConcurrent,
		&sub.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSubscriberNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	if sub.MaxConcurrent < 1 {
		sub.MaxConcurrent = 1
	}

	return &sub, nil
}

// IsActive reports whether the tel exists and is flagged active. Used as
// the uncached fallback by [ActiveCache].
func (d *Directory) IsActive(ctx context.Context, tel string) (bool, error) {
	var active bool
	err := d.db.QueryRowContext(ctx, `SELECT active FROM users WHERE tel = ?`, tel).Scan(&active)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrDirectoryUnavailable, err)
	}
	return active, nil
}
