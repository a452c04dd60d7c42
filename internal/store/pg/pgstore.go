package pg

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"io/fs"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"benchguard.io/internal/activity"
	"benchguard.io/internal/audit"
	"benchguard.io/internal/auth"
)

//go:embed migrations/*.sql seeds/*.sql
var files embed.FS

// Migrations exposes the embedded schema; names end in .up.sql / .down.sql.
func Migrations() fs.FS {
	sub, _ := fs.Sub(files, "migrations")
	return sub
}

// Seeds exposes the embedded seed files.
func Seeds() fs.FS {
	sub, _ := fs.Sub(files, "seeds")
	return sub
}

var errNoDB = errors.New("database connection unavailable")

// Store implements the auth, audit and activity stores on Postgres.
type Store struct {
	db *sql.DB
}

var (
	_ auth.Store     = (*Store)(nil)
	_ audit.Store    = (*AuditStore)(nil)
	_ activity.Store = (*ActivityStore)(nil)
)

// PoolConfig tunes the connection pool; zero values keep the defaults.
type PoolConfig struct {
	MaxOpenConns int
	MaxIdleConns int
}

func Open(dsn string, pool PoolConfig) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if pool.MaxOpenConns <= 0 {
		pool.MaxOpenConns = 20
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 10
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// New wraps an existing handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

// Ping backs the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	if s.db == nil {
		return errNoDB
	}
	return s.db.PingContext(ctx)
}

func (s *Store) Actors(ctx context.Context) auth.ActorStore { return actorStore{s.db} }
func (s *Store) Grants(ctx context.Context) auth.GrantStore { return grantStore{s.db} }
func (s *Store) Flags(ctx context.Context) auth.FlagStore   { return flagStore{s.db} }

// Audit returns the insert-only ledger store.
func (s *Store) Audit() *AuditStore { return &AuditStore{db: s.db} }

// Activity returns the activity log store.
func (s *Store) Activity() *ActivityStore { return &ActivityStore{db: s.db} }
