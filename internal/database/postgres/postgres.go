// Package postgres implements the storage backend on PostgreSQL with pgvector,
// for sites that keep terminal ledgers on a shared server.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/database"
	"github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Pool manages a PostgreSQL connection pool.
type Pool struct {
	db *sql.DB
}

func init() {
	database.RegisterBackend("postgres", func(ctx context.Context, cfg *config.DatabaseConfig) (database.Store, error) {
		return Initialize(ctx, cfg)
	})
}

// NewPool creates a new PostgreSQL connection pool.
func NewPool(cfg *config.DatabaseConfig) (*Pool, error) {
	if cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool.
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Pool{db: db}, nil
}

// DB returns the underlying sql.DB for direct access.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Close closes the connection pool.
func (p *Pool) Close() error {
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			return fmt.Errorf("closing database connection: %w", err)
		}
	}
	return nil
}

// Migrate applies all pending migrations.
func (p *Pool) Migrate(ctx context.Context) error {
	sub, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open migrations: %w", err)
	}
	return database.Migrate(ctx, p.db, sub, "INSERT INTO schema_migrations (version) VALUES ($1)")
}

// Store is the PostgreSQL implementation of database.Store.
type Store struct {
	pool *Pool
}

// NewStore wraps an already migrated pool.
func NewStore(pool *Pool) *Store {
	return &Store{pool: pool}
}

// Initialize connects, runs migrations and returns the store.
func Initialize(ctx context.Context, cfg *config.DatabaseConfig) (*Store, error) {
	if cfg == nil || cfg.URL == "" {
		return nil, errors.New("database URL is required")
	}

	pool, err := NewPool(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create PostgreSQL pool: %w", err)
	}

	if err := pool.Migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return NewStore(pool), nil
}

// Driver returns the backend name.
func (s *Store) Driver() string { return "postgres" }

// Close closes the pool.
func (s *Store) Close() error { return s.pool.Close() }

func dollar(n int) string { return fmt.Sprintf("$%d", n) }

// isUniqueViolation reports a unique_violation (23505) from PostgreSQL.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
