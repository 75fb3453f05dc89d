package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrations embed.FS

// Dialect names a supported SQL backend.
type Dialect string

const (
	DialectMemory   Dialect = "memory"
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Backend is an opened Store plus the handles needed to migrate and close it.
type Backend struct {
	Store   Store
	Dialect Dialect

	// DB is the database/sql handle used by goose. Nil for memory.
	DB *sql.DB

	closers []func()
}

// Open selects a backend from dsn:
//
//	""                     in-memory
//	postgres://, postgresql://  PostgreSQL via pgxpool
//	sqlite:PATH, file:PATH SQLite
func Open(ctx context.Context, dsn string) (*Backend, error) {
	switch {
	case dsn == "":
		return &Backend{Store: NewMemoryStore(), Dialect: DialectMemory}, nil

	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		pool, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		db := stdlib.OpenDBFromPool(pool)
		return &Backend{
			Store:   NewPostgresStore(pool),
			Dialect: DialectPostgres,
			DB:      db,
			closers: []func(){func() { db.Close() }, pool.Close},
		}, nil

	case strings.HasPrefix(dsn, "sqlite:"), strings.HasPrefix(dsn, "file:"):
		path := strings.TrimPrefix(strings.TrimPrefix(dsn, "sqlite:"), "file:")
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
		db, err := sql.Open("sqlite3", SQLiteDSN(path))
		if err != nil {
			return nil, fmt.Errorf("open sqlite: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("ping sqlite: %w", err)
		}
		return &Backend{
			Store:   NewSQLiteStore(db),
			Dialect: DialectSQLite,
			DB:      db,
			closers: []func(){func() { db.Close() }},
		}, nil
	}
	return nil, fmt.Errorf("unsupported DATABASE_URL scheme: %q", dsn)
}

// Migrate applies all pending migrations. It is a no-op for memory.
func (b *Backend) Migrate(ctx context.Context) error {
	if b.DB == nil {
		return nil
	}
	return Migrate(ctx, b.DB, b.Dialect)
}

// Close releases every handle held by the backend.
func (b *Backend) Close() {
	for _, c := range b.closers {
		c()
	}
}

// Migrate runs the embedded goose migrations for dialect against db.
func Migrate(ctx context.Context, db *sql.DB, dialect Dialect) error {
	dir := "migrations/postgres"
	if dialect == DialectSQLite {
		dir = "migrations/sqlite"
	}

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	if err := goose.SetDialect(string(dialect)); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db, dir); err != nil {
		return fmt.Errorf("migrate %s: %w", dialect, err)
	}
	return nil
}
