package storage

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"sort"

	"github.com/jackc/pgx/v5/pgxpool"

	"weather-oracle/internal/config"
)

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}

// EnsureSchema applies the SQL migrations in lexical order. Files under dir
// replace the embedded set when dir holds at least one migration.
func (s *Store) EnsureSchema(ctx context.Context, dir string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	source, names, err := migrationSet(dir)
	if err != nil {
		return err
	}

	for _, name := range names {
		body, err := fs.ReadFile(source, name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := pool.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
	}
	return nil
}

// migrationSet lists the migrations to apply, falling back to the embedded
// set when dir is unset, missing or has no .sql files.
func migrationSet(dir string) (fs.FS, []string, error) {
	if dir != "" {
		if info, statErr := os.Stat(dir); statErr == nil && info.IsDir() {
			source := os.DirFS(dir)
			names, err := fs.Glob(source, "*.sql")
			if err != nil {
				return nil, nil, fmt.Errorf("list migrations in %s: %w", dir, err)
			}
			if len(names) > 0 {
				sort.Strings(names)
				return source, names, nil
			}
		}
	}

	names, err := fs.Glob(embeddedMigrations, "migrations/*.sql")
	if err != nil {
		return nil, nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)
	return embeddedMigrations, names, nil
}
