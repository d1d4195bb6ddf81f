// Package database opens the PostgreSQL connection pool used by the
// Postgres-backed persistence implementations.
package database

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/arbor-run/trust-core/internal/config"
)

// Connect establishes a connection pool to PostgreSQL from the shared
// DatabaseConfig (single source of truth for connection settings, loaded
// once at startup by internal/config).
func Connect(cfg config.DatabaseConfig) (*sql.DB, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host,
		cfg.Port,
		cfg.User,
		cfg.Password,
		cfg.Database,
		cfg.SSLMode,
	)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxConnections)
	db.SetMaxIdleConns(cfg.MaxConnections / 2)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}
