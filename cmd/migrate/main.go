package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorBlue   = "\033[34m"
	colorCyan   = "\033[36m"
)

// Migration is one incremental schema change read from migrations/.
type Migration struct {
	Version  string
	Filename string
	SQL      string
}

func main() {
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("failed to ping database: %v", err)
	}

	fmt.Printf("%s====================================%s\n", colorCyan, colorReset)
	fmt.Printf("%s  trust-core database migration%s\n", colorCyan, colorReset)
	fmt.Printf("%s====================================%s\n\n", colorCyan, colorReset)

	if err := ensureMigrationsTable(ctx, db); err != nil {
		log.Fatalf("failed to create migrations table: %v", err)
	}

	fresh, err := isDatabaseFresh(ctx, db)
	if err != nil {
		log.Fatalf("failed to check database state: %v", err)
	}

	if fresh {
		fmt.Printf("%sfresh database detected%s: applying consolidated V1 schema\n\n", colorGreen, colorReset)
		if err := applyConsolidatedSchema(ctx, db); err != nil {
			log.Fatalf("failed to apply consolidated schema: %v", err)
		}
	} else {
		fmt.Printf("%sexisting database detected%s: applying incremental migrations\n\n", colorYellow, colorReset)
		if err := applyIncrementalMigrations(ctx, db); err != nil {
			log.Fatalf("failed to apply incremental migrations: %v", err)
		}
	}

	fmt.Printf("\n%sall migrations applied%s\n", colorGreen, colorReset)
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version VARCHAR(255) PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	return err
}

// isDatabaseFresh checks for kv_store, trust-core's oldest table — its
// absence means this is a brand new database.
func isDatabaseFresh(ctx context.Context, db *sql.DB) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT FROM information_schema.tables
			WHERE table_schema = 'public'
			AND table_name = 'kv_store'
		)
	`).Scan(&exists)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

func applyConsolidatedSchema(ctx context.Context, db *sql.DB) error {
	content, err := os.ReadFile("migrations/V1__consolidated_schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read consolidated schema: %w", err)
	}

	fmt.Printf("%sapplying consolidated V1 schema...%s\n", colorBlue, colorReset)

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(content)); err != nil {
		return fmt.Errorf("failed to execute consolidated schema: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	fmt.Printf("%sconsolidated schema applied%s\n", colorGreen, colorReset)
	return nil
}

func applyIncrementalMigrations(ctx context.Context, db *sql.DB) error {
	applied, err := getAppliedMigrations(ctx, db)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	migrations, err := readMigrationFiles("migrations")
	if err != nil {
		return fmt.Errorf("failed to read migration files: %w", err)
	}

	pending := filterPendingMigrations(migrations, applied)
	if len(pending) == 0 {
		fmt.Printf("%sno pending migrations%s\n", colorGreen, colorReset)
		return nil
	}

	fmt.Printf("%sfound %d pending migration(s)%s\n\n", colorYellow, len(pending), colorReset)

	for _, migration := range pending {
		fmt.Printf("%sapplying: %s%s\n", colorBlue, migration.Filename, colorReset)
		if err := applyMigration(ctx, db, migration); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", migration.Filename, err)
		}
		fmt.Printf("%s  applied%s\n", colorGreen, colorReset)
	}

	return nil
}

func getAppliedMigrations(ctx context.Context, db *sql.DB) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func readMigrationFiles(dir string) ([]Migration, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var migrations []Migration
	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".sql") {
			continue
		}
		if strings.HasPrefix(file.Name(), "V1__consolidated") {
			continue
		}

		content, err := os.ReadFile(filepath.Join(dir, file.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", file.Name(), err)
		}

		version := strings.TrimSuffix(file.Name(), ".sql")
		migrations = append(migrations, Migration{
			Version:  version,
			Filename: file.Name(),
			SQL:      string(content),
		})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].Version < migrations[j].Version
	})
	return migrations, nil
}

func filterPendingMigrations(migrations []Migration, applied map[string]bool) []Migration {
	var pending []Migration
	for _, m := range migrations {
		if !applied[m.Version] {
			pending = append(pending, m)
		}
	}
	return pending
}

func applyMigration(ctx context.Context, db *sql.DB, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)",
		migration.Version, time.Now()); err != nil {
		return err
	}
	return tx.Commit()
}
