package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
)

var upMigrationPattern = regexp.MustCompile(`^(\d+)_.+\.up\.sql$`)

// Migration is one pending schema change read from the migrations dir.
type Migration struct {
	Version string
	Path    string
}

// ListMigrations returns the up migrations in migrationsDir ordered by
// file name. Two files sharing a numeric prefix are rejected.
func ListMigrations(migrationsDir string) ([]Migration, error) {
	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	seen := map[string]string{}
	var migrations []Migration
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		match := upMigrationPattern.FindStringSubmatch(name)
		if match == nil {
			continue
		}
		if other, ok := seen[match[1]]; ok {
			return nil, fmt.Errorf("migrations %s and %s share version %s", other, name, match[1])
		}
		seen[match[1]] = name
		migrations = append(migrations, Migration{Version: name, Path: filepath.Join(migrationsDir, name)})
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// ApplyMigrations runs every migration not yet recorded in
// schema_migrations, each in its own transaction, and reports how many
// it applied.
func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string, logger *slog.Logger) (int, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return 0, err
	}
	migrations, err := ListMigrations(migrationsDir)
	if err != nil {
		return 0, err
	}

	applied := 0
	for _, m := range migrations {
		migrated, err := isMigrated(ctx, db, m.Version)
		if err != nil {
			return applied, err
		}
		if migrated {
			continue
		}
		if err := applyMigration(ctx, db, m); err != nil {
			return applied, err
		}
		applied++
		logger.Info("migration applied", "version", m.Version)
	}
	return applied, nil
}

func applyMigration(ctx context.Context, db *sql.DB, m Migration) error {
	contents, err := os.ReadFile(m.Path)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", m.Version, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", m.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("execute migration %s: %w", m.Version, err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, m.Version); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Version, err)
	}
	return nil
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, db *sql.DB, version string) (bool, error) {
	var exists bool
	err := db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
