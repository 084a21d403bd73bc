package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

var migrationPattern = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

// Migration is one numbered schema step. DownPath is empty when the step has
// no down file.
type Migration struct {
	Version  string
	Name     string
	UpPath   string
	DownPath string
}

// MigrationFiles pairs the up and down files in dir, ordered by version.
func MigrationFiles(dir string) ([]Migration, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}

	byVersion := make(map[string]*Migration)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationPattern.FindStringSubmatch(entry.Name())
		if match == nil {
			continue
		}
		item, ok := byVersion[match[1]]
		if !ok {
			item = &Migration{Version: match[1]}
			byVersion[match[1]] = item
		}
		fullPath := filepath.Join(dir, entry.Name())
		switch match[2] {
		case "up":
			if item.UpPath != "" {
				return nil, fmt.Errorf("duplicate up migration for version %s", match[1])
			}
			item.UpPath = fullPath
			item.Name = entry.Name()
		case "down":
			if item.DownPath != "" {
				return nil, fmt.Errorf("duplicate down migration for version %s", match[1])
			}
			item.DownPath = fullPath
		}
	}

	items := make([]Migration, 0, len(byVersion))
	for _, item := range byVersion {
		if item.UpPath == "" {
			return nil, fmt.Errorf("migration version %s has no up file", item.Version)
		}
		items = append(items, *item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].Version < items[j].Version
	})
	return items, nil
}

func ApplyMigrations(ctx context.Context, db *sql.DB, migrationsDir string) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	migrations, err := MigrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for _, migration := range migrations {
		if migrated, err := isMigrated(ctx, db, migration.Name); err != nil {
			return err
		} else if migrated {
			continue
		}

		contents, err := os.ReadFile(migration.UpPath)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migration.Name, err)
		}
		err = execInTx(ctx, db, migration.Name, string(contents), `INSERT INTO schema_migrations(version) VALUES($1)`)
		if err != nil {
			return err
		}
	}
	return nil
}

// RollbackMigrations reverts the last steps applied migrations, newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, migrationsDir string, steps int) error {
	if err := ensureMigrationsTable(ctx, db); err != nil {
		return err
	}

	migrations, err := MigrationFiles(migrationsDir)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0 && steps > 0; i-- {
		migration := migrations[i]
		migrated, err := isMigrated(ctx, db, migration.Name)
		if err != nil {
			return err
		}
		if !migrated {
			continue
		}
		if migration.DownPath == "" {
			return fmt.Errorf("migration %s has no down file", migration.Name)
		}
		contents, err := os.ReadFile(migration.DownPath)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", migration.DownPath, err)
		}
		err = execInTx(ctx, db, migration.Name, strings.TrimSpace(string(contents)), `DELETE FROM schema_migrations WHERE version=$1`)
		if err != nil {
			return err
		}
		steps--
	}
	return nil
}

func execInTx(ctx context.Context, db *sql.DB, version, body, record string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", version, err)
	}
	if body != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", version, err)
		}
	}
	if _, err := tx.ExecContext(ctx, record, version); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", version, err)
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
