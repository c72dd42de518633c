package history

import (
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

const schemaVersion = 2

type migration struct {
	Version     int
	Description string
	SQL         string
}

// migrations are applied in order, each exactly once, tracked in schema_version.
var migrations = []migration{
	{
		Version:     1,
		Description: "deliveries table",
		SQL: `
		CREATE TABLE IF NOT EXISTS deliveries (
			id          TEXT PRIMARY KEY,
			kind        TEXT NOT NULL,
			to_user     TEXT,
			to_party    TEXT,
			to_tag      TEXT,
			attempts    INTEGER NOT NULL DEFAULT 0,
			status      TEXT NOT NULL,
			detail      TEXT,
			created_at  DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_deliveries_time ON deliveries(created_at);
		CREATE INDEX IF NOT EXISTS idx_deliveries_status ON deliveries(status);
		`,
	},
	{
		Version:     2,
		Description: "remote msgid and send latency",
		SQL: `
		ALTER TABLE deliveries ADD COLUMN msg_id TEXT DEFAULT '';
		ALTER TABLE deliveries ADD COLUMN latency_ms INTEGER DEFAULT 0;
		`,
	},
}

// runMigrations brings db up to schemaVersion.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version     INTEGER PRIMARY KEY,
			description TEXT,
			applied_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		logger.Info("applying history migration", "version", m.Version, "description", m.Description)

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec(m.SQL); err != nil {
			tx.Rollback()
			// A column added by hand (or a half-applied upgrade) makes the
			// batch fail; fall back to one statement at a time.
			logger.Warn("migration batch failed, applying statements individually", "version", m.Version, "err", err)
			if err := applyStatements(db, m, logger); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(
			"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration v%d: %w", m.Version, err)
		}
	}
	return nil
}

func applyStatements(db *sql.DB, m migration, logger *slog.Logger) error {
	for _, stmt := range strings.Split(m.SQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.Exec(stmt); err != nil {
			if strings.Contains(err.Error(), "duplicate column") || strings.Contains(err.Error(), "already exists") {
				logger.Debug("migration statement skipped", "version", m.Version, "err", err)
				continue
			}
			return fmt.Errorf("migration v%d: %w", m.Version, err)
		}
	}
	_, err := db.Exec(
		"INSERT OR REPLACE INTO schema_version (version, description) VALUES (?, ?)",
		m.Version, m.Description,
	)
	return err
}

func currentVersion(db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("query schema version: %w", err)
	}
	return v, nil
}
