package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column type placeholders substituted per dialect before a migration runs.
var dialectTypes = map[Dialect]*strings.Replacer{
	DialectSQLite: strings.NewReplacer(
		"{{serial}}", "INTEGER PRIMARY KEY AUTOINCREMENT",
		"{{ts}}", "DATETIME",
		"{{real}}", "REAL",
	),
	DialectPostgres: strings.NewReplacer(
		"{{serial}}", "BIGSERIAL PRIMARY KEY",
		"{{ts}}", "TIMESTAMPTZ",
		"{{real}}", "DOUBLE PRECISION",
	),
}

// Each migration is a list of single statements so that both drivers can
// run them inside one transaction.
var migrations = [][]string{
	// Migration 1: Initial schema
	{
		`CREATE TABLE IF NOT EXISTS locations (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT '',
			campus     TEXT NOT NULL DEFAULT '',
			created_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS items (
			id                   TEXT PRIMARY KEY,
			name                 TEXT NOT NULL,
			location_id          TEXT NOT NULL,
			quantity             BIGINT NOT NULL DEFAULT 0,
			current_quantity     BIGINT NOT NULL DEFAULT 0 CHECK(current_quantity >= 0),
			days_until_depletion BIGINT,
			created_at           {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at           {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_items_location_name ON items(location_id, name)`,

		`CREATE TABLE IF NOT EXISTS usage_samples (
			seq         {{serial}},
			id          TEXT NOT NULL UNIQUE,
			item_id     TEXT NOT NULL,
			usage_rate  {{real}} NOT NULL CHECK(usage_rate >= 0),
			observed_at {{ts}} NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_samples_item_observed ON usage_samples(item_id, observed_at)`,

		`CREATE TABLE IF NOT EXISTS alerts (
			id              TEXT PRIMARY KEY,
			item_id         TEXT NOT NULL DEFAULT '',
			location_id     TEXT NOT NULL,
			category        TEXT NOT NULL,
			message         TEXT NOT NULL DEFAULT '',
			urgency         TEXT NOT NULL CHECK(urgency IN ('URGENT', 'SERIOUS', 'DAY_TO_DAY')),
			status          TEXT NOT NULL DEFAULT 'PENDING'
			                CHECK(status IN ('PENDING', 'ACKNOWLEDGED', 'RESOLVED', 'DISMISSED')),
			submitted_by    TEXT NOT NULL DEFAULT '',
			acknowledged_by TEXT NOT NULL DEFAULT '',
			acknowledged_at {{ts}},
			resolved_at     {{ts}},
			dismissed_at    {{ts}},
			created_at      {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_status ON alerts(status)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_location ON alerts(location_id)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_item ON alerts(item_id)`,

		`CREATE TABLE IF NOT EXISTS notification_preferences (
			recipient_id       TEXT NOT NULL,
			channel            TEXT NOT NULL,
			channel_address    TEXT NOT NULL DEFAULT '',
			enabled            BOOLEAN NOT NULL DEFAULT TRUE,
			tier_filter        TEXT NOT NULL DEFAULT 'URGENT_ONLY',
			link_token         TEXT NOT NULL DEFAULT '',
			link_token_expires {{ts}},
			updated_at         {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (recipient_id, channel)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_prefs_link_token ON notification_preferences(link_token)`,

		`CREATE TABLE IF NOT EXISTS deliveries (
			alert_id     TEXT NOT NULL,
			recipient_id TEXT NOT NULL,
			channel      TEXT NOT NULL,
			status       TEXT NOT NULL,
			error        TEXT NOT NULL DEFAULT '',
			attempted_at {{ts}} NOT NULL,
			PRIMARY KEY (alert_id, recipient_id, channel)
		)`,
	},
	// Migration 2: Record who dismissed an alert
	{
		`ALTER TABLE alerts ADD COLUMN dismissed_by TEXT NOT NULL DEFAULT ''`,
	},
}

// runMigrations applies pending schema migrations.
func runMigrations(ctx context.Context, db *sql.DB, dialect Dialect) error {
	types := dialectTypes[dialect]

	// Ensure migration tracking table exists
	_, err := db.ExecContext(ctx, types.Replace(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at {{ts}} NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`))
	if err != nil {
		return fmt.Errorf("create migration table: %w", err)
	}

	var currentVersion int
	row := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("check migration version: %w", err)
	}

	for i := currentVersion; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", i+1, err)
		}

		for _, stmt := range migrations[i] {
			if _, err := tx.ExecContext(ctx, types.Replace(stmt)); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("run migration %d: %w", i+1, err)
			}
		}

		if _, err := tx.ExecContext(ctx, rebind(dialect, "INSERT INTO schema_migrations (version) VALUES (?)"), i+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", i+1, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", i+1, err)
		}
	}

	return nil
}
