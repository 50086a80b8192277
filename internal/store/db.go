package store

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// currentSchemaVersion is the latest index schema version.
const currentSchemaVersion = 1

// openIndex opens the capsule index database with WAL enabled and applies
// migrations. The index only accelerates time-range and recency queries;
// the per-capsule JSON file stays the durable unit of record.
func openIndex(dbPath string) (*sql.DB, error) {
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open index: %w", err)
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func migrate(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		schema := `
		CREATE TABLE IF NOT EXISTS capsules (
		  identifier TEXT PRIMARY KEY,
		  created_at INTEGER NOT NULL,
		  day        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_capsules_created_at
		ON capsules(created_at);

		CREATE INDEX IF NOT EXISTS idx_capsules_day
		ON capsules(day, identifier);
		`
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("migration 1 failed: %w", err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version=%d", currentSchemaVersion)); err != nil {
			return fmt.Errorf("set user_version: %w", err)
		}
	}

	return nil
}
