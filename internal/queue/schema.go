package queue

import (
	"database/sql"
	"fmt"

	"taskhound/internal/logging"
)

// Schema versions:
// v1: work_items + outcomes tables with the claim index
// v2: Added result_json column for the terminal outcome payload
const CurrentSchemaVersion = 2

const workItemsTable = `
CREATE TABLE IF NOT EXISTS work_items (
	id TEXT PRIMARY KEY,
	item_type TEXT NOT NULL,
	title TEXT NOT NULL,
	description TEXT,
	priority INTEGER NOT NULL,
	status TEXT NOT NULL,
	source TEXT NOT NULL,
	source_ref TEXT NOT NULL,
	context_json TEXT,
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	result_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_work_items_claim ON work_items(status, priority DESC, created_at);
CREATE INDEX IF NOT EXISTS idx_work_items_source ON work_items(source, source_ref);
CREATE INDEX IF NOT EXISTS idx_work_items_updated ON work_items(updated_at);
`

const outcomesTable = `
CREATE TABLE IF NOT EXISTS outcomes (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	work_item_id TEXT NOT NULL,
	attempt INTEGER NOT NULL,
	success BOOLEAN NOT NULL,
	output TEXT,
	files_json TEXT,
	exec_seconds REAL NOT NULL DEFAULT 0,
	error TEXT,
	recorded_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_item ON outcomes(work_item_id, attempt);
`

// migration adds a column missing from databases created before the
// column existed.
type migration struct {
	table  string
	column string
	def    string
}

var pendingMigrations = []migration{
	{"work_items", "result_json", "TEXT"},
}

// initSchema creates the tables and applies column migrations.
func initSchema(db *sql.DB) error {
	for _, stmt := range []string{workItemsTable, outcomesTable} {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	for _, m := range pendingMigrations {
		if columnExists(db, m.table, m.column) {
			continue
		}
		query := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.table, m.column, m.def)
		logging.QueueDebug("Executing migration: %s", query)
		if _, err := db.Exec(query); err != nil {
			// Column may already exist in a different form; not fatal.
			logging.Get(logging.CategoryQueue).Warn("Migration failed: %s.%s: %v", m.table, m.column, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}
