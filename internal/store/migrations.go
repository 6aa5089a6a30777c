package store

import (
	"context"
	"database/sql"
	"strings"
)

// schema contains the DDL for all planner tables.
// Each statement uses IF NOT EXISTS for idempotency.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS replicas (
		lfn        TEXT NOT NULL,
		pfn        TEXT NOT NULL,
		site       TEXT NOT NULL,
		metadata   TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		PRIMARY KEY (lfn, pfn, site)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_replicas_lfn ON replicas(lfn)`,

	`CREATE TABLE IF NOT EXISTS plans (
		uuid       TEXT PRIMARY KEY,
		name       TEXT NOT NULL,
		version    TEXT NOT NULL DEFAULT '',
		job_count  INTEGER NOT NULL DEFAULT 0,
		edge_count INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS plan_jobs (
		plan_uuid TEXT NOT NULL REFERENCES plans(uuid) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		name      TEXT NOT NULL,
		type      TEXT NOT NULL,
		site      TEXT NOT NULL DEFAULT '',
		level     INTEGER NOT NULL DEFAULT 0,
		style     TEXT NOT NULL DEFAULT '',
		condor    TEXT NOT NULL DEFAULT '[]',
		env       TEXT NOT NULL DEFAULT '[]',
		transfers TEXT NOT NULL DEFAULT '[]',
		PRIMARY KEY (plan_uuid, name)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_plan_jobs_type ON plan_jobs(plan_uuid, type)`,

	`CREATE TABLE IF NOT EXISTS plan_edges (
		plan_uuid TEXT NOT NULL REFERENCES plans(uuid) ON DELETE CASCADE,
		seq       INTEGER NOT NULL,
		parent    TEXT NOT NULL,
		child     TEXT NOT NULL,
		PRIMARY KEY (plan_uuid, parent, child)
	)`,
}

// alterStatements are column additions that need special handling since
// SQLite doesn't support IF NOT EXISTS for ALTER TABLE ADD COLUMN.
var alterStatements = []struct {
	table    string
	column   string
	alterSQL string
	indexSQL string // Optional index to create after column is added
}{
	{
		table:    "plans",
		column:   "wf_index",
		alterSQL: "ALTER TABLE plans ADD COLUMN wf_index INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "replicas",
		column:   "size",
		alterSQL: "ALTER TABLE replicas ADD COLUMN size INTEGER NOT NULL DEFAULT 0",
	},
	{
		table:    "plan_jobs",
		column:   "logical_id",
		alterSQL: "ALTER TABLE plan_jobs ADD COLUMN logical_id TEXT NOT NULL DEFAULT ''",
		indexSQL: "CREATE INDEX IF NOT EXISTS idx_plan_jobs_logical_id ON plan_jobs(plan_uuid, logical_id)",
	},
}

// migrate executes all schema DDL statements, alter migrations, and post-migration indexes.
func migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}

	for _, alter := range alterStatements {
		if err := addColumnIfNotExists(ctx, db, alter.table, alter.column, alter.alterSQL); err != nil {
			return err
		}
		if alter.indexSQL != "" {
			if _, err := db.ExecContext(ctx, alter.indexSQL); err != nil {
				return err
			}
		}
	}

	return nil
}

// addColumnIfNotExists adds a column to a table if it doesn't already exist.
func addColumnIfNotExists(ctx context.Context, db *sql.DB, table, column, alterSQL string) error {
	rows, err := db.QueryContext(ctx, "PRAGMA table_info("+table+")")
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dfltValue *string
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if strings.EqualFold(name, column) {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = db.ExecContext(ctx, alterSQL)
	return err
}
