package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/me/wfplan/pkg/model"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
	now    func() time.Time
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and returns a Store.
// Use ":memory:" for an in-memory database (useful in tests).
func NewSQLiteStore(dbPath string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	// Every connection to ":memory:" is a separate database.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With("component", "store"),
		now:    time.Now,
	}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Migrate creates all required tables and indexes.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	s.logger.Debug("sql", "op", "migrate")
	return migrate(ctx, s.db)
}

// --- Replica catalog ---

// InsertReplica records a replica. Inserting an existing (lfn, pfn, site)
// replaces its metadata.
func (s *SQLiteStore) InsertReplica(ctx context.Context, loc model.ReplicaLocation) error {
	s.logger.Debug("sql", "op", "insert", "table", "replicas", "lfn", loc.LFN, "site", loc.Site)

	if loc.LFN == "" || loc.PFN == "" {
		return fmt.Errorf("replica requires lfn and pfn")
	}
	metaJSON, err := json.Marshal(loc.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	if loc.Metadata == nil {
		metaJSON = []byte("{}")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO replicas (lfn, pfn, site, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(lfn, pfn, site) DO UPDATE SET metadata = excluded.metadata`,
		loc.LFN, loc.PFN, loc.Site, string(metaJSON), s.now().UTC().Format(time.RFC3339Nano),
	)
	return err
}

// ListReplicas returns the replicas of lfn, or every replica when lfn is empty.
func (s *SQLiteStore) ListReplicas(ctx context.Context, lfn string) ([]model.ReplicaLocation, error) {
	s.logger.Debug("sql", "op", "list", "table", "replicas", "lfn", lfn)

	query := `SELECT lfn, pfn, site, metadata FROM replicas`
	var args []any
	if lfn != "" {
		query += ` WHERE lfn = ?`
		args = append(args, lfn)
	}
	query += ` ORDER BY lfn, site, pfn`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ReplicaLocation
	for rows.Next() {
		var loc model.ReplicaLocation
		var metaJSON string
		if err := rows.Scan(&loc.LFN, &loc.PFN, &loc.Site, &metaJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(metaJSON), &loc.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata for %s: %w", loc.LFN, err)
		}
		if len(loc.Metadata) == 0 {
			loc.Metadata = nil
		}
		out = append(out, loc)
	}
	return out, rows.Err()
}

// LoadReplicas reads the whole replica table into an in-memory catalog.
func (s *SQLiteStore) LoadReplicas(ctx context.Context) (*model.ReplicaStore, error) {
	locs, err := s.ListReplicas(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("load replicas: %w", err)
	}
	rs := model.NewReplicaStore()
	for _, loc := range locs {
		rs.Add(loc)
	}
	s.logger.Debug("replicas loaded", "count", len(locs))
	return rs, nil
}

// --- Plans ---

// Emit stores the plan for dag in a single transaction, replacing any
// earlier plan with the same UUID.
func (s *SQLiteStore) Emit(ctx context.Context, dag *model.DAG) error {
	if dag.UUID == "" {
		return fmt.Errorf("emit plan %s: workflow has no uuid", dag.Name)
	}
	s.logger.Debug("sql", "op", "emit", "table", "plans", "uuid", dag.UUID, "jobs", dag.JobCount())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	edges := dag.Edges()
	// The pragma only covers one pooled connection, so cascade by hand.
	for _, table := range []string{"plan_edges", "plan_jobs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE plan_uuid = ?`, dag.UUID); err != nil {
			return fmt.Errorf("delete old %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM plans WHERE uuid = ?`, dag.UUID); err != nil {
		return fmt.Errorf("delete old plan: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO plans (uuid, name, version, wf_index, job_count, edge_count, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		dag.UUID, dag.Name, dag.Version, dag.Index, dag.JobCount(), len(edges),
		s.now().UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("insert plan: %w", err)
	}

	jobStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO plan_jobs (plan_uuid, seq, name, logical_id, type, site, level, style, condor, env, transfers)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare job insert: %w", err)
	}
	defer jobStmt.Close()

	for i, j := range dag.Jobs() {
		condorJSON, err := marshalPairs(j.Condor)
		if err != nil {
			return fmt.Errorf("marshal condor profiles of %s: %w", j.Name, err)
		}
		envJSON, err := marshalPairs(j.Env)
		if err != nil {
			return fmt.Errorf("marshal env profiles of %s: %w", j.Name, err)
		}
		transfers := j.Transfers
		if transfers == nil {
			transfers = []*model.FileTransfer{}
		}
		transfersJSON, err := json.Marshal(transfers)
		if err != nil {
			return fmt.Errorf("marshal transfers of %s: %w", j.Name, err)
		}
		if _, err := jobStmt.ExecContext(ctx,
			dag.UUID, i, j.Name, j.LogicalID, string(j.Type), j.SiteHandle, j.Level, string(j.Style),
			condorJSON, envJSON, string(transfersJSON),
		); err != nil {
			return fmt.Errorf("insert job %s: %w", j.Name, err)
		}
	}

	edgeStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO plan_edges (plan_uuid, seq, parent, child) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare edge insert: %w", err)
	}
	defer edgeStmt.Close()

	for i, e := range edges {
		if _, err := edgeStmt.ExecContext(ctx, dag.UUID, i, e.Parent, e.Child); err != nil {
			return fmt.Errorf("insert edge %s -> %s: %w", e.Parent, e.Child, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit plan: %w", err)
	}
	s.logger.Info("plan stored", "uuid", dag.UUID, "jobs", dag.JobCount(), "edges", len(edges))
	return nil
}

// GetPlan returns the plan with the given UUID, or nil when absent.
func (s *SQLiteStore) GetPlan(ctx context.Context, uuid string) (*PlanRecord, error) {
	s.logger.Debug("sql", "op", "select", "table", "plans", "uuid", uuid)

	var p PlanRecord
	err := s.db.QueryRowContext(ctx,
		`SELECT uuid, name, wf_index, version, job_count, edge_count, created_at
		 FROM plans WHERE uuid = ?`, uuid,
	).Scan(&p.UUID, &p.Name, &p.Index, &p.Version, &p.JobCount, &p.EdgeCount, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ListPlans returns all plans, newest first.
func (s *SQLiteStore) ListPlans(ctx context.Context) ([]*PlanRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "plans")

	rows, err := s.db.QueryContext(ctx,
		`SELECT uuid, name, wf_index, version, job_count, edge_count, created_at
		 FROM plans ORDER BY created_at DESC, uuid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*PlanRecord
	for rows.Next() {
		var p PlanRecord
		if err := rows.Scan(&p.UUID, &p.Name, &p.Index, &p.Version, &p.JobCount, &p.EdgeCount, &p.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

// ListPlanJobs returns the jobs of a plan in emission order.
func (s *SQLiteStore) ListPlanJobs(ctx context.Context, uuid string) ([]*JobRecord, error) {
	s.logger.Debug("sql", "op", "list", "table", "plan_jobs", "uuid", uuid)

	rows, err := s.db.QueryContext(ctx,
		`SELECT name, type, site, level, style, condor, env, transfers
		 FROM plan_jobs WHERE plan_uuid = ? ORDER BY seq`, uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*JobRecord
	for rows.Next() {
		var r JobRecord
		var typ, style, condorJSON, envJSON, transfersJSON string
		if err := rows.Scan(&r.Name, &typ, &r.Site, &r.Level, &style, &condorJSON, &envJSON, &transfersJSON); err != nil {
			return nil, err
		}
		r.Type = model.JobType(typ)
		r.Style = model.StyleKind(style)
		if err := json.Unmarshal([]byte(condorJSON), &r.Condor); err != nil {
			return nil, fmt.Errorf("unmarshal condor of %s: %w", r.Name, err)
		}
		if err := json.Unmarshal([]byte(envJSON), &r.Env); err != nil {
			return nil, fmt.Errorf("unmarshal env of %s: %w", r.Name, err)
		}
		if err := json.Unmarshal([]byte(transfersJSON), &r.Transfers); err != nil {
			return nil, fmt.Errorf("unmarshal transfers of %s: %w", r.Name, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// ListPlanEdges returns the edges of a plan in emission order.
func (s *SQLiteStore) ListPlanEdges(ctx context.Context, uuid string) ([]model.Edge, error) {
	s.logger.Debug("sql", "op", "list", "table", "plan_edges", "uuid", uuid)

	rows, err := s.db.QueryContext(ctx,
		`SELECT parent, child FROM plan_edges WHERE plan_uuid = ? ORDER BY seq`, uuid)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Edge
	for rows.Next() {
		var e model.Edge
		if err := rows.Scan(&e.Parent, &e.Child); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalPairs(p *model.Profiles) (string, error) {
	pairs := p.Pairs()
	if pairs == nil {
		pairs = []model.KeyValue{}
	}
	b, err := json.Marshal(pairs)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
