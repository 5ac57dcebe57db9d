// Package database provides the PostgreSQL persistence layer: the work
// queue substrate, permission grants, behavior parameters, ratings, and
// the audit tables.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

// Database wraps the sql connection pool and owns schema initialization.
type Database struct {
	db *sql.DB
}

// New opens a PostgreSQL connection pool and initializes the schema.
func New(url string) (*Database, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	d := &Database{db: db}
	if err := d.InitSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

// DB exposes the underlying pool for components that manage their own
// queries (queue, logging).
func (d *Database) DB() *sql.DB {
	return d.db
}

// Close closes the connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// rebind converts ? placeholders to $N for PostgreSQL.
func rebind(query string) string {
	var out strings.Builder
	n := 1
	for _, ch := range query {
		if ch == '?' {
			fmt.Fprintf(&out, "$%d", n)
			n++
		} else {
			out.WriteRune(ch)
		}
	}
	return out.String()
}

// InitSchema creates all tables if they do not exist. Safe to run on every
// startup.
func (d *Database) InitSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS aegis_tenants (
			id TEXT PRIMARY KEY,
			display_name TEXT,
			timezone TEXT DEFAULT 'UTC',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_work_queue (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			sub_loop TEXT NOT NULL,
			handler TEXT NOT NULL,
			priority INT NOT NULL,
			params_json TEXT,
			status TEXT NOT NULL DEFAULT 'queued',
			scheduled_for TIMESTAMPTZ NOT NULL,
			locked_until TIMESTAMPTZ,
			locked_by TEXT,
			attempts INT NOT NULL DEFAULT 0,
			max_attempts INT NOT NULL DEFAULT 3,
			dedup_key TEXT,
			result_json TEXT,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_queue_claim
			ON aegis_work_queue(status, scheduled_for, priority)`,
		`CREATE INDEX IF NOT EXISTS idx_work_queue_dedup
			ON aegis_work_queue(tenant_id, sub_loop, dedup_key)`,
		`CREATE TABLE IF NOT EXISTS aegis_dead_letters (
			id TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL,
			tenant_id TEXT NOT NULL,
			sub_loop TEXT NOT NULL,
			handler TEXT NOT NULL,
			params_json TEXT,
			attempts INT NOT NULL,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_permission_grants (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			action_pattern TEXT NOT NULL,
			domain TEXT,
			granted BOOLEAN NOT NULL DEFAULT FALSE,
			requires_confirmation BOOLEAN NOT NULL DEFAULT TRUE,
			expires_at TIMESTAMPTZ,
			daily_limit INT NOT NULL DEFAULT 0,
			active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (tenant_id, action_pattern)
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_grant_uses (
			grant_id TEXT NOT NULL,
			used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_grant_uses_grant
			ON aegis_grant_uses(grant_id, used_at)`,
		`CREATE TABLE IF NOT EXISTS aegis_ratings (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			intervention_type TEXT NOT NULL,
			score INT NOT NULL,
			comment TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_behavior_params (
			tenant_id TEXT PRIMARY KEY,
			proactivity DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			formality DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			directness DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			approach_level INT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_param_changes (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			rule TEXT NOT NULL,
			before_json TEXT NOT NULL,
			after_json TEXT NOT NULL,
			evidence_json TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_consensus_audit (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			action_type TEXT NOT NULL,
			domain TEXT,
			description TEXT,
			decision TEXT NOT NULL,
			agreement_count INT NOT NULL,
			total_validators INT NOT NULL,
			supermajority BOOLEAN NOT NULL,
			votes_json TEXT NOT NULL,
			latency_ms BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_action_attempts (
			attempt_key TEXT PRIMARY KEY,
			work_item_id TEXT NOT NULL,
			action TEXT NOT NULL,
			result_json TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_intervention_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			intervention_type TEXT NOT NULL,
			action TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			decision TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_tasks (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'open',
			due_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_sleep_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			night DATE NOT NULL,
			hours DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_activity_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			day DATE NOT NULL,
			active_minutes DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_mood_log (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			mood TEXT NOT NULL,
			energy_level INT NOT NULL DEFAULT 5,
			negative BOOLEAN NOT NULL DEFAULT FALSE,
			interaction BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_calendar_events (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			title TEXT NOT NULL,
			starts_at TIMESTAMPTZ NOT NULL,
			ends_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_goals (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			name TEXT NOT NULL,
			category TEXT,
			trajectory TEXT NOT NULL DEFAULT 'on_track',
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE TABLE IF NOT EXISTS aegis_user_responses (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			responded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_user_responses_tenant
			ON aegis_user_responses(tenant_id, responded_at)`,
		`CREATE TABLE IF NOT EXISTS aegis_integrations (
			id TEXT PRIMARY KEY,
			tenant_id TEXT NOT NULL,
			provider TEXT NOT NULL,
			connected BOOLEAN NOT NULL DEFAULT TRUE,
			last_sync TIMESTAMPTZ,
			UNIQUE (tenant_id, provider)
		)`,
	}

	for _, stmt := range statements {
		if _, err := d.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize schema: %w", err)
		}
	}

	d.migrate()
	return nil
}

// migrate applies best-effort column additions for older deployments.
func (d *Database) migrate() {
	alters := []string{
		`ALTER TABLE aegis_work_queue ADD COLUMN IF NOT EXISTS max_attempts INT NOT NULL DEFAULT 3`,
		`ALTER TABLE aegis_permission_grants ADD COLUMN IF NOT EXISTS daily_limit INT NOT NULL DEFAULT 0`,
		`ALTER TABLE aegis_behavior_params ADD COLUMN IF NOT EXISTS approach_level INT NOT NULL DEFAULT 0`,
		`ALTER TABLE aegis_mood_log ADD COLUMN IF NOT EXISTS interaction BOOLEAN NOT NULL DEFAULT FALSE`,
	}
	for _, stmt := range alters {
		if _, err := d.db.Exec(stmt); err != nil {
			log.Printf("[Database] migration skipped: %v", err)
		}
	}
}

// WithAdvisoryLock runs fn while holding a transaction-scoped advisory lock
// keyed on key. The lock is released when the transaction ends, so two
// processes cannot run fn for the same key concurrently.
func (d *Database) WithAdvisoryLock(ctx context.Context, key string, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("failed to acquire advisory lock: %w", err)
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListTenants returns all known tenant IDs.
func (d *Database) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT id FROM aegis_tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant: %w", err)
		}
		tenants = append(tenants, id)
	}
	return tenants, rows.Err()
}

// EnsureTenant inserts the tenant row if it does not exist.
func (d *Database) EnsureTenant(ctx context.Context, tenantID string) error {
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_tenants (id) VALUES (?)
		ON CONFLICT (id) DO NOTHING
	`), tenantID)
	if err != nil {
		return fmt.Errorf("failed to ensure tenant %s: %w", tenantID, err)
	}
	return nil
}
