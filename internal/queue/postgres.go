package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// PostgresQueue is the shared-database backend. Claims rely on
// FOR UPDATE SKIP LOCKED so concurrent workers never lease the same row.
type PostgresQueue struct {
	db          *sql.DB
	cooldown    time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
}

// NewPostgresQueue wraps an open connection pool. The schema is owned by
// the database package. maxAttempts is the default retry budget for
// emits that do not set one; zero or less falls back to
// models.DefaultMaxAttempts.
func NewPostgresQueue(db *sql.DB, cooldown time.Duration, maxAttempts int) *PostgresQueue {
	return &PostgresQueue{db: db, cooldown: cooldown, maxAttempts: maxAttempts, metrics: metrics.Get()}
}

// Emit implements Queue.
func (q *PostgresQueue) Emit(ctx context.Context, p EmitParams) (*models.WorkItem, error) {
	now := time.Now()
	if err := normalize(&p, now, q.maxAttempts); err != nil {
		return nil, err
	}

	var paramsJSON any
	if len(p.Params) > 0 {
		data, err := json.Marshal(p.Params)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal params: %w", err)
		}
		paramsJSON = string(data)
	}

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin emit transaction: %w", err)
	}
	defer tx.Rollback()

	if p.DedupKey != "" {
		var hit bool
		err := tx.QueryRowContext(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM aegis_work_queue
				WHERE tenant_id = $1 AND sub_loop = $2 AND dedup_key = $3
				  AND (status IN ('queued', 'processing')
				       OR (status = 'completed' AND completed_at >= $4))
			)
		`, p.TenantID, string(p.SubLoop), p.DedupKey, now.Add(-q.cooldown)).Scan(&hit)
		if err != nil {
			return nil, fmt.Errorf("failed to check dedup key: %w", err)
		}
		if hit {
			q.metrics.ItemsDeduped.WithLabelValues(string(p.SubLoop)).Inc()
			return nil, nil
		}
	}

	item := &models.WorkItem{
		ID:           uuid.New().String(),
		TenantID:     p.TenantID,
		SubLoop:      p.SubLoop,
		Handler:      p.Handler,
		Priority:     p.SubLoop.Priority(),
		Params:       p.Params,
		Status:       models.WorkStatusQueued,
		ScheduledFor: p.ScheduledFor,
		MaxAttempts:  p.MaxAttempts,
		DedupKey:     p.DedupKey,
		CreatedAt:    now,
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO aegis_work_queue
			(id, tenant_id, sub_loop, handler, priority, params_json, status,
			 scheduled_for, max_attempts, dedup_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, 'queued', $7, $8, $9, $10)
	`, item.ID, item.TenantID, string(item.SubLoop), item.Handler, int(item.Priority),
		paramsJSON, item.ScheduledFor, item.MaxAttempts, nullString(item.DedupKey), item.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert work item: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit emit: %w", err)
	}
	q.metrics.ItemsEmitted.WithLabelValues(string(p.SubLoop)).Inc()
	return item, nil
}

// Claim implements Queue. The SKIP LOCKED select and the lease update run
// in one transaction, so two workers racing on the same row cannot both
// win.
func (q *PostgresQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.WorkItem, error) {
	now := time.Now()

	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer tx.Rollback()

	item := &models.WorkItem{}
	var paramsJSON, dedupKey sql.NullString
	var subLoop string
	var priority int
	err = tx.QueryRowContext(ctx, `
		SELECT id, tenant_id, sub_loop, handler, priority, params_json,
		       scheduled_for, attempts, max_attempts, dedup_key, created_at
		FROM aegis_work_queue
		WHERE status = 'queued' AND scheduled_for <= $1
		ORDER BY priority ASC, scheduled_for ASC, created_at ASC
		LIMIT 1
		FOR UPDATE SKIP LOCKED
	`, now).Scan(&item.ID, &item.TenantID, &subLoop, &item.Handler, &priority,
		&paramsJSON, &item.ScheduledFor, &item.Attempts, &item.MaxAttempts,
		&dedupKey, &item.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable item: %w", err)
	}

	item.SubLoop = models.SubLoop(subLoop)
	item.Priority = models.Priority(priority)
	item.DedupKey = dedupKey.String
	if paramsJSON.Valid && paramsJSON.String != "" {
		if err := json.Unmarshal([]byte(paramsJSON.String), &item.Params); err != nil {
			return nil, fmt.Errorf("failed to unmarshal params for item %s: %w", item.ID, err)
		}
	}

	until := now.Add(lease)
	_, err = tx.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'processing', locked_by = $1, locked_until = $2
		WHERE id = $3
	`, workerID, until, item.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to lease item %s: %w", item.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim: %w", err)
	}

	item.Status = models.WorkStatusProcessing
	item.LockedBy = workerID
	item.LockedUntil = &until
	q.metrics.ItemsClaimed.WithLabelValues(subLoop).Inc()
	return item, nil
}

// Complete implements Queue.
func (q *PostgresQueue) Complete(ctx context.Context, id string, result map[string]any) error {
	var resultJSON any
	if len(result) > 0 {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal result: %w", err)
		}
		resultJSON = string(data)
	}

	res, err := q.db.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'completed', result_json = $1, completed_at = NOW(),
		    locked_by = NULL, locked_until = NULL
		WHERE id = $2 AND status = 'processing'
	`, resultJSON, id)
	if err != nil {
		return fmt.Errorf("failed to complete item %s: %w", id, err)
	}
	return q.requireRow(res, id)
}

// Fail implements Queue.
func (q *PostgresQueue) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin fail transaction: %w", err)
	}
	defer tx.Rollback()

	var subLoop string
	var attempts, maxAttempts int
	var tenantID, handler string
	var paramsJSON sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT sub_loop, attempts, max_attempts, tenant_id, handler, params_json
		FROM aegis_work_queue
		WHERE id = $1 AND status = 'processing'
		FOR UPDATE
	`, id).Scan(&subLoop, &attempts, &maxAttempts, &tenantID, &handler, &paramsJSON)
	if err == sql.ErrNoRows {
		return false, ErrNotProcessing
	}
	if err != nil {
		return false, fmt.Errorf("failed to select failing item %s: %w", id, err)
	}

	attempts++
	terminal := attempts >= maxAttempts

	if terminal {
		_, err = tx.ExecContext(ctx, `
			UPDATE aegis_work_queue
			SET status = 'failed', attempts = $1, last_error = $2, completed_at = NOW(),
			    locked_by = NULL, locked_until = NULL
			WHERE id = $3
		`, attempts, errMsg, id)
		if err != nil {
			return false, fmt.Errorf("failed to mark item %s failed: %w", id, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO aegis_dead_letters
				(id, work_item_id, tenant_id, sub_loop, handler, params_json, attempts, last_error)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), id, tenantID, subLoop, handler, paramsJSON, attempts, errMsg)
		if err != nil {
			return false, fmt.Errorf("failed to dead-letter item %s: %w", id, err)
		}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE aegis_work_queue
			SET status = 'queued', attempts = $1, last_error = $2,
			    locked_by = NULL, locked_until = NULL
			WHERE id = $3
		`, attempts, errMsg, id)
		if err != nil {
			return false, fmt.Errorf("failed to re-queue item %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit fail: %w", err)
	}
	q.metrics.ItemsFailed.WithLabelValues(subLoop, fmt.Sprintf("%t", terminal)).Inc()
	return terminal, nil
}

// Discard implements Queue.
func (q *PostgresQueue) Discard(ctx context.Context, id, errMsg string) error {
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin discard transaction: %w", err)
	}
	defer tx.Rollback()

	var subLoop, tenantID, handler string
	var attempts int
	var paramsJSON sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT sub_loop, attempts, tenant_id, handler, params_json
		FROM aegis_work_queue
		WHERE id = $1 AND status = 'processing'
		FOR UPDATE
	`, id).Scan(&subLoop, &attempts, &tenantID, &handler, &paramsJSON)
	if err == sql.ErrNoRows {
		return ErrNotProcessing
	}
	if err != nil {
		return fmt.Errorf("failed to select discarded item %s: %w", id, err)
	}

	attempts++
	_, err = tx.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'failed', attempts = $1, last_error = $2, completed_at = NOW(),
		    locked_by = NULL, locked_until = NULL
		WHERE id = $3
	`, attempts, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark item %s failed: %w", id, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO aegis_dead_letters
			(id, work_item_id, tenant_id, sub_loop, handler, params_json, attempts, last_error)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, uuid.New().String(), id, tenantID, subLoop, handler, paramsJSON, attempts, errMsg)
	if err != nil {
		return fmt.Errorf("failed to dead-letter item %s: %w", id, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit discard: %w", err)
	}
	q.metrics.ItemsFailed.WithLabelValues(subLoop, "true").Inc()
	return nil
}

// Defer implements Queue.
func (q *PostgresQueue) Defer(ctx context.Context, id string, until time.Time) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'queued', scheduled_for = $1, locked_by = NULL, locked_until = NULL
		WHERE id = $2 AND status = 'processing'
	`, until, id)
	if err != nil {
		return fmt.Errorf("failed to defer item %s: %w", id, err)
	}
	return q.requireRow(res, id)
}

// ReclaimExpired implements Queue.
func (q *PostgresQueue) ReclaimExpired(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'queued', attempts = attempts + 1, locked_by = NULL, locked_until = NULL
		WHERE status = 'processing' AND locked_until < NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim expired leases: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		q.metrics.LeasesReclaimed.Add(float64(n))
	}
	return int(n), nil
}

// Sweep implements Queue.
func (q *PostgresQueue) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	horizon := time.Now().Add(-retention)

	expired, err := q.db.ExecContext(ctx, `
		UPDATE aegis_work_queue
		SET status = 'expired', completed_at = NOW()
		WHERE status = 'queued' AND created_at < $1
	`, horizon)
	if err != nil {
		return 0, fmt.Errorf("failed to expire stale items: %w", err)
	}
	ne, _ := expired.RowsAffected()

	pruned, err := q.db.ExecContext(ctx, `
		DELETE FROM aegis_work_queue
		WHERE status IN ('completed', 'failed', 'expired') AND completed_at < $1
	`, horizon)
	if err != nil {
		return int(ne), fmt.Errorf("failed to prune terminal items: %w", err)
	}
	np, _ := pruned.RowsAffected()
	return int(ne + np), nil
}

// Depth implements Queue.
func (q *PostgresQueue) Depth(ctx context.Context) (map[models.SubLoop]int, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT sub_loop, COUNT(*) FROM aegis_work_queue
		WHERE status = 'queued'
		GROUP BY sub_loop
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query queue depth: %w", err)
	}
	defer rows.Close()

	depth := make(map[models.SubLoop]int)
	for rows.Next() {
		var subLoop string
		var count int
		if err := rows.Scan(&subLoop, &count); err != nil {
			return nil, fmt.Errorf("failed to scan queue depth: %w", err)
		}
		depth[models.SubLoop(subLoop)] = count
	}
	return depth, rows.Err()
}

func (q *PostgresQueue) requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotProcessing
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
