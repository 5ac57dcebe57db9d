package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// InsertRating stores a user satisfaction rating.
func (d *Database) InsertRating(ctx context.Context, r models.Rating) error {
	id := r.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_ratings (id, tenant_id, intervention_type, score, comment)
		VALUES (?, ?, ?, ?, ?)
	`), id, r.TenantID, string(r.InterventionType), r.Score, r.Comment)
	if err != nil {
		return fmt.Errorf("failed to insert rating: %w", err)
	}
	return nil
}

// ListRatings returns the tenant's ratings within the trailing window,
// newest first.
func (d *Database) ListRatings(ctx context.Context, tenantID string, window time.Duration) ([]models.Rating, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT id, tenant_id, intervention_type, score, COALESCE(comment, ''), created_at
		FROM aegis_ratings
		WHERE tenant_id = ? AND created_at >= ?
		ORDER BY created_at DESC
	`), tenantID, time.Now().Add(-window))
	if err != nil {
		return nil, fmt.Errorf("failed to list ratings: %w", err)
	}
	defer rows.Close()

	var ratings []models.Rating
	for rows.Next() {
		var r models.Rating
		var itype string
		if err := rows.Scan(&r.ID, &r.TenantID, &itype, &r.Score, &r.Comment, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan rating: %w", err)
		}
		r.InterventionType = models.InterventionType(itype)
		ratings = append(ratings, r)
	}
	return ratings, rows.Err()
}

// GetBehaviorParams returns the tenant's current parameter set, inserting
// defaults on first access.
func (d *Database) GetBehaviorParams(ctx context.Context, tenantID string) (models.BehaviorParams, error) {
	var p models.BehaviorParams
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT tenant_id, proactivity, formality, directness, approach_level, updated_at
		FROM aegis_behavior_params WHERE tenant_id = ?
	`), tenantID).Scan(&p.TenantID, &p.Proactivity, &p.Formality, &p.Directness, &p.ApproachLevel, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		p = models.DefaultBehaviorParams(tenantID)
		p.UpdatedAt = time.Now()
		_, err = d.db.ExecContext(ctx, rebind(`
			INSERT INTO aegis_behavior_params (tenant_id, proactivity, formality, directness, approach_level)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (tenant_id) DO NOTHING
		`), p.TenantID, p.Proactivity, p.Formality, p.Directness, p.ApproachLevel)
		if err != nil {
			return p, fmt.Errorf("failed to insert default params: %w", err)
		}
		return p, nil
	}
	if err != nil {
		return p, fmt.Errorf("failed to get behavior params: %w", err)
	}
	return p, nil
}

// ApplyAdjustment writes the new parameter set and its immutable audit
// record in one transaction.
func (d *Database) ApplyAdjustment(ctx context.Context, change models.ParamChange) error {
	beforeJSON, err := json.Marshal(change.Before)
	if err != nil {
		return fmt.Errorf("failed to marshal before params: %w", err)
	}
	afterJSON, err := json.Marshal(change.After)
	if err != nil {
		return fmt.Errorf("failed to marshal after params: %w", err)
	}
	var evidenceJSON []byte
	if len(change.Evidence) > 0 {
		if evidenceJSON, err = json.Marshal(change.Evidence); err != nil {
			return fmt.Errorf("failed to marshal evidence: %w", err)
		}
	}

	id := change.ID
	if id == "" {
		id = uuid.New().String()
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, rebind(`
		UPDATE aegis_behavior_params
		SET proactivity = ?, formality = ?, directness = ?, approach_level = ?, updated_at = NOW()
		WHERE tenant_id = ?
	`), change.After.Proactivity, change.After.Formality, change.After.Directness,
		change.After.ApproachLevel, change.TenantID)
	if err != nil {
		return fmt.Errorf("failed to update behavior params: %w", err)
	}

	_, err = tx.ExecContext(ctx, rebind(`
		INSERT INTO aegis_param_changes (id, tenant_id, rule, before_json, after_json, evidence_json)
		VALUES (?, ?, ?, ?, ?, ?)
	`), id, change.TenantID, change.Rule, string(beforeJSON), string(afterJSON), nullIfEmpty(string(evidenceJSON)))
	if err != nil {
		return fmt.Errorf("failed to insert param change: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit adjustment: %w", err)
	}
	return nil
}

// ListParamChanges returns the tenant's adjustment audit records, newest first.
func (d *Database) ListParamChanges(ctx context.Context, tenantID string, limit int) ([]models.ParamChange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT id, tenant_id, rule, before_json, after_json, COALESCE(evidence_json, ''), created_at
		FROM aegis_param_changes
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT ?
	`), tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list param changes: %w", err)
	}
	defer rows.Close()

	var changes []models.ParamChange
	for rows.Next() {
		var c models.ParamChange
		var beforeJSON, afterJSON, evidenceJSON string
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Rule, &beforeJSON, &afterJSON, &evidenceJSON, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan param change: %w", err)
		}
		if err := json.Unmarshal([]byte(beforeJSON), &c.Before); err != nil {
			return nil, fmt.Errorf("failed to unmarshal before params: %w", err)
		}
		if err := json.Unmarshal([]byte(afterJSON), &c.After); err != nil {
			return nil, fmt.Errorf("failed to unmarshal after params: %w", err)
		}
		if evidenceJSON != "" {
			_ = json.Unmarshal([]byte(evidenceJSON), &c.Evidence)
		}
		changes = append(changes, c)
	}
	return changes, rows.Err()
}

// OutcomeStats summarizes intervention executions over the trailing window.
type OutcomeStats struct {
	Attempts  int
	Successes int
	ByType    map[models.InterventionType]TypeOutcome
}

// TypeOutcome is the per-intervention-type slice of OutcomeStats.
type TypeOutcome struct {
	Attempts  int
	Successes int
}

// SuccessRate returns successes/attempts, or 0 for an empty window.
func (s OutcomeStats) SuccessRate() float64 {
	if s.Attempts == 0 {
		return 0
	}
	return float64(s.Successes) / float64(s.Attempts)
}

// GetOutcomeStats aggregates the intervention log for the feedback
// controller's trailing window.
func (d *Database) GetOutcomeStats(ctx context.Context, tenantID string, window time.Duration) (OutcomeStats, error) {
	stats := OutcomeStats{ByType: make(map[models.InterventionType]TypeOutcome)}
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT intervention_type, success, COUNT(*)
		FROM aegis_intervention_log
		WHERE tenant_id = ? AND created_at >= ?
		GROUP BY intervention_type, success
	`), tenantID, time.Now().Add(-window))
	if err != nil {
		return stats, fmt.Errorf("failed to get outcome stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var itype string
		var success bool
		var count int
		if err := rows.Scan(&itype, &success, &count); err != nil {
			return stats, fmt.Errorf("failed to scan outcome stats: %w", err)
		}
		t := stats.ByType[models.InterventionType(itype)]
		t.Attempts += count
		stats.Attempts += count
		if success {
			t.Successes += count
			stats.Successes += count
		}
		stats.ByType[models.InterventionType(itype)] = t
	}
	return stats, rows.Err()
}

// RecordInterventionOutcome appends one execution result to the log the
// feedback controller reads.
func (d *Database) RecordInterventionOutcome(ctx context.Context, tenantID string, itype models.InterventionType, action string, success bool, decision models.Decision) error {
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_intervention_log (id, tenant_id, intervention_type, action, success, decision)
		VALUES (?, ?, ?, ?, ?, ?)
	`), uuid.New().String(), tenantID, string(itype), action, success, string(decision))
	if err != nil {
		return fmt.Errorf("failed to record intervention outcome: %w", err)
	}
	return nil
}
