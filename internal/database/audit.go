package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// InsertConsensusAudit persists one gate decision with its full vote set.
func (d *Database) InsertConsensusAudit(ctx context.Context, tenantID, actionType, domain, description string, result *models.ConsensusResult) error {
	votesJSON, err := json.Marshal(result.Votes)
	if err != nil {
		return fmt.Errorf("failed to marshal votes: %w", err)
	}

	_, err = d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_consensus_audit
			(id, tenant_id, action_type, domain, description, decision,
			 agreement_count, total_validators, supermajority, votes_json, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), uuid.New().String(), tenantID, actionType, nullIfEmpty(domain), description,
		string(result.Decision), result.AgreementCount, result.TotalValidators,
		result.SupermajorityReached, string(votesJSON), result.Latency.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to insert consensus audit: %w", err)
	}
	return nil
}

// BeginActionAttempt claims the idempotency key for one action attempt.
// It returns false when the key was already claimed, meaning the side
// effect ran before a crash and must not run again.
func (d *Database) BeginActionAttempt(ctx context.Context, attemptKey, workItemID, action string) (bool, error) {
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_action_attempts (attempt_key, work_item_id, action)
		VALUES (?, ?, ?)
	`), attemptKey, workItemID, action)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return false, nil
		}
		return false, fmt.Errorf("failed to begin action attempt: %w", err)
	}
	return true, nil
}

// FinishActionAttempt records the effector result against the attempt key.
func (d *Database) FinishActionAttempt(ctx context.Context, attemptKey string, result map[string]any) error {
	var resultJSON any
	if len(result) > 0 {
		data, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("failed to marshal attempt result: %w", err)
		}
		resultJSON = string(data)
	}
	_, err := d.db.ExecContext(ctx, rebind(`
		UPDATE aegis_action_attempts SET result_json = ? WHERE attempt_key = ?
	`), resultJSON, attemptKey)
	if err != nil {
		return fmt.Errorf("failed to finish action attempt: %w", err)
	}
	return nil
}

// GetActionAttemptResult returns the stored result for a previously
// completed attempt, or sql.ErrNoRows when the key is unknown.
func (d *Database) GetActionAttemptResult(ctx context.Context, attemptKey string) (map[string]any, error) {
	var resultJSON sql.NullString
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT result_json FROM aegis_action_attempts WHERE attempt_key = ?
	`), attemptKey).Scan(&resultJSON)
	if err != nil {
		return nil, err
	}
	if !resultJSON.Valid || resultJSON.String == "" {
		return nil, nil
	}
	var result map[string]any
	if err := json.Unmarshal([]byte(resultJSON.String), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal attempt result: %w", err)
	}
	return result, nil
}
