package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// ListGrants returns the tenant's active grants with today's use counts.
func (d *Database) ListGrants(ctx context.Context, tenantID string) ([]models.PermissionGrant, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT g.id, g.tenant_id, g.action_pattern, COALESCE(g.domain, ''),
		       g.granted, g.requires_confirmation, g.expires_at, g.daily_limit,
		       g.active, g.created_at,
		       (SELECT COUNT(*) FROM aegis_grant_uses u
		        WHERE u.grant_id = g.id AND u.used_at >= date_trunc('day', NOW()))
		FROM aegis_permission_grants g
		WHERE g.tenant_id = ? AND g.active = TRUE
		ORDER BY g.action_pattern
	`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list grants: %w", err)
	}
	defer rows.Close()

	var grants []models.PermissionGrant
	for rows.Next() {
		var g models.PermissionGrant
		if err := rows.Scan(&g.ID, &g.TenantID, &g.ActionPattern, &g.Domain,
			&g.Granted, &g.RequiresConfirmation, &g.ExpiresAt, &g.DailyLimit,
			&g.Active, &g.CreatedAt, &g.UsedToday); err != nil {
			return nil, fmt.Errorf("failed to scan grant: %w", err)
		}
		grants = append(grants, g)
	}
	return grants, rows.Err()
}

// SeedGrants inserts the default grant set for a tenant, guarded by an
// advisory lock so concurrent workers cannot seed twice. The insert is
// re-checked under the lock; a tenant that already has grants is left
// untouched.
func (d *Database) SeedGrants(ctx context.Context, tenantID string, grants []models.PermissionGrant) error {
	return d.WithAdvisoryLock(ctx, "grant-seed:"+tenantID, func(tx *sql.Tx) error {
		var count int
		if err := tx.QueryRowContext(ctx, rebind(`
			SELECT COUNT(*) FROM aegis_permission_grants WHERE tenant_id = ?
		`), tenantID).Scan(&count); err != nil {
			return fmt.Errorf("failed to count grants: %w", err)
		}
		if count > 0 {
			return nil
		}

		for _, g := range grants {
			id := g.ID
			if id == "" {
				id = uuid.New().String()
			}
			_, err := tx.ExecContext(ctx, rebind(`
				INSERT INTO aegis_permission_grants
					(id, tenant_id, action_pattern, domain, granted, requires_confirmation, expires_at, daily_limit, active)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE)
				ON CONFLICT (tenant_id, action_pattern) DO NOTHING
			`), id, tenantID, g.ActionPattern, nullIfEmpty(g.Domain), g.Granted,
				g.RequiresConfirmation, g.ExpiresAt, g.DailyLimit)
			if err != nil {
				return fmt.Errorf("failed to seed grant %s: %w", g.ActionPattern, err)
			}
		}
		return nil
	})
}

// RecordGrantUse appends a use record, feeding the daily-limit check.
func (d *Database) RecordGrantUse(ctx context.Context, grantID string) error {
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_grant_uses (grant_id) VALUES (?)
	`), grantID)
	if err != nil {
		return fmt.Errorf("failed to record grant use: %w", err)
	}
	return nil
}

// UpsertGrant creates or replaces a grant for explicit user choices and
// feedback-controller mutations.
func (d *Database) UpsertGrant(ctx context.Context, g models.PermissionGrant) error {
	id := g.ID
	if id == "" {
		id = uuid.New().String()
	}
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_permission_grants
			(id, tenant_id, action_pattern, domain, granted, requires_confirmation, expires_at, daily_limit, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, TRUE)
		ON CONFLICT (tenant_id, action_pattern) DO UPDATE SET
			granted = EXCLUDED.granted,
			requires_confirmation = EXCLUDED.requires_confirmation,
			expires_at = EXCLUDED.expires_at,
			daily_limit = EXCLUDED.daily_limit,
			active = TRUE
	`), id, g.TenantID, g.ActionPattern, nullIfEmpty(g.Domain), g.Granted,
		g.RequiresConfirmation, g.ExpiresAt, g.DailyLimit)
	if err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

// RevokeGrant deactivates a grant without deleting its history.
func (d *Database) RevokeGrant(ctx context.Context, tenantID, actionPattern string) error {
	_, err := d.db.ExecContext(ctx, rebind(`
		UPDATE aegis_permission_grants SET active = FALSE
		WHERE tenant_id = ? AND action_pattern = ?
	`), tenantID, actionPattern)
	if err != nil {
		return fmt.Errorf("failed to revoke grant: %w", err)
	}
	return nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
