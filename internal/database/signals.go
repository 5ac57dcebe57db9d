package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// GetTaskStats counts the tenant's task load for the monitor snapshot.
func (d *Database) GetTaskStats(ctx context.Context, tenantID string) (*models.TaskStats, error) {
	stats := &models.TaskStats{}
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE status = 'open' AND due_at IS NOT NULL AND due_at >= NOW()),
			COUNT(*) FILTER (WHERE status = 'open' AND due_at IS NOT NULL AND due_at < NOW())
		FROM aegis_tasks WHERE tenant_id = ?
	`), tenantID).Scan(&stats.Created24h, &stats.Due, &stats.Overdue)
	if err != nil {
		return nil, fmt.Errorf("failed to get task stats: %w", err)
	}
	return stats, nil
}

// GetSleepStats returns nightly hours for the trailing 7 days, oldest first.
func (d *Database) GetSleepStats(ctx context.Context, tenantID string) (*models.SleepStats, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT hours FROM aegis_sleep_log
		WHERE tenant_id = ? AND night >= CURRENT_DATE - 7
		ORDER BY night
	`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get sleep stats: %w", err)
	}
	defer rows.Close()

	stats := &models.SleepStats{}
	for rows.Next() {
		var h float64
		if err := rows.Scan(&h); err != nil {
			return nil, fmt.Errorf("failed to scan sleep hours: %w", err)
		}
		stats.HoursLast7d = append(stats.HoursLast7d, h)
	}
	return stats, rows.Err()
}

// GetActivityStats returns daily active minutes for the trailing 7 days.
func (d *Database) GetActivityStats(ctx context.Context, tenantID string) (*models.ActivityStats, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT active_minutes FROM aegis_activity_log
		WHERE tenant_id = ? AND day >= CURRENT_DATE - 7
		ORDER BY day
	`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity stats: %w", err)
	}
	defer rows.Close()

	stats := &models.ActivityStats{}
	for rows.Next() {
		var m float64
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan activity minutes: %w", err)
		}
		stats.MinutesLast7d = append(stats.MinutesLast7d, m)
	}
	return stats, rows.Err()
}

// GetMoodStats summarizes recent mood entries.
func (d *Database) GetMoodStats(ctx context.Context, tenantID string) (*models.MoodStats, error) {
	stats := &models.MoodStats{}
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT
			COALESCE((SELECT mood FROM aegis_mood_log WHERE tenant_id = ? ORDER BY created_at DESC LIMIT 1), ''),
			COALESCE((SELECT energy_level FROM aegis_mood_log WHERE tenant_id = ? ORDER BY created_at DESC LIMIT 1), 5),
			COUNT(*) FILTER (WHERE created_at >= NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE negative AND created_at >= NOW() - INTERVAL '24 hours'),
			COUNT(*) FILTER (WHERE interaction AND created_at >= NOW() - INTERVAL '3 days')
		FROM aegis_mood_log WHERE tenant_id = ?
	`), tenantID, tenantID, tenantID).Scan(&stats.CurrentMood, &stats.EnergyLevel,
		&stats.Entries24h, &stats.Negative24h, &stats.Interactions3d)
	if err != nil {
		return nil, fmt.Errorf("failed to get mood stats: %w", err)
	}
	return stats, nil
}

// GetCalendarStats summarizes the upcoming 24 hours.
func (d *Database) GetCalendarStats(ctx context.Context, tenantID string) (*models.CalendarStats, error) {
	stats := &models.CalendarStats{NextMeetingMinutes: -1}
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*),
		       COALESCE(MIN(EXTRACT(EPOCH FROM (starts_at - NOW())) / 60)::INT, -1)
		FROM aegis_calendar_events
		WHERE tenant_id = ? AND starts_at BETWEEN NOW() AND NOW() + INTERVAL '24 hours'
	`), tenantID).Scan(&stats.Events24h, &stats.NextMeetingMinutes)
	if err != nil {
		return nil, fmt.Errorf("failed to get calendar stats: %w", err)
	}
	return stats, nil
}

// GetGoalStats returns the tenant's tracked goals and trajectories.
func (d *Database) GetGoalStats(ctx context.Context, tenantID string) (*models.GoalStats, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT name, COALESCE(category, ''), trajectory
		FROM aegis_goals WHERE tenant_id = ?
	`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get goal stats: %w", err)
	}
	defer rows.Close()

	stats := &models.GoalStats{}
	for rows.Next() {
		var g models.GoalStatus
		var trajectory string
		if err := rows.Scan(&g.Name, &g.Category, &trajectory); err != nil {
			return nil, fmt.Errorf("failed to scan goal: %w", err)
		}
		g.Trajectory = models.GoalTrajectory(trajectory)
		stats.Goals = append(stats.Goals, g)
	}
	return stats, rows.Err()
}

// GetIntegrationStats reports connected integrations and last sync times.
func (d *Database) GetIntegrationStats(ctx context.Context, tenantID string) (*models.IntegrationStats, error) {
	rows, err := d.db.QueryContext(ctx, rebind(`
		SELECT provider, last_sync FROM aegis_integrations
		WHERE tenant_id = ? AND connected = TRUE
	`), tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to get integration stats: %w", err)
	}
	defer rows.Close()

	stats := &models.IntegrationStats{LastSync: make(map[string]time.Time)}
	for rows.Next() {
		var provider string
		var lastSync *time.Time
		if err := rows.Scan(&provider, &lastSync); err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		stats.Connected = append(stats.Connected, provider)
		if lastSync != nil {
			stats.LastSync[provider] = *lastSync
		}
	}
	return stats, rows.Err()
}

// GetSystemStats summarizes the agent's own recent behavior from the
// intervention log and work queue.
func (d *Database) GetSystemStats(ctx context.Context, tenantID string) (*models.SystemStats, error) {
	stats := &models.SystemStats{}

	var successes int
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE success)
		FROM aegis_intervention_log
		WHERE tenant_id = ? AND created_at >= NOW() - INTERVAL '24 hours'
	`), tenantID).Scan(&stats.Executions24h, &successes)
	if err != nil {
		return nil, fmt.Errorf("failed to get execution stats: %w", err)
	}
	if stats.Executions24h > 0 {
		stats.SuccessRate = float64(successes) / float64(stats.Executions24h)
	}

	var approved int
	err = d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*) FILTER (WHERE decision = 'permitted')
		FROM aegis_intervention_log
		WHERE tenant_id = ? AND created_at >= NOW() - INTERVAL '24 hours'
	`), tenantID).Scan(&approved)
	if err != nil {
		return nil, fmt.Errorf("failed to get approval stats: %w", err)
	}
	if stats.Executions24h > 0 {
		stats.ApprovalRate = float64(approved) / float64(stats.Executions24h)
	}

	var handled, failed int
	err = d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*), COUNT(*) FILTER (WHERE status = 'failed')
		FROM aegis_work_queue
		WHERE tenant_id = ? AND completed_at >= NOW() - INTERVAL '24 hours'
	`), tenantID).Scan(&handled, &failed)
	if err != nil {
		return nil, fmt.Errorf("failed to get handler stats: %w", err)
	}
	if handled > 0 {
		stats.HandlerErrorRate = float64(failed) / float64(handled)
	}

	err = d.db.QueryRowContext(ctx, rebind(`
		SELECT COUNT(*) FROM aegis_work_queue
		WHERE tenant_id = ? AND status = 'queued'
	`), tenantID).Scan(&stats.QueueDepth)
	if err != nil {
		return nil, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return stats, nil
}

// InsertTask creates a task on behalf of the task effector.
func (d *Database) InsertTask(ctx context.Context, tenantID, title string, dueAt *time.Time) (string, error) {
	id := uuid.New().String()
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_tasks (id, tenant_id, title, due_at) VALUES (?, ?, ?, ?)
	`), id, tenantID, title, dueAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert task: %w", err)
	}
	return id, nil
}

// InsertCalendarEvent creates an event on behalf of the calendar effector.
func (d *Database) InsertCalendarEvent(ctx context.Context, tenantID, title string, startsAt time.Time, endsAt *time.Time) (string, error) {
	id := uuid.New().String()
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_calendar_events (id, tenant_id, title, starts_at, ends_at) VALUES (?, ?, ?, ?, ?)
	`), id, tenantID, title, startsAt, endsAt)
	if err != nil {
		return "", fmt.Errorf("failed to insert calendar event: %w", err)
	}
	return id, nil
}

// RecordUserResponse notes that the tenant has been heard from. Fed by
// the message bus subscription on inbound response events; silence-gated
// escalation steps check against these rows.
func (d *Database) RecordUserResponse(ctx context.Context, tenantID string) error {
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_user_responses (id, tenant_id) VALUES (?, ?)
	`), uuid.New().String(), tenantID)
	if err != nil {
		return fmt.Errorf("failed to record user response: %w", err)
	}
	return nil
}

// HasRespondedSince reports whether the tenant responded after since.
func (d *Database) HasRespondedSince(ctx context.Context, tenantID string, since time.Time) (bool, error) {
	var responded bool
	err := d.db.QueryRowContext(ctx, rebind(`
		SELECT EXISTS (
			SELECT 1 FROM aegis_user_responses
			WHERE tenant_id = ? AND responded_at >= ?
		)
	`), tenantID, since).Scan(&responded)
	if err != nil {
		return false, fmt.Errorf("failed to check user responses: %w", err)
	}
	return responded, nil
}

// InsertMoodEntry logs a mood entry on behalf of the health-log effector.
func (d *Database) InsertMoodEntry(ctx context.Context, tenantID, mood string, energyLevel int, negative bool) (string, error) {
	id := uuid.New().String()
	_, err := d.db.ExecContext(ctx, rebind(`
		INSERT INTO aegis_mood_log (id, tenant_id, mood, energy_level, negative) VALUES (?, ?, ?, ?, ?)
	`), id, tenantID, mood, energyLevel, negative)
	if err != nil {
		return "", fmt.Errorf("failed to insert mood entry: %w", err)
	}
	return id, nil
}
