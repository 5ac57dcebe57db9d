package monitor

import (
	"context"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// Store is the read side the database-backed collectors depend on.
// Implemented by *database.Database.
type Store interface {
	GetTaskStats(ctx context.Context, tenantID string) (*models.TaskStats, error)
	GetSleepStats(ctx context.Context, tenantID string) (*models.SleepStats, error)
	GetActivityStats(ctx context.Context, tenantID string) (*models.ActivityStats, error)
	GetMoodStats(ctx context.Context, tenantID string) (*models.MoodStats, error)
	GetCalendarStats(ctx context.Context, tenantID string) (*models.CalendarStats, error)
	GetGoalStats(ctx context.Context, tenantID string) (*models.GoalStats, error)
	GetIntegrationStats(ctx context.Context, tenantID string) (*models.IntegrationStats, error)
	GetSystemStats(ctx context.Context, tenantID string) (*models.SystemStats, error)
}

// DefaultCollectors returns the full collector set backed by the store.
func DefaultCollectors(store Store) []Collector {
	return []Collector{
		&taskCollector{store},
		&sleepCollector{store},
		&activityCollector{store},
		&moodCollector{store},
		&calendarCollector{store},
		&goalCollector{store},
		&integrationCollector{store},
		&systemCollector{store},
	}
}

type taskCollector struct{ store Store }

func (c *taskCollector) Name() string { return "tasks" }

func (c *taskCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetTaskStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Tasks = stats
	return nil
}

type sleepCollector struct{ store Store }

func (c *sleepCollector) Name() string { return "sleep" }

func (c *sleepCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetSleepStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Sleep = stats
	return nil
}

type activityCollector struct{ store Store }

func (c *activityCollector) Name() string { return "activity" }

func (c *activityCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetActivityStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Activity = stats
	return nil
}

type moodCollector struct{ store Store }

func (c *moodCollector) Name() string { return "mood" }

func (c *moodCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetMoodStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Mood = stats
	return nil
}

type calendarCollector struct{ store Store }

func (c *calendarCollector) Name() string { return "calendar" }

func (c *calendarCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetCalendarStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Calendar = stats
	return nil
}

type goalCollector struct{ store Store }

func (c *goalCollector) Name() string { return "goals" }

func (c *goalCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetGoalStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Goals = stats
	return nil
}

type integrationCollector struct{ store Store }

func (c *integrationCollector) Name() string { return "integrations" }

func (c *integrationCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetIntegrationStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.Integrations = stats
	return nil
}

type systemCollector struct{ store Store }

func (c *systemCollector) Name() string { return "system" }

func (c *systemCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	stats, err := c.store.GetSystemStats(ctx, tenantID)
	if err != nil {
		return err
	}
	snap.System = stats
	return nil
}
