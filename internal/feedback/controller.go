// Package feedback periodically retunes behavior parameters from outcome
// and rating history. It is the sole writer of those parameters; running
// as a single scheduled job keeps writers from racing.
package feedback

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/internal/database"
	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Thresholds for the three review rules.
const (
	lowSuccessRate      = 0.40
	minAttemptsForRate  = 10
	lowSatisfaction     = 2.5
	highSatisfaction    = 4.0
	minRatings          = 5
	proactivityStep     = 0.05
	styleStep           = 0.1
	maxApproachLevel    = 3
)

// Store is the persistence the controller reads and writes. Implemented
// by *database.Database.
type Store interface {
	GetOutcomeStats(ctx context.Context, tenantID string, window time.Duration) (database.OutcomeStats, error)
	ListRatings(ctx context.Context, tenantID string, window time.Duration) ([]models.Rating, error)
	GetBehaviorParams(ctx context.Context, tenantID string) (models.BehaviorParams, error)
	ApplyAdjustment(ctx context.Context, change models.ParamChange) error
}

// Controller evaluates the threshold rules over a trailing window.
type Controller struct {
	store   Store
	window  time.Duration
	metrics *metrics.Metrics
}

// NewController creates a controller with the given trailing window.
func NewController(store Store, window time.Duration) *Controller {
	return &Controller{store: store, window: window, metrics: metrics.Get()}
}

// Review runs all three rules independently and applies every adjustment
// that fires, each with its own immutable audit record.
func (c *Controller) Review(ctx context.Context, tenantID string) ([]models.ParamChange, error) {
	stats, err := c.store.GetOutcomeStats(ctx, tenantID, c.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load outcome stats: %w", err)
	}
	ratings, err := c.store.ListRatings(ctx, tenantID, c.window)
	if err != nil {
		return nil, fmt.Errorf("failed to load ratings: %w", err)
	}
	params, err := c.store.GetBehaviorParams(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load behavior params: %w", err)
	}

	var changes []models.ParamChange
	for _, rule := range []func(models.BehaviorParams, database.OutcomeStats, []models.Rating) *models.ParamChange{
		c.approachEscalation,
		c.stylePivot,
		c.proactivityBoost,
	} {
		change := rule(params, stats, ratings)
		if change == nil {
			continue
		}
		change.ID = uuid.New().String()
		change.TenantID = tenantID
		if err := c.store.ApplyAdjustment(ctx, *change); err != nil {
			return changes, fmt.Errorf("failed to apply %s adjustment: %w", change.Rule, err)
		}
		c.metrics.FeedbackAdjustments.WithLabelValues(change.Rule).Inc()
		log.Printf("[Feedback] applied %s for tenant %s", change.Rule, tenantID)
		changes = append(changes, *change)
		params = change.After
	}
	return changes, nil
}

// approachEscalation fires on a low success rate over enough attempts and
// raises the approach level so future planning reaches for higher-effort
// judgment.
func (c *Controller) approachEscalation(params models.BehaviorParams, stats database.OutcomeStats, _ []models.Rating) *models.ParamChange {
	if stats.Attempts < minAttemptsForRate || stats.SuccessRate() >= lowSuccessRate {
		return nil
	}
	if params.ApproachLevel >= maxApproachLevel {
		return nil
	}

	after := params
	after.ApproachLevel++
	return &models.ParamChange{
		Rule:   "approach_escalation",
		Before: params,
		After:  after,
		Evidence: map[string]any{
			"attempts":     stats.Attempts,
			"successes":    stats.Successes,
			"success_rate": stats.SuccessRate(),
		},
	}
}

// stylePivot fires on low average satisfaction. It shifts the
// communication-style weights instead of just reducing activity, and
// records which intervention types were disliked vs liked.
func (c *Controller) stylePivot(params models.BehaviorParams, _ database.OutcomeStats, ratings []models.Rating) *models.ParamChange {
	avg, ok := averageScore(ratings)
	if !ok || avg >= lowSatisfaction {
		return nil
	}

	disliked, liked := splitByType(ratings)

	after := params
	after.Directness = pivot(params.Directness)
	after.Formality = pivot(params.Formality)
	return &models.ParamChange{
		Rule:   "style_pivot",
		Before: params,
		After:  after,
		Evidence: map[string]any{
			"avg_rating": avg,
			"ratings":    len(ratings),
			"disliked":   disliked,
			"liked":      liked,
		},
	}
}

// proactivityBoost fires on high average satisfaction and nudges the
// bounded proactivity weight upward.
func (c *Controller) proactivityBoost(params models.BehaviorParams, _ database.OutcomeStats, ratings []models.Rating) *models.ParamChange {
	avg, ok := averageScore(ratings)
	if !ok || avg < highSatisfaction {
		return nil
	}
	if params.Proactivity >= 1.0 {
		return nil
	}

	after := params
	after.Proactivity = clamp(params.Proactivity + proactivityStep)
	return &models.ParamChange{
		Rule:   "proactivity_boost",
		Before: params,
		After:  after,
		Evidence: map[string]any{
			"avg_rating": avg,
			"ratings":    len(ratings),
		},
	}
}

func averageScore(ratings []models.Rating) (float64, bool) {
	if len(ratings) < minRatings {
		return 0, false
	}
	var sum int
	for _, r := range ratings {
		sum += r.Score
	}
	return float64(sum) / float64(len(ratings)), true
}

// splitByType diagnoses which intervention types run below and above the
// satisfaction midpoint.
func splitByType(ratings []models.Rating) (disliked, liked []string) {
	sums := make(map[models.InterventionType]int)
	counts := make(map[models.InterventionType]int)
	for _, r := range ratings {
		sums[r.InterventionType] += r.Score
		counts[r.InterventionType]++
	}
	for t, count := range counts {
		avg := float64(sums[t]) / float64(count)
		if avg < 3.0 {
			disliked = append(disliked, string(t))
		} else {
			liked = append(liked, string(t))
		}
	}
	return disliked, liked
}

// pivot moves a style weight a step toward the opposite register.
func pivot(weight float64) float64 {
	if weight > 0.5 {
		return clamp(weight - styleStep)
	}
	return clamp(weight + styleStep)
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
