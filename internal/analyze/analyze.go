// Package analyze applies a fixed battery of rules to a monitor snapshot
// and derives typed issues, opportunities, and gaps. The output is
// ephemeral; it is recomputed every cycle and never stored on its own.
package analyze

import (
	"fmt"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Thresholds for the rule battery.
const (
	sleepDebtHours       = 6.0
	sleepDebtSevereHours = 5.0
	overloadTasks        = 5
	overloadSevereTasks  = 10
	lowActivityMinutes   = 30.0
	negativeMoodEntries  = 3
	severeNegativeMood   = 5
	lowEnergy            = 5
	degradedErrorRate    = 0.2
	lowApprovalRate      = 0.3
	minExecutionsForRate = 5
)

// Result is one cycle's analysis output.
type Result struct {
	Issues        []models.Issue
	Opportunities []models.Opportunity
	Gaps          []models.Gap
}

// Evaluate runs every rule against the snapshot. Sections left nil by a
// failed or absent collector produce gaps, never zero-valued issues.
func Evaluate(snap *models.Snapshot) Result {
	var r Result

	r.evalSleep(snap)
	r.evalTasks(snap)
	r.evalActivity(snap)
	r.evalMood(snap)
	r.evalGoals(snap)
	r.evalIntegrations(snap)
	r.evalSystem(snap)

	r.correlate()

	m := metrics.Get()
	for _, issue := range r.Issues {
		m.IssuesDetected.WithLabelValues(string(issue.Type), string(issue.Severity)).Inc()
	}
	return r
}

func sourceFailed(snap *models.Snapshot, name string) bool {
	status, ok := snap.Sources[name]
	return ok && !status.OK
}

func (r *Result) evalSleep(snap *models.Snapshot) {
	if snap.Sleep == nil {
		if sourceFailed(snap, "sleep") {
			r.Gaps = append(r.Gaps, models.Gap{
				Area:            "sleep",
				Description:     "Sleep data is unavailable; the sleep source failed this cycle",
				SuggestedAction: "create_task",
			})
		}
		return
	}
	if len(snap.Sleep.HoursLast7d) == 0 {
		r.Gaps = append(r.Gaps, models.Gap{
			Area:            "sleep",
			Description:     "No sleep entries recorded in the last 7 days",
			SuggestedAction: "trigger_checkin",
		})
		return
	}

	avg := snap.Sleep.Average()
	if avg >= sleepDebtHours {
		return
	}
	severity := models.SeverityMedium
	if avg < sleepDebtSevereHours {
		severity = models.SeverityHigh
	}
	r.Issues = append(r.Issues, models.Issue{
		Type:        models.IssueSleepDebt,
		Severity:    severity,
		Description: fmt.Sprintf("Average sleep over the last week is %.1f hours", avg),
		Evidence:    map[string]any{"avg_hours": avg, "nights": len(snap.Sleep.HoursLast7d)},
	})
}

func (r *Result) evalTasks(snap *models.Snapshot) {
	if snap.Tasks == nil {
		return
	}
	if snap.Tasks.Overdue > overloadTasks {
		severity := models.SeverityMedium
		if snap.Tasks.Overdue > overloadSevereTasks {
			severity = models.SeverityHigh
		}
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueTaskOverload,
			Severity:    severity,
			Description: fmt.Sprintf("%d tasks are overdue", snap.Tasks.Overdue),
			Evidence:    map[string]any{"overdue": snap.Tasks.Overdue, "due": snap.Tasks.Due},
		})
	}
}

func (r *Result) evalActivity(snap *models.Snapshot) {
	if snap.Activity == nil || len(snap.Activity.MinutesLast7d) == 0 {
		return
	}
	avg := snap.Activity.Average()
	if avg < lowActivityMinutes {
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueHealthConcern,
			Severity:    models.SeverityLow,
			Description: fmt.Sprintf("Daily activity averages %.0f minutes over the last week", avg),
			Evidence:    map[string]any{"avg_minutes": avg},
		})
	}
}

func (r *Result) evalMood(snap *models.Snapshot) {
	if snap.Mood == nil {
		return
	}
	if snap.Mood.Negative24h >= negativeMoodEntries {
		severity := models.SeverityMedium
		if snap.Mood.Negative24h >= severeNegativeMood {
			severity = models.SeverityHigh
		}
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueHealthConcern,
			Severity:    severity,
			Description: fmt.Sprintf("%d negative mood entries in the last 24 hours", snap.Mood.Negative24h),
			Evidence:    map[string]any{"negative_24h": snap.Mood.Negative24h, "mood": snap.Mood.CurrentMood},
		})
	}
	if snap.Mood.Entries24h > 0 && snap.Mood.Interactions3d == 0 {
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueSocialIsolation,
			Severity:    models.SeverityMedium,
			Description: "No social interactions logged in the last 3 days",
			Evidence:    map[string]any{"interactions_3d": 0},
		})
	}
	if snap.Tasks != nil && snap.Tasks.Created24h < 2 && snap.Mood.EnergyLevel < lowEnergy {
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueProductivityDrop,
			Severity:    models.SeverityLow,
			Description: "Low task creation combined with low energy",
			Evidence: map[string]any{
				"tasks_created_24h": snap.Tasks.Created24h,
				"energy_level":      snap.Mood.EnergyLevel,
			},
		})
	}
}

func (r *Result) evalGoals(snap *models.Snapshot) {
	if snap.Goals == nil {
		return
	}
	for _, g := range snap.Goals.Goals {
		switch g.Trajectory {
		case models.GoalOffTrack:
			r.Issues = append(r.Issues, models.Issue{
				Type:        models.IssueMissedGoal,
				Severity:    models.SeverityMedium,
				Description: fmt.Sprintf("Goal %q is off track", g.Name),
				Evidence:    map[string]any{"goal": g.Name, "category": g.Category},
			})
		case models.GoalAtRisk:
			r.Opportunities = append(r.Opportunities, models.Opportunity{
				Type:        "goal_support",
				Severity:    models.SeverityLow,
				Description: fmt.Sprintf("Goal %q is at risk and could use a nudge", g.Name),
				Evidence:    map[string]any{"goal": g.Name, "category": g.Category},
			})
		}
	}
}

func (r *Result) evalIntegrations(snap *models.Snapshot) {
	if snap.Integrations == nil {
		return
	}
	if len(snap.Integrations.Connected) == 0 {
		r.Gaps = append(r.Gaps, models.Gap{
			Area:            "integrations",
			Description:     "No external integrations are connected",
			SuggestedAction: "create_task",
		})
	}
}

func (r *Result) evalSystem(snap *models.Snapshot) {
	if snap.System == nil {
		return
	}
	if snap.System.HandlerErrorRate > degradedErrorRate {
		r.Issues = append(r.Issues, models.Issue{
			Type:        models.IssueSystemDegraded,
			Severity:    models.SeverityMedium,
			Description: fmt.Sprintf("Handler error rate is %.0f%% over the last day", snap.System.HandlerErrorRate*100),
			Evidence:    map[string]any{"error_rate": snap.System.HandlerErrorRate},
		})
	}
	if snap.System.Executions24h >= minExecutionsForRate && snap.System.ApprovalRate < lowApprovalRate {
		r.Opportunities = append(r.Opportunities, models.Opportunity{
			Type:        "tune_proactivity",
			Severity:    models.SeverityLow,
			Description: "Most recent interventions needed confirmation; the auto-run set could be reviewed",
			Evidence:    map[string]any{"approval_rate": snap.System.ApprovalRate},
		})
	}
}

// correlate raises the severity of a health-category missed goal when a
// sleep-debt issue occurs in the same cycle.
func (r *Result) correlate() {
	hasSleepDebt := false
	for _, issue := range r.Issues {
		if issue.Type == models.IssueSleepDebt {
			hasSleepDebt = true
			break
		}
	}
	if !hasSleepDebt {
		return
	}
	for i := range r.Issues {
		issue := &r.Issues[i]
		if issue.Type != models.IssueMissedGoal {
			continue
		}
		if category, _ := issue.Evidence["category"].(string); category == "health" {
			issue.Severity = raise(issue.Severity)
			issue.Evidence["correlated_with"] = string(models.IssueSleepDebt)
		}
	}
}

func raise(s models.Severity) models.Severity {
	switch s {
	case models.SeverityLow:
		return models.SeverityMedium
	default:
		return models.SeverityHigh
	}
}
