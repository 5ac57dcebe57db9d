// Package plan maps analysis output to intervention candidates through a
// closed template table. The template's requires_approval flag is a hint;
// the permission model re-validates every action at execution time.
package plan

import (
	"fmt"
	"sort"

	"github.com/jordanhubbard/aegis/internal/analyze"
	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Skipped names an intervention dropped by the per-cycle cap.
type Skipped struct {
	Title  string
	Reason string
}

// Output is one cycle's plan: the interventions to emit and the ones the
// cap dropped, with reasons.
type Output struct {
	Interventions []models.Intervention
	Skipped       []Skipped
}

// Build turns issues, opportunities, and gaps into interventions, orders
// them by priority, and applies the per-cycle cap. The tenant's
// proactivity parameter widens or narrows the cap by one.
func Build(result analyze.Result, cap int, params models.BehaviorParams) Output {
	var candidates []models.Intervention

	for _, issue := range result.Issues {
		if iv, ok := forIssue(issue); ok {
			candidates = append(candidates, iv)
		}
	}
	for _, opp := range result.Opportunities {
		if iv, ok := forOpportunity(opp); ok {
			candidates = append(candidates, iv)
		}
	}
	for _, gap := range result.Gaps {
		candidates = append(candidates, forGap(gap))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority < candidates[j].Priority
	})

	effective := effectiveCap(cap, params.Proactivity)
	out := Output{}
	m := metrics.Get()
	for i, iv := range candidates {
		if i >= effective {
			out.Skipped = append(out.Skipped, Skipped{
				Title:  iv.Title,
				Reason: fmt.Sprintf("per-cycle cap of %d reached", effective),
			})
			m.InterventionsSkipped.WithLabelValues("cycle_cap").Inc()
			continue
		}
		out.Interventions = append(out.Interventions, iv)
		m.InterventionsPlanned.WithLabelValues(string(iv.Type)).Inc()
	}
	return out
}

func effectiveCap(cap int, proactivity float64) int {
	switch {
	case proactivity >= 0.75:
		cap++
	case proactivity < 0.25:
		cap--
	}
	if cap < 1 {
		cap = 1
	}
	return cap
}

func issuePriority(severity models.Severity) models.Priority {
	switch severity {
	case models.SeverityHigh:
		return models.P1
	case models.SeverityMedium:
		return models.P2
	default:
		return models.P3
	}
}

// forIssue is the closed issue-type to template table.
func forIssue(issue models.Issue) (models.Intervention, bool) {
	priority := issuePriority(issue.Severity)

	switch issue.Type {
	case models.IssueSleepDebt:
		return models.Intervention{
			Type:        models.InterventionCheckin,
			Title:       "Sleep check-in",
			Description: issue.Description,
			Action:      models.ActionPayload{Action: "trigger_checkin", Domain: "health"},
			Priority:    priority,
			Reasoning:   "Sleep average dropped below the healthy threshold",
		}, true

	case models.IssueTaskOverload:
		return models.Intervention{
			Type:        models.InterventionNotification,
			Title:       "Overdue task pile-up",
			Description: issue.Description,
			Action: models.ActionPayload{
				Action: "send_notification",
				Domain: "productivity",
				Params: map[string]any{"message": issue.Description},
			},
			Priority:  priority,
			Reasoning: "Overdue count crossed the overload threshold",
		}, true

	case models.IssueMissedGoal:
		return models.Intervention{
			Type:        models.InterventionCheckin,
			Title:       "Goal check-in",
			Description: issue.Description,
			Action:      models.ActionPayload{Action: "trigger_checkin", Domain: "goals"},
			Priority:    priority,
			Reasoning:   "A tracked goal went off track",
		}, true

	case models.IssueHealthConcern:
		if issue.Severity == models.SeverityHigh {
			// Persistent negative signals warrant an outbound nudge, which
			// is resource-consuming and so marked for approval.
			return models.Intervention{
				Type:        models.InterventionEscalation,
				Title:       "Wellbeing escalation",
				Description: issue.Description,
				Action: models.ActionPayload{
					Action: "send_sms",
					Domain: "health",
					Params: map[string]any{"message": "Rough stretch detected. Want to talk through it?"},
				},
				Priority:         priority,
				RequiresApproval: true,
				Reasoning:        "Sustained negative signals crossed the severe threshold",
			}, true
		}
		return models.Intervention{
			Type:        models.InterventionNotification,
			Title:       "Wellbeing nudge",
			Description: issue.Description,
			Action: models.ActionPayload{
				Action: "send_notification",
				Domain: "health",
				Params: map[string]any{"message": issue.Description},
			},
			Priority:  priority,
			Reasoning: "Health signals drifted below baseline",
		}, true

	case models.IssueSocialIsolation:
		return models.Intervention{
			Type:        models.InterventionNotification,
			Title:       "Reach out to someone",
			Description: issue.Description,
			Action: models.ActionPayload{
				Action: "send_notification",
				Domain: "social",
				Params: map[string]any{"message": "It has been a few days. A quick message to a friend might help."},
			},
			Priority:  priority,
			Reasoning: "No interactions logged for several days",
		}, true

	case models.IssueProductivityDrop:
		return models.Intervention{
			Type:        models.InterventionTaskCreate,
			Title:       "Plan one small task",
			Description: issue.Description,
			Action: models.ActionPayload{
				Action: "create_task",
				Domain: "productivity",
				Params: map[string]any{"title": "Pick one small task to finish today"},
			},
			Priority:  priority,
			Reasoning: "Low output plus low energy responds best to one concrete step",
		}, true

	case models.IssueSystemDegraded:
		return models.Intervention{
			Type:        models.InterventionNotification,
			Title:       "Degraded capability notice",
			Description: issue.Description,
			Action: models.ActionPayload{
				Action: "send_notification",
				Domain: "system",
				Params: map[string]any{"message": "Some automations are failing repeatedly and have been throttled."},
			},
			Priority:  priority,
			Reasoning: "Repeated handler failures must surface rather than retry silently",
		}, true
	}

	return models.Intervention{}, false
}

func forOpportunity(opp models.Opportunity) (models.Intervention, bool) {
	switch opp.Type {
	case "goal_support":
		return models.Intervention{
			Type:        models.InterventionCheckin,
			Title:       "Goal nudge",
			Description: opp.Description,
			Action:      models.ActionPayload{Action: "trigger_checkin", Domain: "goals"},
			Priority:    models.P3,
			Reasoning:   "An at-risk goal can still be recovered with a small nudge",
		}, true
	}
	// tune_proactivity is owned by the feedback controller, not the planner.
	return models.Intervention{}, false
}

// forGap maps gaps to solving actions, not bare notifications.
func forGap(gap models.Gap) models.Intervention {
	if gap.SuggestedAction == "trigger_checkin" {
		return models.Intervention{
			Type:        models.InterventionCheckin,
			Title:       fmt.Sprintf("Set up %s tracking", gap.Area),
			Description: gap.Description,
			Action:      models.ActionPayload{Action: "trigger_checkin", Domain: gap.Area},
			Priority:    models.P4,
			Reasoning:   "Missing data narrows what the loop can see",
		}
	}
	return models.Intervention{
		Type:        models.InterventionTaskCreate,
		Title:       fmt.Sprintf("Close the %s gap", gap.Area),
		Description: gap.Description,
		Action: models.ActionPayload{
			Action: "create_task",
			Domain: gap.Area,
			Params: map[string]any{"title": fmt.Sprintf("Reconnect or configure %s", gap.Area)},
		},
		Priority:  models.P4,
		Reasoning: "A concrete setup task beats a reminder nobody acts on",
	}
}
