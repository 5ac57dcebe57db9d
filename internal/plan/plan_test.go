package plan

import (
	"testing"

	"github.com/jordanhubbard/aegis/internal/analyze"
	"github.com/jordanhubbard/aegis/pkg/models"
)

func defaultParams() models.BehaviorParams {
	return models.DefaultBehaviorParams("t1")
}

func TestIssueTemplates(t *testing.T) {
	result := analyze.Result{Issues: []models.Issue{
		{Type: models.IssueSleepDebt, Severity: models.SeverityMedium},
		{Type: models.IssueTaskOverload, Severity: models.SeverityMedium, Description: "7 tasks are overdue"},
	}}

	out := Build(result, 3, defaultParams())
	if len(out.Interventions) != 2 {
		t.Fatalf("planned %d interventions, want 2", len(out.Interventions))
	}

	byType := make(map[models.InterventionType]models.Intervention)
	for _, iv := range out.Interventions {
		byType[iv.Type] = iv
	}

	checkin, ok := byType[models.InterventionCheckin]
	if !ok {
		t.Fatal("sleep_debt did not map to a checkin")
	}
	if checkin.Action.Action != "trigger_checkin" || checkin.Action.Domain != "health" {
		t.Errorf("checkin action = %+v, want trigger_checkin:health", checkin.Action)
	}
	if checkin.RequiresApproval {
		t.Error("checkin marked requires_approval, want reversible low-cost default")
	}

	notif, ok := byType[models.InterventionNotification]
	if !ok {
		t.Fatal("task_overload did not map to a notification")
	}
	if notif.Action.Action != "send_notification" {
		t.Errorf("notification action = %s, want send_notification", notif.Action.Action)
	}
}

func TestSevereHealthConcernRequiresApproval(t *testing.T) {
	result := analyze.Result{Issues: []models.Issue{
		{Type: models.IssueHealthConcern, Severity: models.SeverityHigh},
	}}

	out := Build(result, 3, defaultParams())
	if len(out.Interventions) != 1 {
		t.Fatalf("planned %d interventions, want 1", len(out.Interventions))
	}
	iv := out.Interventions[0]
	if iv.Type != models.InterventionEscalation {
		t.Errorf("type = %s, want escalation", iv.Type)
	}
	if !iv.RequiresApproval {
		t.Error("outbound SMS escalation must be marked requires_approval")
	}
	if iv.Action.Action != "send_sms" {
		t.Errorf("action = %s, want send_sms", iv.Action.Action)
	}
}

func TestCycleCap(t *testing.T) {
	result := analyze.Result{Issues: []models.Issue{
		{Type: models.IssueSleepDebt, Severity: models.SeverityHigh},
		{Type: models.IssueTaskOverload, Severity: models.SeverityMedium},
		{Type: models.IssueSocialIsolation, Severity: models.SeverityMedium},
		{Type: models.IssueProductivityDrop, Severity: models.SeverityLow},
		{Type: models.IssueMissedGoal, Severity: models.SeverityLow},
	}}

	out := Build(result, 3, defaultParams())
	if len(out.Interventions) != 3 {
		t.Errorf("planned %d interventions, want cap of 3", len(out.Interventions))
	}
	if len(out.Skipped) != 2 {
		t.Fatalf("skipped %d interventions, want 2", len(out.Skipped))
	}
	for _, s := range out.Skipped {
		if s.Reason == "" {
			t.Error("skipped intervention has no reason")
		}
	}

	// Priority order: the high-severity issue survives the cap.
	if out.Interventions[0].Priority != models.P1 {
		t.Errorf("first planned priority = %d, want P1", out.Interventions[0].Priority)
	}
}

func TestProactivityWidensCap(t *testing.T) {
	result := analyze.Result{Issues: []models.Issue{
		{Type: models.IssueSleepDebt, Severity: models.SeverityMedium},
		{Type: models.IssueTaskOverload, Severity: models.SeverityMedium},
		{Type: models.IssueSocialIsolation, Severity: models.SeverityMedium},
		{Type: models.IssueProductivityDrop, Severity: models.SeverityLow},
	}}

	eager := defaultParams()
	eager.Proactivity = 0.8
	out := Build(result, 3, eager)
	if len(out.Interventions) != 4 {
		t.Errorf("high proactivity planned %d, want 4", len(out.Interventions))
	}

	shy := defaultParams()
	shy.Proactivity = 0.1
	out = Build(result, 3, shy)
	if len(out.Interventions) != 2 {
		t.Errorf("low proactivity planned %d, want 2", len(out.Interventions))
	}
}

func TestGapsBecomeSolvingActions(t *testing.T) {
	result := analyze.Result{Gaps: []models.Gap{
		{Area: "integrations", Description: "No external integrations are connected", SuggestedAction: "create_task"},
	}}

	out := Build(result, 3, defaultParams())
	if len(out.Interventions) != 1 {
		t.Fatalf("planned %d interventions, want 1", len(out.Interventions))
	}
	iv := out.Interventions[0]
	if iv.Type != models.InterventionTaskCreate {
		t.Errorf("gap mapped to %s, want task_create", iv.Type)
	}
	if iv.Action.Action != "create_task" {
		t.Errorf("gap action = %s, want create_task (a solving action)", iv.Action.Action)
	}
}

func TestUnknownOpportunityIgnored(t *testing.T) {
	result := analyze.Result{Opportunities: []models.Opportunity{
		{Type: "tune_proactivity", Severity: models.SeverityLow},
	}}

	out := Build(result, 3, defaultParams())
	if len(out.Interventions) != 0 {
		t.Errorf("tune_proactivity planned %d interventions, want 0 (feedback-owned)", len(out.Interventions))
	}
}
