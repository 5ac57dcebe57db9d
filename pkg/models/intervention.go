package models

import (
	"encoding/json"
	"fmt"
)

// Severity grades issues and opportunities.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// IssueType identifies a condition derived from the monitor snapshot.
type IssueType string

const (
	IssueSleepDebt        IssueType = "sleep_debt"
	IssueTaskOverload     IssueType = "task_overload"
	IssueMissedGoal       IssueType = "missed_goal"
	IssueHealthConcern    IssueType = "health_concern"
	IssueSocialIsolation  IssueType = "social_isolation"
	IssueProductivityDrop IssueType = "productivity_drop"
	IssueSystemDegraded   IssueType = "system_degraded"
)

// Issue is a detected problem. Recomputed each cycle, never stored as its
// own ledger; the evidence map carries the raw numbers that triggered it.
type Issue struct {
	Type        IssueType      `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// Opportunity is a favorable condition worth acting on.
type Opportunity struct {
	Type        string         `json:"type"`
	Severity    Severity       `json:"severity"`
	Description string         `json:"description"`
	Evidence    map[string]any `json:"evidence,omitempty"`
}

// Gap is a capability or data hole the agent could fill.
type Gap struct {
	Area        string `json:"area"`
	Description string `json:"description"`
	// SuggestedAction names the solving action, not a bare notification.
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// InterventionType identifies which template produced an intervention.
type InterventionType string

const (
	InterventionCheckin      InterventionType = "checkin"
	InterventionNotification InterventionType = "notification"
	InterventionTaskCreate   InterventionType = "task_create"
	InterventionSchedule     InterventionType = "schedule"
	InterventionHealthLog    InterventionType = "health_log"
	InterventionEscalation   InterventionType = "escalation"
)

// ActionPayload names the concrete action the executor should perform.
type ActionPayload struct {
	Action string         `json:"action"`
	Domain string         `json:"domain,omitempty"`
	Params map[string]any `json:"params,omitempty"`
}

// Intervention is a planned action candidate. It never outlives the WorkItem
// that carries it. RequiresApproval is a template hint; the permission model
// re-validates every action regardless.
type Intervention struct {
	Type             InterventionType `json:"type"`
	Title            string           `json:"title"`
	Description      string           `json:"description"`
	Action           ActionPayload    `json:"action"`
	Priority         Priority         `json:"priority"`
	RequiresApproval bool             `json:"requires_approval"`
	Reasoning        string           `json:"reasoning"`
}

// ToParams packs the intervention into work-item params. The JSON
// round-trip matches what the Postgres queue does to params anyway, so
// the in-memory and database backends hand the handler identical shapes.
func (iv Intervention) ToParams() (map[string]any, error) {
	data, err := json.Marshal(iv)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal intervention: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to repack intervention: %w", err)
	}
	return map[string]any{"intervention": m}, nil
}

// InterventionFromParams unpacks an intervention from work-item params.
func InterventionFromParams(params map[string]any) (Intervention, error) {
	raw, ok := params["intervention"]
	if !ok {
		return Intervention{}, fmt.Errorf("params carry no intervention")
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return Intervention{}, fmt.Errorf("failed to repack intervention params: %w", err)
	}
	var iv Intervention
	if err := json.Unmarshal(data, &iv); err != nil {
		return Intervention{}, fmt.Errorf("failed to unmarshal intervention: %w", err)
	}
	if iv.Action.Action == "" {
		return Intervention{}, fmt.Errorf("intervention has no action")
	}
	return iv, nil
}
