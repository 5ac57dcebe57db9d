package models

import "time"

// Rating is a user's satisfaction score (1-5) for a delivered intervention.
type Rating struct {
	ID               string           `json:"id"`
	TenantID         string           `json:"tenant_id"`
	InterventionType InterventionType `json:"intervention_type"`
	Score            int              `json:"score"`
	Comment          string           `json:"comment,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
}

// BehaviorParams are the tunable knobs the feedback controller owns.
// Nothing else writes them. Weights are bounded to [0,1].
type BehaviorParams struct {
	TenantID      string    `json:"tenant_id"`
	Proactivity   float64   `json:"proactivity"`
	Formality     float64   `json:"formality"`
	Directness    float64   `json:"directness"`
	ApproachLevel int       `json:"approach_level"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultBehaviorParams returns the starting parameter set for a tenant.
func DefaultBehaviorParams(tenantID string) BehaviorParams {
	return BehaviorParams{
		TenantID:    tenantID,
		Proactivity: 0.5,
		Formality:   0.5,
		Directness:  0.5,
	}
}

// ParamChange is an immutable audit record of one feedback adjustment:
// which rule fired, the full before/after parameter sets, and the evidence
// that triggered it.
type ParamChange struct {
	ID        string         `json:"id"`
	TenantID  string         `json:"tenant_id"`
	Rule      string         `json:"rule"`
	Before    BehaviorParams `json:"before"`
	After     BehaviorParams `json:"after"`
	Evidence  map[string]any `json:"evidence,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}
