package models

import "time"

// Decision is the outcome of a permission check.
type Decision string

const (
	DecisionPermitted            Decision = "permitted"
	DecisionRequiresConfirmation Decision = "requires_confirmation"
	DecisionDenied               Decision = "denied"
)

// PermissionGrant controls whether a class of actions may auto-run for a
// tenant. ActionPattern is matched against "action_type:domain" with a
// trailing-* wildcard (e.g. "send_sms:*" covers every send_sms domain).
type PermissionGrant struct {
	ID                   string     `json:"id"`
	TenantID             string     `json:"tenant_id"`
	ActionPattern        string     `json:"action_pattern"`
	Domain               string     `json:"domain,omitempty"`
	Granted              bool       `json:"granted"`
	RequiresConfirmation bool       `json:"requires_confirmation"`
	ExpiresAt            *time.Time `json:"expires_at,omitempty"`
	DailyLimit           int        `json:"daily_limit,omitempty"`
	UsedToday            int        `json:"used_today,omitempty"`
	Active               bool       `json:"active"`
	CreatedAt            time.Time  `json:"created_at"`
}

// Expired reports whether the grant has an expiry in the past.
func (g *PermissionGrant) Expired(now time.Time) bool {
	return g.ExpiresAt != nil && g.ExpiresAt.Before(now)
}

// OverDailyLimit reports whether the grant's daily use budget is spent.
// A zero DailyLimit means unlimited.
func (g *PermissionGrant) OverDailyLimit() bool {
	return g.DailyLimit > 0 && g.UsedToday >= g.DailyLimit
}
