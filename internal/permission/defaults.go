package permission

import "github.com/jordanhubbard/aegis/pkg/models"

// DefaultGrants is the conservative grant set seeded for a tenant on
// first use. Low-risk categories auto-run; outbound contact to third
// parties needs confirmation; spend, autonomy expansion, and data
// deletion are denied until the user opts in.
func DefaultGrants(tenantID string) []models.PermissionGrant {
	allow := func(pattern string) models.PermissionGrant {
		return models.PermissionGrant{TenantID: tenantID, ActionPattern: pattern, Granted: true, Active: true}
	}
	confirm := func(pattern string) models.PermissionGrant {
		return models.PermissionGrant{TenantID: tenantID, ActionPattern: pattern, Granted: true, RequiresConfirmation: true, Active: true}
	}
	deny := func(pattern string) models.PermissionGrant {
		return models.PermissionGrant{TenantID: tenantID, ActionPattern: pattern, Granted: false, Active: true}
	}

	return []models.PermissionGrant{
		allow("send_notification:*"),
		allow("create_task:*"),
		allow("update_task:*"),
		allow("log_health:*"),
		allow("trigger_checkin:*"),
		confirm("schedule_event:*"),
		confirm("send_sms:*"),
		confirm("send_email:*"),
		confirm("share_data:*"),
		deny("make_call:*"),
		deny("spend_money:*"),
		deny("grant_autonomy:*"),
		deny("delete_data:*"),
	}
}
