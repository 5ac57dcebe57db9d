package permission

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// fakeStore keeps grants in memory and counts seed calls.
type fakeStore struct {
	mu       sync.Mutex
	grants   map[string][]models.PermissionGrant
	seeds    int
	usesByID map[string]int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		grants:   make(map[string][]models.PermissionGrant),
		usesByID: make(map[string]int),
	}
}

func (s *fakeStore) ListGrants(ctx context.Context, tenantID string) ([]models.PermissionGrant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PermissionGrant, len(s.grants[tenantID]))
	copy(out, s.grants[tenantID])
	return out, nil
}

func (s *fakeStore) SeedGrants(ctx context.Context, tenantID string, grants []models.PermissionGrant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seeds++
	// Mirrors the advisory-lock re-check: a tenant with grants stays as is.
	if len(s.grants[tenantID]) > 0 {
		return nil
	}
	for i := range grants {
		grants[i].ID = grants[i].ActionPattern
	}
	s.grants[tenantID] = grants
	return nil
}

func (s *fakeStore) RecordGrantUse(ctx context.Context, grantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usesByID[grantID]++
	return nil
}

func TestMatchesPattern(t *testing.T) {
	cases := []struct {
		pattern string
		action  string
		want    bool
	}{
		{"send_sms:*", "send_sms:marketing", true},
		{"send_sms:*", "send_sms:health", true},
		{"send_sms:*", "send_email:marketing", false},
		{"send_sms:health", "send_sms:health", true},
		{"send_sms:health", "send_sms:marketing", false},
		{"*", "anything:at_all", true},
		{"send_", "send_sms:health", false},
	}
	for _, tc := range cases {
		if got := MatchesPattern(tc.pattern, tc.action); got != tc.want {
			t.Errorf("MatchesPattern(%q, %q) = %t, want %t", tc.pattern, tc.action, got, tc.want)
		}
	}
}

func TestDefaultDecisions(t *testing.T) {
	store := newFakeStore()
	m := NewModel(store, nil)
	ctx := context.Background()

	cases := []struct {
		actionType string
		domain     string
		want       models.Decision
	}{
		{"send_notification", "health", models.DecisionPermitted},
		{"create_task", "work", models.DecisionPermitted},
		{"send_sms", "marketing", models.DecisionRequiresConfirmation},
		{"spend_money", "subscriptions", models.DecisionDenied},
		{"delete_data", "journal", models.DecisionDenied},
		{"unknown_action", "whatever", models.DecisionDenied},
	}
	for _, tc := range cases {
		got, _, err := m.IsActionPermitted(ctx, "t1", tc.actionType, tc.domain)
		if err != nil {
			t.Fatalf("IsActionPermitted(%s:%s) error = %v", tc.actionType, tc.domain, err)
		}
		if got != tc.want {
			t.Errorf("IsActionPermitted(%s:%s) = %s, want %s", tc.actionType, tc.domain, got, tc.want)
		}
	}
}

func TestSeedsExactlyOnce(t *testing.T) {
	store := newFakeStore()
	m := NewModel(store, nil)
	ctx := context.Background()

	if _, _, err := m.IsActionPermitted(ctx, "t1", "create_task", "work"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.IsActionPermitted(ctx, "t1", "create_task", "work"); err != nil {
		t.Fatal(err)
	}

	if store.seeds != 1 {
		t.Errorf("SeedGrants called %d times, want 1", store.seeds)
	}
}

func TestExactBeatsWildcard(t *testing.T) {
	store := newFakeStore()
	store.grants["t1"] = []models.PermissionGrant{
		{ID: "wild", TenantID: "t1", ActionPattern: "send_sms:*", Granted: true, RequiresConfirmation: true, Active: true},
		{ID: "exact", TenantID: "t1", ActionPattern: "send_sms:health", Granted: true, Active: true},
	}
	m := NewModel(store, nil)

	decision, grant, err := m.IsActionPermitted(context.Background(), "t1", "send_sms", "health")
	if err != nil {
		t.Fatal(err)
	}
	if decision != models.DecisionPermitted {
		t.Errorf("decision = %s, want permitted via exact grant", decision)
	}
	if grant == nil || grant.ID != "exact" {
		t.Errorf("matched grant = %v, want the exact pattern", grant)
	}
}

func TestExpiredGrantRequiresConfirmation(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	store := newFakeStore()
	store.grants["t1"] = []models.PermissionGrant{
		{ID: "g", TenantID: "t1", ActionPattern: "send_notification:*", Granted: true, ExpiresAt: &past, Active: true},
	}
	m := NewModel(store, nil)

	decision, _, err := m.IsActionPermitted(context.Background(), "t1", "send_notification", "health")
	if err != nil {
		t.Fatal(err)
	}
	if decision != models.DecisionRequiresConfirmation {
		t.Errorf("decision = %s, want requires_confirmation for expired grant", decision)
	}
}

func TestDailyLimitRequiresConfirmation(t *testing.T) {
	store := newFakeStore()
	store.grants["t1"] = []models.PermissionGrant{
		{ID: "g", TenantID: "t1", ActionPattern: "send_notification:*", Granted: true, DailyLimit: 5, UsedToday: 5, Active: true},
	}
	m := NewModel(store, nil)

	decision, _, err := m.IsActionPermitted(context.Background(), "t1", "send_notification", "health")
	if err != nil {
		t.Fatal(err)
	}
	if decision != models.DecisionRequiresConfirmation {
		t.Errorf("decision = %s, want requires_confirmation over daily limit", decision)
	}
}

func TestPermittedRecordsUse(t *testing.T) {
	store := newFakeStore()
	m := NewModel(store, nil)
	ctx := context.Background()

	if _, _, err := m.IsActionPermitted(ctx, "t1", "log_health", "sleep"); err != nil {
		t.Fatal(err)
	}
	if store.usesByID["log_health:*"] != 1 {
		t.Errorf("grant use recorded %d times, want 1", store.usesByID["log_health:*"])
	}

	// Denied checks leave no use record.
	if _, _, err := m.IsActionPermitted(ctx, "t1", "spend_money", "anything"); err != nil {
		t.Fatal(err)
	}
	if store.usesByID["spend_money:*"] != 0 {
		t.Errorf("denied check recorded a grant use")
	}
}
