package models

import (
	"testing"
	"time"
)

func TestSubLoopPriorities(t *testing.T) {
	cases := map[SubLoop]Priority{
		SubLoopEmergency:    P0,
		SubLoopOutbound:     P1,
		SubLoopProactive:    P2,
		SubLoopObservation:  P3,
		SubLoopOptimization: P4,
		SubLoopMaintenance:  P5,
	}
	for sl, want := range cases {
		if got := sl.Priority(); got != want {
			t.Errorf("%s priority = %d, want %d", sl, got, want)
		}
		if !sl.Valid() {
			t.Errorf("%s reported invalid", sl)
		}
	}
	if SubLoop("daydream").Valid() {
		t.Error("unknown sub-loop reported valid")
	}
}

func TestWorkStatusTerminal(t *testing.T) {
	for _, s := range []WorkStatus{WorkStatusCompleted, WorkStatusFailed, WorkStatusExpired} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []WorkStatus{WorkStatusQueued, WorkStatusProcessing} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestInterventionParamsRoundTrip(t *testing.T) {
	iv := Intervention{
		Type:             InterventionCheckin,
		Title:            "Sleep check-in",
		Description:      "You averaged 5.2 hours this week",
		Action:           ActionPayload{Action: "trigger_checkin", Domain: "health"},
		Priority:         P2,
		RequiresApproval: false,
		Reasoning:        "sleep debt detected",
	}

	params, err := iv.ToParams()
	if err != nil {
		t.Fatalf("ToParams() error = %v", err)
	}
	got, err := InterventionFromParams(params)
	if err != nil {
		t.Fatalf("InterventionFromParams() error = %v", err)
	}
	if got.Type != iv.Type || got.Title != iv.Title || got.Action.Action != iv.Action.Action || got.Priority != iv.Priority {
		t.Errorf("round trip = %+v, want %+v", got, iv)
	}

	if _, err := InterventionFromParams(map[string]any{}); err == nil {
		t.Error("InterventionFromParams() on empty params should fail")
	}
	if _, err := InterventionFromParams(map[string]any{"intervention": map[string]any{"title": "no action"}}); err == nil {
		t.Error("InterventionFromParams() without an action should fail")
	}
}

func TestGrantExpiryAndDailyLimit(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	g := PermissionGrant{ExpiresAt: &past}
	if !g.Expired(now) {
		t.Error("grant with past expiry should be expired")
	}
	g.ExpiresAt = &future
	if g.Expired(now) {
		t.Error("grant with future expiry should not be expired")
	}
	g.ExpiresAt = nil
	if g.Expired(now) {
		t.Error("grant without expiry should never expire")
	}

	g = PermissionGrant{DailyLimit: 3, UsedToday: 3}
	if !g.OverDailyLimit() {
		t.Error("grant at its daily limit should be over")
	}
	g.UsedToday = 2
	if g.OverDailyLimit() {
		t.Error("grant under its daily limit should not be over")
	}
	g = PermissionGrant{DailyLimit: 0, UsedToday: 100}
	if g.OverDailyLimit() {
		t.Error("zero daily limit means unlimited")
	}
}
