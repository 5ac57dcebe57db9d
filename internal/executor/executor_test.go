package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

type fakeDeliverer struct {
	mu        sync.Mutex
	delivered []string
	err       error
}

func (d *fakeDeliverer) Deliver(ctx context.Context, tenantID, channelPref, message string) (Delivery, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return Delivery{}, d.err
	}
	d.delivered = append(d.delivered, message)
	return Delivery{Success: true, Channel: channelPref}, nil
}

type fakeEffectorStore struct {
	tasks int
}

func (s *fakeEffectorStore) InsertTask(ctx context.Context, tenantID, title string, dueAt *time.Time) (string, error) {
	s.tasks++
	return fmt.Sprintf("task-%d", s.tasks), nil
}

func (s *fakeEffectorStore) InsertCalendarEvent(ctx context.Context, tenantID, title string, startsAt time.Time, endsAt *time.Time) (string, error) {
	return "event-1", nil
}

func (s *fakeEffectorStore) InsertMoodEntry(ctx context.Context, tenantID, mood string, energyLevel int, negative bool) (string, error) {
	return "entry-1", nil
}

// fakeAttempts mirrors the unique-key behavior of the database table.
type fakeAttempts struct {
	mu      sync.Mutex
	claimed map[string]map[string]any
}

func newFakeAttempts() *fakeAttempts {
	return &fakeAttempts{claimed: make(map[string]map[string]any)}
}

func (a *fakeAttempts) BeginActionAttempt(ctx context.Context, attemptKey, workItemID, action string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.claimed[attemptKey]; ok {
		return false, nil
	}
	a.claimed[attemptKey] = nil
	return true, nil
}

func (a *fakeAttempts) FinishActionAttempt(ctx context.Context, attemptKey string, result map[string]any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.claimed[attemptKey] = result
	return nil
}

func (a *fakeAttempts) GetActionAttemptResult(ctx context.Context, attemptKey string) (map[string]any, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.claimed[attemptKey], nil
}

func testItem() *models.WorkItem {
	return &models.WorkItem{ID: "item-1", TenantID: "t1", SubLoop: models.SubLoopProactive}
}

func TestExecuteRoutesToEffector(t *testing.T) {
	deliverer := &fakeDeliverer{}
	store := &fakeEffectorStore{}
	exec := New(DefaultEffectors(store, deliverer), nil)

	result, err := exec.Execute(context.Background(), testItem(), models.ActionPayload{
		Action: "send_notification",
		Domain: "health",
		Params: map[string]any{"message": "Time to wind down"},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if result["channel"] != "push" {
		t.Errorf("channel = %v, want push", result["channel"])
	}
	if len(deliverer.delivered) != 1 {
		t.Errorf("delivered %d messages, want 1", len(deliverer.delivered))
	}
}

func TestUnknownActionIsPermanent(t *testing.T) {
	exec := New(DefaultEffectors(&fakeEffectorStore{}, &fakeDeliverer{}), nil)

	_, err := exec.Execute(context.Background(), testItem(), models.ActionPayload{Action: "launch_rocket"})
	if err == nil {
		t.Fatal("Execute() with unknown action should fail")
	}
	if IsTransient(err) {
		t.Error("unknown action classified transient, want permanent")
	}
}

func TestEmptyMessageIsPermanent(t *testing.T) {
	exec := New(DefaultEffectors(&fakeEffectorStore{}, &fakeDeliverer{}), nil)

	_, err := exec.Execute(context.Background(), testItem(), models.ActionPayload{
		Action: "send_sms",
		Params: map[string]any{},
	})
	if err == nil {
		t.Fatal("Execute() with empty message should fail")
	}
	if IsTransient(err) {
		t.Error("empty message classified transient, want permanent")
	}
}

func TestDeliveryFailureIsTransient(t *testing.T) {
	deliverer := &fakeDeliverer{err: errors.New("gateway timeout")}
	exec := New(DefaultEffectors(&fakeEffectorStore{}, deliverer), nil)

	_, err := exec.Execute(context.Background(), testItem(), models.ActionPayload{
		Action: "send_notification",
		Params: map[string]any{"message": "hello"},
	})
	if err == nil {
		t.Fatal("Execute() with failing deliverer should fail")
	}
	if !IsTransient(err) {
		t.Error("delivery failure classified permanent, want transient")
	}
}

func TestIdempotencySkipsDuplicateAttempt(t *testing.T) {
	deliverer := &fakeDeliverer{}
	attempts := newFakeAttempts()
	exec := New(DefaultEffectors(&fakeEffectorStore{}, deliverer), attempts)

	item := testItem()
	action := models.ActionPayload{
		Action: "send_notification",
		Params: map[string]any{"message": "only once"},
	}

	if _, err := exec.Execute(context.Background(), item, action); err != nil {
		t.Fatalf("first Execute() error = %v", err)
	}
	// Same item, same attempt counter: redelivery after a crash.
	result, err := exec.Execute(context.Background(), item, action)
	if err != nil {
		t.Fatalf("second Execute() error = %v", err)
	}
	if len(deliverer.delivered) != 1 {
		t.Errorf("side effect ran %d times, want 1", len(deliverer.delivered))
	}
	if result["channel"] != "push" {
		t.Errorf("duplicate attempt returned %v, want the recorded result", result)
	}

	// A new attempt counter is a fresh attempt and runs the effect.
	item.Attempts = 1
	if _, err := exec.Execute(context.Background(), item, action); err != nil {
		t.Fatalf("retry Execute() error = %v", err)
	}
	if len(deliverer.delivered) != 2 {
		t.Errorf("side effect ran %d times after a real retry, want 2", len(deliverer.delivered))
	}
}

func TestCreateTask(t *testing.T) {
	store := &fakeEffectorStore{}
	exec := New(DefaultEffectors(store, &fakeDeliverer{}), nil)

	result, err := exec.Execute(context.Background(), testItem(), models.ActionPayload{
		Action: "create_task",
		Params: map[string]any{"title": "Reconnect calendar", "due_at": time.Now().Add(24 * time.Hour).Format(time.RFC3339)},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result["task_id"] != "task-1" {
		t.Errorf("task_id = %v, want task-1", result["task_id"])
	}

	// Garbage timestamps are caught before the write.
	_, err = exec.Execute(context.Background(), testItem(), models.ActionPayload{
		Action: "create_task",
		Params: map[string]any{"title": "x", "due_at": "tomorrow-ish"},
	})
	if err == nil || IsTransient(err) {
		t.Errorf("invalid due_at: err = %v, want permanent", err)
	}
}

func TestIsTransientDefaultsTrue(t *testing.T) {
	if !IsTransient(errors.New("some infra error")) {
		t.Error("unclassified error should default to transient")
	}
	if IsTransient(Permanent("x", errors.New("bad recipient"))) {
		t.Error("permanent error reported transient")
	}
	if !IsTransient(Transient("x", errors.New("timeout"))) {
		t.Error("transient error reported permanent")
	}
}
