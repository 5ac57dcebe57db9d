package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

func newTestQueue() *MemoryQueue {
	return NewMemoryQueue(24*time.Hour, 0)
}

func mustEmit(t *testing.T, q *MemoryQueue, p EmitParams) *models.WorkItem {
	t.Helper()
	item, err := q.Emit(context.Background(), p)
	if err != nil {
		t.Fatalf("Emit() error = %v, want nil", err)
	}
	if item == nil {
		t.Fatal("Emit() returned nil item, want stored item")
	}
	return item
}

func TestEmitAndClaim(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	emitted := mustEmit(t, q, EmitParams{
		TenantID: "t1",
		SubLoop:  models.SubLoopProactive,
		Handler:  "run_intervention",
		Params:   map[string]any{"title": "Sleep check-in"},
	})

	claimed, err := q.Claim(ctx, "worker-1", 5*time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v, want nil", err)
	}
	if claimed == nil {
		t.Fatal("Claim() returned nil, want item")
	}
	if claimed.ID != emitted.ID {
		t.Errorf("claimed ID = %s, want %s", claimed.ID, emitted.ID)
	}
	if claimed.Status != models.WorkStatusProcessing {
		t.Errorf("claimed status = %s, want processing", claimed.Status)
	}
	if claimed.LockedBy != "worker-1" {
		t.Errorf("LockedBy = %s, want worker-1", claimed.LockedBy)
	}
	if claimed.Priority != models.P2 {
		t.Errorf("priority = %d, want P2 for proactive", claimed.Priority)
	}
}

func TestEmitUnknownSubLoop(t *testing.T) {
	q := newTestQueue()

	_, err := q.Emit(context.Background(), EmitParams{
		TenantID: "t1",
		SubLoop:  models.SubLoop("telemetry"),
		Handler:  "whatever",
	})
	if err != ErrUnknownSubLoop {
		t.Errorf("Emit() error = %v, want ErrUnknownSubLoop", err)
	}
}

func TestClaimMutualExclusion(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopOutbound, Handler: "deliver_message"})

	const workers = 16
	var wg sync.WaitGroup
	winners := make(chan string, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			item, err := q.Claim(ctx, "worker", 5*time.Minute)
			if err != nil {
				t.Errorf("Claim() error = %v", err)
				return
			}
			if item != nil {
				winners <- item.ID
			}
		}(i)
	}
	wg.Wait()
	close(winners)

	count := 0
	for range winners {
		count++
	}
	if count != 1 {
		t.Errorf("%d workers claimed the item, want exactly 1", count)
	}
}

func TestDedupWithinCooldown(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	p := EmitParams{
		TenantID: "t1",
		SubLoop:  models.SubLoopProactive,
		Handler:  "run_intervention",
		DedupKey: "sleep_debt",
	}
	first := mustEmit(t, q, p)

	// Second emit while the first is still queued is a no-op.
	dup, err := q.Emit(ctx, p)
	if err != nil {
		t.Fatalf("Emit() error = %v, want nil", err)
	}
	if dup != nil {
		t.Error("duplicate emit returned an item, want nil")
	}

	// Still suppressed after completion, inside the cooldown window.
	claimed, _ := q.Claim(ctx, "w1", time.Minute)
	if claimed == nil || claimed.ID != first.ID {
		t.Fatal("expected to claim the first item")
	}
	if err := q.Complete(ctx, first.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	dup, err = q.Emit(ctx, p)
	if err != nil {
		t.Fatalf("Emit() error = %v, want nil", err)
	}
	if dup != nil {
		t.Error("emit after completion within cooldown returned an item, want nil")
	}

	// After the cooldown elapses the key is free again.
	q.now = func() time.Time { return time.Now().Add(25 * time.Hour) }
	again, err := q.Emit(ctx, p)
	if err != nil {
		t.Fatalf("Emit() error = %v, want nil", err)
	}
	if again == nil {
		t.Error("emit after cooldown returned nil, want stored item")
	}
}

func TestDedupDistinctSubLoops(t *testing.T) {
	q := newTestQueue()

	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention", DedupKey: "k"})
	// The same key in a different sub-loop is a different identity.
	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopObservation, Handler: "run_cycle", DedupKey: "k"})
}

func TestPriorityOrdering(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopMaintenance, Handler: "sweep_queue"})
	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})
	emergency := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopEmergency, Handler: "crisis_alert"})

	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed == nil || claimed.ID != emergency.ID {
		t.Error("expected the emergency item to be claimed first")
	}
}

func TestScheduledForGatesClaim(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	mustEmit(t, q, EmitParams{
		TenantID:     "t1",
		SubLoop:      models.SubLoopOutbound,
		Handler:      "deliver_message",
		ScheduledFor: time.Now().Add(time.Hour),
	})

	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed != nil {
		t.Error("claimed a future-scheduled item, want nil")
	}
}

func TestRetryBound(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopOutbound, Handler: "deliver_message"})

	for i := 1; i <= 3; i++ {
		claimed, err := q.Claim(ctx, "w1", time.Minute)
		if err != nil {
			t.Fatalf("Claim() error = %v", err)
		}
		if claimed == nil {
			t.Fatalf("attempt %d: nothing to claim", i)
		}
		terminal, err := q.Fail(ctx, claimed.ID, "delivery timeout")
		if err != nil {
			t.Fatalf("Fail() error = %v", err)
		}
		wantTerminal := i == 3
		if terminal != wantTerminal {
			t.Errorf("attempt %d: terminal = %t, want %t", i, terminal, wantTerminal)
		}
	}

	// Never re-queued a 4th time.
	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if claimed != nil {
		t.Error("claimed a terminally failed item")
	}

	stored, ok := q.Get(item.ID)
	if !ok {
		t.Fatal("item disappeared")
	}
	if stored.Status != models.WorkStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if stored.Attempts != 3 {
		t.Errorf("attempts = %d, want 3", stored.Attempts)
	}

	letters := q.DeadLetters()
	if len(letters) != 1 {
		t.Fatalf("dead letters = %d, want 1", len(letters))
	}
	if letters[0].WorkItemID != item.ID {
		t.Errorf("dead letter references %s, want %s", letters[0].WorkItemID, item.ID)
	}
}

func TestLeaseReclaim(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})

	claimed, err := q.Claim(ctx, "worker-1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	// Nothing to reclaim while the lease is live.
	n, err := q.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpired() error = %v", err)
	}
	if n != 0 {
		t.Errorf("reclaimed %d items with live lease, want 0", n)
	}

	// Advance past the lease.
	q.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	n, err = q.ReclaimExpired(ctx)
	if err != nil {
		t.Fatalf("ReclaimExpired() error = %v", err)
	}
	if n != 1 {
		t.Fatalf("reclaimed %d items, want 1", n)
	}

	stored, _ := q.Get(item.ID)
	if stored.Status != models.WorkStatusQueued {
		t.Errorf("status after reclaim = %s, want queued", stored.Status)
	}
	if stored.Attempts != 1 {
		t.Errorf("attempts after reclaim = %d, want exactly 1", stored.Attempts)
	}

	// A different worker can now claim it.
	reclaimed, err := q.Claim(ctx, "worker-2", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if reclaimed == nil || reclaimed.ID != item.ID {
		t.Fatal("second worker could not claim the reclaimed item")
	}
	if reclaimed.LockedBy != "worker-2" {
		t.Errorf("LockedBy = %s, want worker-2", reclaimed.LockedBy)
	}
}

func TestDeferPushesScheduledFor(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})

	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	until := time.Now().Add(8 * time.Hour)
	if err := q.Defer(ctx, claimed.ID, until); err != nil {
		t.Fatalf("Defer() error = %v", err)
	}

	stored, _ := q.Get(item.ID)
	if stored.Status != models.WorkStatusQueued {
		t.Errorf("status = %s, want queued", stored.Status)
	}
	if !stored.ScheduledFor.Equal(until) {
		t.Errorf("scheduled_for = %v, want %v", stored.ScheduledFor, until)
	}
	if stored.Attempts != 0 {
		t.Errorf("deferral counted an attempt: attempts = %d, want 0", stored.Attempts)
	}

	// Not claimable until the deferral elapses.
	again, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil {
		t.Fatalf("Claim() error = %v", err)
	}
	if again != nil {
		t.Error("claimed a deferred item before its scheduled time")
	}
}

func TestSweep(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	stale := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})
	done := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopOutbound, Handler: "deliver_message"})

	claimed, _ := q.Claim(ctx, "w1", time.Minute)
	if claimed == nil {
		t.Fatal("nothing claimed")
	}
	if err := q.Complete(ctx, claimed.ID, nil); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	q.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	touched, err := q.Sweep(ctx, 7*24*time.Hour)
	if err != nil {
		t.Fatalf("Sweep() error = %v", err)
	}
	if touched != 2 {
		t.Errorf("Sweep() touched %d items, want 2", touched)
	}

	// The queued item that survived is whichever was not claimed; the
	// claimed/completed one is pruned, the stale queued one is expired.
	var queuedID string
	if claimed.ID == stale.ID {
		queuedID = done.ID
	} else {
		queuedID = stale.ID
	}
	stored, ok := q.Get(queuedID)
	if !ok {
		t.Fatal("stale queued item was deleted, want expired")
	}
	if stored.Status != models.WorkStatusExpired {
		t.Errorf("stale item status = %s, want expired", stored.Status)
	}
	if _, ok := q.Get(claimed.ID); ok {
		t.Error("completed item past retention was not pruned")
	}
}

func TestCompleteRequiresProcessing(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})

	if err := q.Complete(ctx, item.ID, nil); err != ErrNotProcessing {
		t.Errorf("Complete() on queued item error = %v, want ErrNotProcessing", err)
	}
	if err := q.Complete(ctx, "missing", nil); err != ErrNotFound {
		t.Errorf("Complete() on missing item error = %v, want ErrNotFound", err)
	}
}

func TestDepth(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})
	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention", DedupKey: ""})
	mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopMaintenance, Handler: "sweep_queue"})

	depth, err := q.Depth(ctx)
	if err != nil {
		t.Fatalf("Depth() error = %v", err)
	}
	if depth[models.SubLoopProactive] != 2 {
		t.Errorf("proactive depth = %d, want 2", depth[models.SubLoopProactive])
	}
	if depth[models.SubLoopMaintenance] != 1 {
		t.Errorf("maintenance depth = %d, want 1", depth[models.SubLoopMaintenance])
	}
}

func TestDiscardIsImmediatelyTerminal(t *testing.T) {
	q := newTestQueue()
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopProactive, Handler: "run_intervention"})
	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}

	if err := q.Discard(ctx, claimed.ID, "malformed params"); err != nil {
		t.Fatalf("Discard() error = %v", err)
	}
	stored, _ := q.Get(item.ID)
	if stored.Status != models.WorkStatusFailed {
		t.Errorf("status = %s, want failed", stored.Status)
	}
	if next, _ := q.Claim(ctx, "w1", time.Minute); next != nil {
		t.Errorf("discarded item was re-claimed: %+v", next)
	}
	if letters := q.DeadLetters(); len(letters) != 1 || letters[0].LastError != "malformed params" {
		t.Errorf("dead letters = %+v, want one with the discard error", letters)
	}

	if err := q.Discard(ctx, item.ID, "again"); err != ErrNotProcessing {
		t.Errorf("Discard() on terminal item error = %v, want ErrNotProcessing", err)
	}
}

func TestConfiguredMaxAttemptsAppliesToEmits(t *testing.T) {
	q := NewMemoryQueue(24*time.Hour, 1)
	ctx := context.Background()

	item := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopObservation, Handler: "run_cycle"})
	if item.MaxAttempts != 1 {
		t.Fatalf("max_attempts = %d, want the configured 1", item.MaxAttempts)
	}

	claimed, err := q.Claim(ctx, "w1", time.Minute)
	if err != nil || claimed == nil {
		t.Fatalf("Claim() = %v, %v", claimed, err)
	}
	terminal, err := q.Fail(ctx, claimed.ID, "boom")
	if err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if !terminal {
		t.Error("first failure should be terminal with a budget of 1")
	}

	// An explicit per-emit budget still overrides the configured default.
	override := mustEmit(t, q, EmitParams{TenantID: "t1", SubLoop: models.SubLoopObservation, Handler: "run_cycle", MaxAttempts: 5})
	if override.MaxAttempts != 5 {
		t.Errorf("max_attempts = %d, want the per-emit 5", override.MaxAttempts)
	}
}
