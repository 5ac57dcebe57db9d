package autonomic

import (
	"context"
	"testing"
	"time"

	"github.com/jordanhubbard/aegis/internal/monitor"
	"github.com/jordanhubbard/aegis/internal/queue"
	"github.com/jordanhubbard/aegis/pkg/models"
)

type sleepDebtCollector struct{}

func (sleepDebtCollector) Name() string { return "sleep" }

func (sleepDebtCollector) Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error {
	snap.Sleep = &models.SleepStats{HoursLast7d: []float64{5, 5.5, 5, 5.5, 5, 5.5, 5}}
	return nil
}

type fakeParams struct {
	params models.BehaviorParams
}

func (f *fakeParams) GetBehaviorParams(ctx context.Context, tenantID string) (models.BehaviorParams, error) {
	return f.params, nil
}

func TestCycleEmitsProactiveItems(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 0)
	mon := monitor.New([]monitor.Collector{sleepDebtCollector{}}, time.Second)
	cycle := New(mon, q, &fakeParams{params: models.DefaultBehaviorParams("t1")}, 3)

	emitted, err := cycle.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if emitted < 1 {
		t.Fatalf("emitted = %d, want at least 1 for a sleep-debt snapshot", emitted)
	}

	item, err := q.Claim(context.Background(), "w1", time.Minute)
	if err != nil || item == nil {
		t.Fatalf("Claim() = %v, %v, want an emitted item", item, err)
	}
	if item.SubLoop != models.SubLoopProactive || item.Handler != "run_intervention" {
		t.Errorf("item = %s/%s, want proactive/run_intervention", item.SubLoop, item.Handler)
	}
	iv, err := models.InterventionFromParams(item.Params)
	if err != nil {
		t.Fatalf("InterventionFromParams() error = %v", err)
	}
	if iv.Action.Action == "" {
		t.Error("emitted intervention carries no action")
	}
}

func TestCycleDedupsAcrossRuns(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 0)
	mon := monitor.New([]monitor.Collector{sleepDebtCollector{}}, time.Second)
	cycle := New(mon, q, &fakeParams{params: models.DefaultBehaviorParams("t1")}, 3)

	first, err := cycle.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("first Run() error = %v", err)
	}
	second, err := cycle.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("second Run() error = %v", err)
	}
	if second != 0 {
		t.Errorf("second cycle emitted %d items, want 0 while the first %d are pending", second, first)
	}
}

func TestCycleSurvivesEmptySnapshot(t *testing.T) {
	q := queue.NewMemoryQueue(time.Hour, 0)
	mon := monitor.New(nil, time.Second)
	cycle := New(mon, q, &fakeParams{params: models.DefaultBehaviorParams("t1")}, 3)

	emitted, err := cycle.Run(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if emitted != 0 {
		t.Errorf("emitted = %d from an empty snapshot, want 0", emitted)
	}
}
