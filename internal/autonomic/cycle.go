// Package autonomic runs the observation cycle: pull a snapshot, derive
// issues, plan interventions, and emit them as proactive work items. The
// cycle never executes actions itself; everything side-effecting goes
// through the queue so retries, dedup, and permission checks apply
// uniformly.
package autonomic

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/jordanhubbard/aegis/internal/analyze"
	"github.com/jordanhubbard/aegis/internal/monitor"
	"github.com/jordanhubbard/aegis/internal/plan"
	"github.com/jordanhubbard/aegis/internal/queue"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// ParamStore supplies the tenant's behavior parameters. Implemented by
// *database.Database.
type ParamStore interface {
	GetBehaviorParams(ctx context.Context, tenantID string) (models.BehaviorParams, error)
}

// Cycle is one tenant-scoped pass of the monitor, analyze, and plan
// pipeline.
type Cycle struct {
	monitor *monitor.Monitor
	queue   queue.Queue
	params  ParamStore
	cap     int
}

// New creates a cycle runner with the configured per-cycle intervention cap.
func New(m *monitor.Monitor, q queue.Queue, params ParamStore, interventionCap int) *Cycle {
	return &Cycle{monitor: m, queue: q, params: params, cap: interventionCap}
}

// Run executes one full cycle for the tenant and returns how many
// interventions were emitted. Dedup-suppressed emissions do not count.
func (c *Cycle) Run(ctx context.Context, tenantID string) (int, error) {
	snap := c.monitor.Snapshot(ctx, tenantID)
	result := analyze.Evaluate(snap)

	params, err := c.params.GetBehaviorParams(ctx, tenantID)
	if err != nil {
		return 0, fmt.Errorf("failed to load behavior params: %w", err)
	}

	output := plan.Build(result, c.cap, params)
	for _, skipped := range output.Skipped {
		log.Printf("[Autonomic] skipped %q: %s", skipped.Title, skipped.Reason)
	}

	emitted := 0
	for _, iv := range output.Interventions {
		itemParams, err := iv.ToParams()
		if err != nil {
			return emitted, err
		}
		item, err := c.queue.Emit(ctx, queue.EmitParams{
			TenantID: tenantID,
			SubLoop:  models.SubLoopProactive,
			Handler:  "run_intervention",
			Params:   itemParams,
			DedupKey: dedupKey(iv),
		})
		if err != nil {
			return emitted, fmt.Errorf("failed to emit intervention %q: %w", iv.Title, err)
		}
		if item == nil {
			log.Printf("[Autonomic] suppressed duplicate intervention %q for tenant %s", iv.Title, tenantID)
			continue
		}
		emitted++
	}

	log.Printf("[Autonomic] cycle for tenant %s: %d issues, %d emitted", tenantID, len(result.Issues), emitted)
	return emitted, nil
}

// dedupKey identifies an intervention across cycles. The same condition
// re-detected on the next pass maps to the same key, so the cooldown
// window suppresses nagging.
func dedupKey(iv models.Intervention) string {
	title := strings.ToLower(strings.ReplaceAll(iv.Title, " ", "-"))
	return fmt.Sprintf("%s:%s", iv.Type, title)
}
