// Package queue implements the persisted priority work queue with
// lease-based claims. Two backends share one contract: PostgresQueue for
// multi-process deployments and MemoryQueue for tests and single-binary
// runs.
package queue

import (
	"context"
	"errors"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

var (
	// ErrUnknownSubLoop is returned when an emit names a sub-loop outside
	// the closed set.
	ErrUnknownSubLoop = errors.New("unknown sub-loop")

	// ErrNotProcessing is returned when a completion or failure targets an
	// item that is not currently leased.
	ErrNotProcessing = errors.New("work item is not processing")

	// ErrNotFound is returned when the work item does not exist.
	ErrNotFound = errors.New("work item not found")
)

// EmitParams describes a new work item. Priority is derived from the
// sub-loop; callers cannot override it.
type EmitParams struct {
	TenantID     string
	SubLoop      models.SubLoop
	Handler      string
	Params       map[string]any
	DedupKey     string
	ScheduledFor time.Time // zero means now
	MaxAttempts  int       // zero means models.DefaultMaxAttempts
}

// Queue is the work-queue contract shared by both backends.
type Queue interface {
	// Emit inserts a queued item. When a dedup key is supplied and an item
	// with the same (tenant, sub_loop, dedup_key) is still pending or
	// completed within the cooldown window, the call is a no-op and
	// returns (nil, nil).
	Emit(ctx context.Context, p EmitParams) (*models.WorkItem, error)

	// Claim atomically leases the highest-priority ready item for
	// workerID, or returns (nil, nil) when nothing is ready. At most one
	// worker holds an unexpired lease on an item.
	Claim(ctx context.Context, workerID string, lease time.Duration) (*models.WorkItem, error)

	// Complete transitions a processing item to completed.
	Complete(ctx context.Context, id string, result map[string]any) error

	// Fail records a failure. The item is re-queued with attempts+1, or
	// forced to failed (and dead-lettered) once attempts reach the cap.
	// Returns true when the item went terminal.
	Fail(ctx context.Context, id, errMsg string) (bool, error)

	// Discard forces a processing item straight to failed and dead-letters
	// it, bypassing the retry budget. Used for permanent errors where a
	// retry cannot succeed (malformed params, unknown handler).
	Discard(ctx context.Context, id, errMsg string) error

	// Defer re-queues a processing item with scheduled_for pushed to
	// until, without counting an attempt. Used for quiet-hours deferral.
	Defer(ctx context.Context, id string, until time.Time) error

	// ReclaimExpired returns items with elapsed leases to queued,
	// incrementing attempts by exactly 1 per item.
	ReclaimExpired(ctx context.Context) (int, error)

	// Sweep expires queued items older than retention and prunes terminal
	// items past the same horizon. Returns the number of rows touched.
	Sweep(ctx context.Context, retention time.Duration) (int, error)

	// Depth reports the number of queued items per sub-loop.
	Depth(ctx context.Context) (map[models.SubLoop]int, error)
}

// normalize fills EmitParams defaults. An explicit MaxAttempts on the
// emit wins over the backend's configured default.
func normalize(p *EmitParams, now time.Time, defaultMaxAttempts int) error {
	if !p.SubLoop.Valid() {
		return ErrUnknownSubLoop
	}
	if p.ScheduledFor.IsZero() {
		p.ScheduledFor = now
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = defaultMaxAttempts
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = models.DefaultMaxAttempts
	}
	return nil
}
