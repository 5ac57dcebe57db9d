package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// DeadLetter is a retry-exhausted item kept for inspection.
type DeadLetter struct {
	WorkItemID string
	TenantID   string
	SubLoop    models.SubLoop
	Handler    string
	Attempts   int
	LastError  string
	CreatedAt  time.Time
}

// MemoryQueue is the in-process backend. All state is mutex-guarded; the
// lease semantics are identical to the Postgres backend so the dispatcher
// cannot tell them apart.
type MemoryQueue struct {
	mu          sync.Mutex
	items       map[string]*models.WorkItem
	deadLetters []DeadLetter
	cooldown    time.Duration
	maxAttempts int
	metrics     *metrics.Metrics

	// now is swappable for lease and cooldown tests.
	now func() time.Time
}

// NewMemoryQueue creates an in-process queue with the given dedup
// cooldown window. maxAttempts is the default retry budget for emits
// that do not set one; zero or less falls back to
// models.DefaultMaxAttempts.
func NewMemoryQueue(cooldown time.Duration, maxAttempts int) *MemoryQueue {
	return &MemoryQueue{
		items:       make(map[string]*models.WorkItem),
		cooldown:    cooldown,
		maxAttempts: maxAttempts,
		metrics:     metrics.Get(),
		now:         time.Now,
	}
}

// Emit implements Queue.
func (q *MemoryQueue) Emit(ctx context.Context, p EmitParams) (*models.WorkItem, error) {
	now := q.now()
	if err := normalize(&p, now, q.maxAttempts); err != nil {
		return nil, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if p.DedupKey != "" && q.dedupHitLocked(p, now) {
		q.metrics.ItemsDeduped.WithLabelValues(string(p.SubLoop)).Inc()
		return nil, nil
	}

	item := &models.WorkItem{
		ID:           uuid.New().String(),
		TenantID:     p.TenantID,
		SubLoop:      p.SubLoop,
		Handler:      p.Handler,
		Priority:     p.SubLoop.Priority(),
		Params:       p.Params,
		Status:       models.WorkStatusQueued,
		ScheduledFor: p.ScheduledFor,
		MaxAttempts:  p.MaxAttempts,
		DedupKey:     p.DedupKey,
		CreatedAt:    now,
	}
	q.items[item.ID] = item
	q.metrics.ItemsEmitted.WithLabelValues(string(p.SubLoop)).Inc()
	return cloneItem(item), nil
}

// dedupHitLocked reports whether an item with the same dedup identity is
// pending, or completed within the cooldown window. Failed and expired
// items do not suppress re-emission.
func (q *MemoryQueue) dedupHitLocked(p EmitParams, now time.Time) bool {
	for _, it := range q.items {
		if it.TenantID != p.TenantID || it.SubLoop != p.SubLoop || it.DedupKey != p.DedupKey {
			continue
		}
		switch it.Status {
		case models.WorkStatusQueued, models.WorkStatusProcessing:
			return true
		case models.WorkStatusCompleted:
			if it.CompletedAt != nil && now.Sub(*it.CompletedAt) < q.cooldown {
				return true
			}
		}
	}
	return false
}

// Claim implements Queue.
func (q *MemoryQueue) Claim(ctx context.Context, workerID string, lease time.Duration) (*models.WorkItem, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	var ready []*models.WorkItem
	for _, it := range q.items {
		if it.Status == models.WorkStatusQueued && !it.ScheduledFor.After(now) {
			ready = append(ready, it)
		}
	}
	if len(ready) == 0 {
		return nil, nil
	}

	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority < ready[j].Priority
		}
		if !ready[i].ScheduledFor.Equal(ready[j].ScheduledFor) {
			return ready[i].ScheduledFor.Before(ready[j].ScheduledFor)
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})

	item := ready[0]
	until := now.Add(lease)
	item.Status = models.WorkStatusProcessing
	item.LockedBy = workerID
	item.LockedUntil = &until
	q.metrics.ItemsClaimed.WithLabelValues(string(item.SubLoop)).Inc()
	return cloneItem(item), nil
}

// Complete implements Queue.
func (q *MemoryQueue) Complete(ctx context.Context, id string, result map[string]any) error {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != models.WorkStatusProcessing {
		return ErrNotProcessing
	}

	item.Status = models.WorkStatusCompleted
	item.Result = result
	item.CompletedAt = &now
	item.LockedBy = ""
	item.LockedUntil = nil
	q.metrics.ItemsCompleted.WithLabelValues(string(item.SubLoop)).Inc()
	return nil
}

// Fail implements Queue.
func (q *MemoryQueue) Fail(ctx context.Context, id, errMsg string) (bool, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return false, ErrNotFound
	}
	if item.Status != models.WorkStatusProcessing {
		return false, ErrNotProcessing
	}

	item.Attempts++
	item.LastError = errMsg
	item.LockedBy = ""
	item.LockedUntil = nil

	if item.Attempts >= item.MaxAttempts {
		item.Status = models.WorkStatusFailed
		item.CompletedAt = &now
		q.deadLetters = append(q.deadLetters, DeadLetter{
			WorkItemID: item.ID,
			TenantID:   item.TenantID,
			SubLoop:    item.SubLoop,
			Handler:    item.Handler,
			Attempts:   item.Attempts,
			LastError:  errMsg,
			CreatedAt:  now,
		})
		q.metrics.ItemsFailed.WithLabelValues(string(item.SubLoop), "true").Inc()
		return true, nil
	}

	item.Status = models.WorkStatusQueued
	q.metrics.ItemsFailed.WithLabelValues(string(item.SubLoop), "false").Inc()
	return false, nil
}

// Discard implements Queue.
func (q *MemoryQueue) Discard(ctx context.Context, id, errMsg string) error {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != models.WorkStatusProcessing {
		return ErrNotProcessing
	}

	item.Attempts++
	item.Status = models.WorkStatusFailed
	item.LastError = errMsg
	item.CompletedAt = &now
	item.LockedBy = ""
	item.LockedUntil = nil
	q.deadLetters = append(q.deadLetters, DeadLetter{
		WorkItemID: item.ID,
		TenantID:   item.TenantID,
		SubLoop:    item.SubLoop,
		Handler:    item.Handler,
		Attempts:   item.Attempts,
		LastError:  errMsg,
		CreatedAt:  now,
	})
	q.metrics.ItemsFailed.WithLabelValues(string(item.SubLoop), "true").Inc()
	return nil
}

// Defer implements Queue.
func (q *MemoryQueue) Defer(ctx context.Context, id string, until time.Time) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	item, ok := q.items[id]
	if !ok {
		return ErrNotFound
	}
	if item.Status != models.WorkStatusProcessing {
		return ErrNotProcessing
	}

	item.Status = models.WorkStatusQueued
	item.ScheduledFor = until
	item.LockedBy = ""
	item.LockedUntil = nil
	q.metrics.ItemsDeferred.WithLabelValues(string(item.SubLoop), "quiet_hours").Inc()
	return nil
}

// ReclaimExpired implements Queue.
func (q *MemoryQueue) ReclaimExpired(ctx context.Context) (int, error) {
	now := q.now()

	q.mu.Lock()
	defer q.mu.Unlock()

	reclaimed := 0
	for _, item := range q.items {
		if item.Status != models.WorkStatusProcessing {
			continue
		}
		if item.LockedUntil == nil || item.LockedUntil.After(now) {
			continue
		}
		item.Status = models.WorkStatusQueued
		item.Attempts++
		item.LockedBy = ""
		item.LockedUntil = nil
		reclaimed++
	}
	if reclaimed > 0 {
		q.metrics.LeasesReclaimed.Add(float64(reclaimed))
	}
	return reclaimed, nil
}

// Sweep implements Queue.
func (q *MemoryQueue) Sweep(ctx context.Context, retention time.Duration) (int, error) {
	now := q.now()
	horizon := now.Add(-retention)

	q.mu.Lock()
	defer q.mu.Unlock()

	touched := 0
	for id, item := range q.items {
		switch {
		case item.Status == models.WorkStatusQueued && item.CreatedAt.Before(horizon):
			item.Status = models.WorkStatusExpired
			item.CompletedAt = &now
			touched++
		case item.Status.Terminal() && item.CompletedAt != nil && item.CompletedAt.Before(horizon):
			delete(q.items, id)
			touched++
		}
	}
	return touched, nil
}

// Depth implements Queue.
func (q *MemoryQueue) Depth(ctx context.Context) (map[models.SubLoop]int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	depth := make(map[models.SubLoop]int)
	for _, item := range q.items {
		if item.Status == models.WorkStatusQueued {
			depth[item.SubLoop]++
		}
	}
	return depth, nil
}

// DeadLetters returns a copy of the dead-letter records.
func (q *MemoryQueue) DeadLetters() []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]DeadLetter, len(q.deadLetters))
	copy(out, q.deadLetters)
	return out
}

// Get returns a copy of the item, for tests and inspection.
func (q *MemoryQueue) Get(id string) (*models.WorkItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return nil, false
	}
	return cloneItem(item), true
}

func cloneItem(item *models.WorkItem) *models.WorkItem {
	out := *item
	if item.LockedUntil != nil {
		t := *item.LockedUntil
		out.LockedUntil = &t
	}
	if item.CompletedAt != nil {
		t := *item.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
