// Package executor performs the side-effecting action carried by an
// approved work item, routing on the action name to a category effector.
package executor

import (
	"context"
	"fmt"
	"log"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Effector performs one category of side effect.
type Effector interface {
	Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error)
}

// AttemptStore claims idempotency keys so a crash between side effect and
// completion cannot re-deliver the effect. Implemented by
// *database.Database.
type AttemptStore interface {
	BeginActionAttempt(ctx context.Context, attemptKey, workItemID, action string) (bool, error)
	FinishActionAttempt(ctx context.Context, attemptKey string, result map[string]any) error
	GetActionAttemptResult(ctx context.Context, attemptKey string) (map[string]any, error)
}

// Executor routes actions to effectors.
type Executor struct {
	effectors map[string]Effector
	attempts  AttemptStore
	metrics   *metrics.Metrics
}

// New creates an executor. attempts may be nil, which disables the
// idempotency guard (in-memory single-process runs).
func New(effectors map[string]Effector, attempts AttemptStore) *Executor {
	return &Executor{effectors: effectors, attempts: attempts, metrics: metrics.Get()}
}

// Execute performs the intervention's action for the given work item. The
// idempotency key is derived from the item ID and its attempt counter, so
// a redelivered item (lease reclaim after a crash) skips the side effect
// and returns the recorded result instead of repeating it.
func (e *Executor) Execute(ctx context.Context, item *models.WorkItem, action models.ActionPayload) (map[string]any, error) {
	effector, ok := e.effectors[action.Action]
	if !ok {
		e.metrics.ActionsExecuted.WithLabelValues(action.Action, "unknown").Inc()
		return nil, Permanent(action.Action, fmt.Errorf("no effector registered"))
	}

	attemptKey := fmt.Sprintf("%s:%d", item.ID, item.Attempts)
	if e.attempts != nil {
		fresh, err := e.attempts.BeginActionAttempt(ctx, attemptKey, item.ID, action.Action)
		if err != nil {
			return nil, Transient(action.Action, err)
		}
		if !fresh {
			log.Printf("[Executor] attempt %s already executed, skipping side effect", attemptKey)
			result, err := e.attempts.GetActionAttemptResult(ctx, attemptKey)
			if err != nil {
				return nil, Transient(action.Action, err)
			}
			e.metrics.ActionsExecuted.WithLabelValues(action.Action, "duplicate").Inc()
			return result, nil
		}
	}

	result, err := effector.Execute(ctx, item.TenantID, action)
	if err != nil {
		e.metrics.ActionsExecuted.WithLabelValues(action.Action, "error").Inc()
		return nil, err
	}

	if e.attempts != nil {
		if err := e.attempts.FinishActionAttempt(ctx, attemptKey, result); err != nil {
			log.Printf("[Executor] failed to record attempt result: %v", err)
		}
	}
	e.metrics.ActionsExecuted.WithLabelValues(action.Action, "ok").Inc()
	return result, nil
}
