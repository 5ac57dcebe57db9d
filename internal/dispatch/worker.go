package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/aegis/internal/config"
	"github.com/jordanhubbard/aegis/internal/executor"
	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/internal/queue"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Worker polls the queue and processes one item at a time. Every failure
// mode settles the item: transient errors consume a retry, permanent
// errors discard, and panics are recovered at this boundary.
type Worker struct {
	id       string
	queue    queue.Queue
	registry *Registry
	lease    time.Duration
	poll     time.Duration
	live     *config.Live
	events   EventPublisher
	metrics  *metrics.Metrics

	// now is swappable for quiet-hours tests.
	now func() time.Time
}

// EventPublisher announces work-item lifecycle transitions. Implemented
// by *messagebus.Bus; nil disables publishing.
type EventPublisher interface {
	PublishWorkEvent(event string, item *models.WorkItem)
}

// NewWorker creates a worker with the given identity. Quiet hours are
// read from live on every dispatch, so a config reload reaches running
// workers. events may be nil.
func NewWorker(id string, q queue.Queue, registry *Registry, worker config.WorkerConfig, live *config.Live, events EventPublisher) *Worker {
	return &Worker{
		id:       id,
		queue:    q,
		registry: registry,
		lease:    worker.LeaseDuration,
		poll:     worker.PollInterval,
		live:     live,
		events:   events,
		metrics:  metrics.Get(),
		now:      time.Now,
	}
}

func (w *Worker) publish(event string, item *models.WorkItem) {
	if w.events != nil {
		w.events.PublishWorkEvent(event, item)
	}
}

// Run claims and processes items until the context is cancelled.
func (w *Worker) Run(ctx context.Context) {
	log.Printf("[Dispatch] worker %s started", w.id)
	for {
		select {
		case <-ctx.Done():
			log.Printf("[Dispatch] worker %s stopping", w.id)
			return
		default:
		}

		item, err := w.queue.Claim(ctx, w.id, w.lease)
		if err != nil {
			log.Printf("[Dispatch] worker %s claim failed: %v", w.id, err)
		}
		if item == nil {
			select {
			case <-ctx.Done():
			case <-time.After(w.poll):
			}
			continue
		}
		w.process(ctx, item)
	}
}

// process settles one claimed item.
func (w *Worker) process(ctx context.Context, item *models.WorkItem) {
	now := w.now()
	quiet := w.live.Snapshot().Quiet
	if w.deferrable(item) && inQuietHours(now, quiet) {
		until := nextActiveTime(now, quiet)
		if err := w.queue.Defer(ctx, item.ID, until); err != nil {
			log.Printf("[Dispatch] worker %s failed to defer %s: %v", w.id, item.ID, err)
		} else {
			log.Printf("[Dispatch] deferred %s/%s for %s until %s", item.SubLoop, item.Handler, item.TenantID, until.Format(time.Kitchen))
			w.publish("deferred", item)
		}
		return
	}

	handler, ok := w.registry.Lookup(item.SubLoop, item.Handler)
	if !ok {
		w.discard(ctx, item, fmt.Sprintf("no handler registered for %s/%s", item.SubLoop, item.Handler))
		return
	}
	if handler.Validate != nil {
		if err := handler.Validate(item.Params); err != nil {
			w.discard(ctx, item, fmt.Sprintf("invalid params: %v", err))
			return
		}
	}

	start := time.Now()
	result, err := w.runSafely(ctx, handler, item)
	w.metrics.HandlerDuration.WithLabelValues(string(item.SubLoop), item.Handler).Observe(time.Since(start).Seconds())

	switch {
	case err == nil:
		if cerr := w.queue.Complete(ctx, item.ID, result); cerr != nil {
			log.Printf("[Dispatch] worker %s failed to complete %s: %v", w.id, item.ID, cerr)
		} else {
			w.publish("completed", item)
		}
	case executor.IsTransient(err):
		terminal, ferr := w.queue.Fail(ctx, item.ID, err.Error())
		if ferr != nil {
			log.Printf("[Dispatch] worker %s failed to fail %s: %v", w.id, item.ID, ferr)
		} else if terminal {
			log.Printf("[Dispatch] %s/%s exhausted retries: %v", item.SubLoop, item.Handler, err)
			w.publish("failed", item)
		}
	default:
		w.discard(ctx, item, err.Error())
	}
}

// runSafely invokes the handler with a panic boundary. A panicking
// handler fails its item instead of taking down the worker.
func (w *Worker) runSafely(ctx context.Context, handler Handler, item *models.WorkItem) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.metrics.HandlerPanics.WithLabelValues(string(item.SubLoop), item.Handler).Inc()
			log.Printf("[Dispatch] handler %s/%s panicked: %v", item.SubLoop, item.Handler, r)
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler.Run(ctx, item)
}

func (w *Worker) discard(ctx context.Context, item *models.WorkItem, reason string) {
	log.Printf("[Dispatch] discarding %s/%s: %s", item.SubLoop, item.Handler, reason)
	if err := w.queue.Discard(ctx, item.ID, reason); err != nil {
		log.Printf("[Dispatch] worker %s failed to discard %s: %v", w.id, item.ID, err)
		return
	}
	w.publish("failed", item)
}

// deferrable reports whether the item is subject to quiet hours.
// Emergencies and P1 outbound always dispatch.
func (w *Worker) deferrable(item *models.WorkItem) bool {
	if item.SubLoop != models.SubLoopProactive && item.SubLoop != models.SubLoopOutbound {
		return false
	}
	return item.Priority > models.P1
}

// inQuietHours reports whether the local hour falls inside the quiet
// window, handling windows that wrap midnight.
func inQuietHours(now time.Time, q config.QuietConfig) bool {
	if q.StartHour == q.EndHour {
		return false
	}
	hour := now.Hour()
	if q.StartHour < q.EndHour {
		return hour >= q.StartHour && hour < q.EndHour
	}
	return hour >= q.StartHour || hour < q.EndHour
}

// nextActiveTime returns the next moment the quiet window ends.
func nextActiveTime(now time.Time, q config.QuietConfig) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), q.EndHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
