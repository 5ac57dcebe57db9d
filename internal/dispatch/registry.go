// Package dispatch runs the worker loop: claim a work item, validate its
// params, route it to the registered handler, and settle the outcome
// with the queue. The handler table is closed at startup; work cannot
// name a sub-loop or handler outside it.
package dispatch

import (
	"context"
	"fmt"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// Handler is one named unit of dispatchable work.
type Handler struct {
	Name string

	// Validate checks typed params before execution. A validation error
	// is permanent: the item is discarded without running.
	Validate func(params map[string]any) error

	Run func(ctx context.Context, item *models.WorkItem) (map[string]any, error)
}

// Registry is the static sub-loop to handler table.
type Registry struct {
	handlers map[models.SubLoop]map[string]Handler
}

// NewRegistry creates an empty registry with a slot per known sub-loop.
func NewRegistry() *Registry {
	r := &Registry{handlers: make(map[models.SubLoop]map[string]Handler)}
	for _, sl := range models.AllSubLoops() {
		r.handlers[sl] = make(map[string]Handler)
	}
	return r
}

// Register binds a handler under a sub-loop. Unknown sub-loops and
// duplicate names are rejected; both are wiring bugs.
func (r *Registry) Register(subLoop models.SubLoop, h Handler) error {
	slot, ok := r.handlers[subLoop]
	if !ok {
		return fmt.Errorf("unknown sub-loop %q", subLoop)
	}
	if h.Name == "" || h.Run == nil {
		return fmt.Errorf("handler for %s must have a name and a run function", subLoop)
	}
	if _, exists := slot[h.Name]; exists {
		return fmt.Errorf("handler %s/%s registered twice", subLoop, h.Name)
	}
	slot[h.Name] = h
	return nil
}

// Lookup resolves a claimed item's handler.
func (r *Registry) Lookup(subLoop models.SubLoop, name string) (Handler, bool) {
	slot, ok := r.handlers[subLoop]
	if !ok {
		return Handler{}, false
	}
	h, ok := slot[name]
	return h, ok
}

// DefaultRegistry wires the six standard handlers, one per sub-loop.
func DefaultRegistry(h *Handlers) (*Registry, error) {
	r := NewRegistry()
	for subLoop, handler := range map[models.SubLoop]Handler{
		models.SubLoopEmergency:    h.crisisAlert(),
		models.SubLoopOutbound:     h.deliverMessage(),
		models.SubLoopProactive:    h.runIntervention(),
		models.SubLoopObservation:  h.runCycle(),
		models.SubLoopOptimization: h.feedbackReview(),
		models.SubLoopMaintenance:  h.sweepQueue(),
	} {
		if err := r.Register(subLoop, handler); err != nil {
			return nil, err
		}
	}
	return r, nil
}
