package models

import "time"

// SubLoop is one of the six fixed work categories. Each sub-loop carries a
// fixed priority tier; there is no way to enqueue work outside this set.
type SubLoop string

const (
	SubLoopEmergency    SubLoop = "emergency"
	SubLoopOutbound     SubLoop = "outbound"
	SubLoopProactive    SubLoop = "proactive"
	SubLoopObservation  SubLoop = "observation"
	SubLoopOptimization SubLoop = "optimization"
	SubLoopMaintenance  SubLoop = "maintenance"
)

// Priority tiers. P0 is dispatched before everything else.
type Priority int

const (
	P0 Priority = iota
	P1
	P2
	P3
	P4
	P5
)

var subLoopPriorities = map[SubLoop]Priority{
	SubLoopEmergency:    P0,
	SubLoopOutbound:     P1,
	SubLoopProactive:    P2,
	SubLoopObservation:  P3,
	SubLoopOptimization: P4,
	SubLoopMaintenance:  P5,
}

// Valid reports whether s is one of the six known sub-loops.
func (s SubLoop) Valid() bool {
	_, ok := subLoopPriorities[s]
	return ok
}

// Priority returns the fixed priority tier for the sub-loop. Unknown
// sub-loops sort last; they are rejected before dispatch anyway.
func (s SubLoop) Priority() Priority {
	if p, ok := subLoopPriorities[s]; ok {
		return p
	}
	return P5
}

// AllSubLoops returns the sub-loops in priority order.
func AllSubLoops() []SubLoop {
	return []SubLoop{
		SubLoopEmergency,
		SubLoopOutbound,
		SubLoopProactive,
		SubLoopObservation,
		SubLoopOptimization,
		SubLoopMaintenance,
	}
}

// WorkStatus is the lifecycle state of a WorkItem.
type WorkStatus string

const (
	WorkStatusQueued     WorkStatus = "queued"
	WorkStatusProcessing WorkStatus = "processing"
	WorkStatusCompleted  WorkStatus = "completed"
	WorkStatusFailed     WorkStatus = "failed"
	WorkStatusExpired    WorkStatus = "expired"
)

// Terminal reports whether the status is a final state.
func (s WorkStatus) Terminal() bool {
	return s == WorkStatusCompleted || s == WorkStatusFailed || s == WorkStatusExpired
}

// WorkItem is the unit of scheduled work. Mutual exclusion across workers is
// carried entirely by the lease fields (LockedBy/LockedUntil); no in-memory
// lock is trusted across processes.
type WorkItem struct {
	ID           string         `json:"id"`
	TenantID     string         `json:"tenant_id"`
	SubLoop      SubLoop        `json:"sub_loop"`
	Handler      string         `json:"handler"`
	Priority     Priority       `json:"priority"`
	Params       map[string]any `json:"params,omitempty"`
	Status       WorkStatus     `json:"status"`
	ScheduledFor time.Time      `json:"scheduled_for"`
	LockedUntil  *time.Time     `json:"locked_until,omitempty"`
	LockedBy     string         `json:"locked_by,omitempty"`
	Attempts     int            `json:"attempts"`
	MaxAttempts  int            `json:"max_attempts"`
	DedupKey     string         `json:"dedup_key,omitempty"`
	Result       map[string]any `json:"result,omitempty"`
	LastError    string         `json:"last_error,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

// DefaultMaxAttempts is the retry cap applied when an emit does not specify one.
const DefaultMaxAttempts = 3
