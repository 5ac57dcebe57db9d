package dispatch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jordanhubbard/aegis/internal/autonomic"
	"github.com/jordanhubbard/aegis/internal/consensus"
	"github.com/jordanhubbard/aegis/internal/executor"
	"github.com/jordanhubbard/aegis/internal/feedback"
	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/internal/permission"
	"github.com/jordanhubbard/aegis/internal/queue"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// OutcomeStore records intervention outcomes for the feedback loop.
// Implemented by *database.Database.
type OutcomeStore interface {
	RecordInterventionOutcome(ctx context.Context, tenantID string, itype models.InterventionType, action string, success bool, decision models.Decision) error
}

// EmergencyPublisher is the last-resort notification path used when the
// whole escalation chain has failed. Implemented by *messagebus.Bus.
type EmergencyPublisher interface {
	PublishEmergencyFallback(tenantID, message string) error
}

// ConsensusPublisher announces gate decisions for external audit
// consumers. Implemented by *messagebus.Bus; nil disables publishing.
type ConsensusPublisher interface {
	PublishConsensusOutcome(tenantID, actionType string, result *models.ConsensusResult)
}

// ResponseStore answers whether the user has been heard from since a
// point in time. Implemented by *database.Database.
type ResponseStore interface {
	HasRespondedSince(ctx context.Context, tenantID string, since time.Time) (bool, error)
}

// Handlers holds the dependencies the six standard handlers close over.
// Outcomes, Emergency, Consensus, and Responses may be nil.
type Handlers struct {
	Queue       queue.Queue
	Cycle       *autonomic.Cycle
	Permissions *permission.Model
	Gate        *consensus.Gate
	Executor    *executor.Executor
	Feedback    *feedback.Controller
	Outcomes    OutcomeStore
	Emergency   EmergencyPublisher
	Consensus   ConsensusPublisher
	Responses   ResponseStore
	Retention   time.Duration
}

// escalationChain is the default channel order for emergency delivery.
var escalationChain = []string{"push", "sms", "call"}

// followUpDelay is how long a delivered emergency message waits for a
// response before the next channel in the chain fires.
const followUpDelay = 4 * time.Hour

// actionForChannel maps a delivery channel to its effector action.
func actionForChannel(channel string) string {
	switch channel {
	case "sms":
		return "send_sms"
	case "email":
		return "send_email"
	case "call":
		return "make_call"
	default:
		return "send_notification"
	}
}

func requireMessage(params map[string]any) error {
	if msg, _ := params["message"].(string); msg == "" {
		return fmt.Errorf("message is required")
	}
	return nil
}

// crisisAlert delivers an emergency message on the current channel. A
// delivered message schedules a silence-gated follow-up on the next
// channel; a failed delivery chains the next channel immediately. When
// the chain is exhausted the message goes out on the direct fallback
// path.
func (h *Handlers) crisisAlert() Handler {
	return Handler{
		Name:     "crisis_alert",
		Validate: requireMessage,
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			message, _ := item.Params["message"].(string)
			channels := chainFromParams(item.Params)
			channel, rest := channels[0], channels[1:]

			if responded, since := h.userResponded(ctx, item); responded {
				log.Printf("[Dispatch] cancelling escalation step for %s, user responded after %s", item.TenantID, since.Format(time.RFC3339))
				return map[string]any{"skipped": "responded"}, nil
			}

			result, err := h.Executor.Execute(ctx, item, models.ActionPayload{
				Action: actionForChannel(channel),
				Domain: "emergency",
				Params: map[string]any{"message": message},
			})
			if err == nil {
				if len(rest) > 0 {
					if id := h.scheduleFollowUp(ctx, item.TenantID, message, rest); id != "" {
						if result == nil {
							result = map[string]any{}
						}
						result["follow_up"] = id
					}
				}
				return result, nil
			}

			if len(rest) > 0 {
				next, emitErr := h.Queue.Emit(ctx, queue.EmitParams{
					TenantID: item.TenantID,
					SubLoop:  models.SubLoopEmergency,
					Handler:  "crisis_alert",
					Params:   map[string]any{"message": message, "channels": anySlice(rest)},
				})
				if emitErr != nil {
					return nil, fmt.Errorf("failed to chain escalation after %s: %w", channel, emitErr)
				}
				log.Printf("[Dispatch] %s delivery failed for %s, escalating to %s: %v", channel, item.TenantID, rest[0], err)
				return map[string]any{"escalated_to": rest[0], "next_item": next.ID}, nil
			}

			if h.Emergency != nil {
				if fbErr := h.Emergency.PublishEmergencyFallback(item.TenantID, message); fbErr == nil {
					log.Printf("[Dispatch] escalation chain exhausted for %s, used fallback path", item.TenantID)
					return map[string]any{"fallback": true}, nil
				}
			}
			return nil, fmt.Errorf("escalation chain exhausted on %s: %w", channel, err)
		},
	}
}

// userResponded reports whether this escalation step should be
// cancelled because the user has been heard from since the previous
// step went out. A store error fails safe toward escalating.
func (h *Handlers) userResponded(ctx context.Context, item *models.WorkItem) (bool, time.Time) {
	gated, _ := item.Params["only_if_no_response"].(bool)
	if !gated || h.Responses == nil {
		return false, time.Time{}
	}
	raw, _ := item.Params["response_check_since"].(string)
	since, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return false, time.Time{}
	}
	responded, err := h.Responses.HasRespondedSince(ctx, item.TenantID, since)
	if err != nil {
		log.Printf("[Dispatch] response check failed for %s, escalating anyway: %v", item.TenantID, err)
		return false, time.Time{}
	}
	return responded, since
}

// scheduleFollowUp chains the next escalation step after the follow-up
// delay, gated on the user staying silent until it comes due. Returns
// the new item's ID, or empty when the emit failed; a delivered message
// is never retried just because its follow-up could not be queued.
func (h *Handlers) scheduleFollowUp(ctx context.Context, tenantID, message string, channels []string) string {
	now := time.Now()
	next, err := h.Queue.Emit(ctx, queue.EmitParams{
		TenantID:     tenantID,
		SubLoop:      models.SubLoopEmergency,
		Handler:      "crisis_alert",
		ScheduledFor: now.Add(followUpDelay),
		Params: map[string]any{
			"message":              message,
			"channels":             anySlice(channels),
			"only_if_no_response":  true,
			"response_check_since": now.UTC().Format(time.RFC3339),
		},
	})
	if err != nil {
		log.Printf("[Dispatch] failed to schedule escalation follow-up for %s: %v", tenantID, err)
		return ""
	}
	log.Printf("[Dispatch] scheduled %s follow-up for %s in %s", channels[0], tenantID, followUpDelay)
	return next.ID
}

// chainFromParams reads the remaining escalation channels, defaulting to
// the full chain.
func chainFromParams(params map[string]any) []string {
	raw, ok := params["channels"].([]any)
	if !ok || len(raw) == 0 {
		return escalationChain
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return escalationChain
	}
	return out
}

func anySlice(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// deliverMessage pushes one outbound message on the requested channel.
func (h *Handlers) deliverMessage() Handler {
	return Handler{
		Name:     "deliver_message",
		Validate: requireMessage,
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			message, _ := item.Params["message"].(string)
			channel, _ := item.Params["channel"].(string)
			if channel == "" {
				channel = "push"
			}
			return h.Executor.Execute(ctx, item, models.ActionPayload{
				Action: actionForChannel(channel),
				Domain: "outbound",
				Params: map[string]any{"message": message},
			})
		},
	}
}

// runIntervention is the proactive path: permission check, consensus for
// high-risk actions, then execution. Denied actions are skipped silently;
// anything needing the user's say-so turns into an outbound confirmation
// request instead of running.
func (h *Handlers) runIntervention() Handler {
	return Handler{
		Name: "run_intervention",
		Validate: func(params map[string]any) error {
			_, err := models.InterventionFromParams(params)
			return err
		},
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			iv, err := models.InterventionFromParams(item.Params)
			if err != nil {
				return nil, executor.Permanent("run_intervention", err)
			}

			decision, _, err := h.Permissions.IsActionPermitted(ctx, item.TenantID, iv.Action.Action, iv.Action.Domain)
			if err != nil {
				return nil, fmt.Errorf("permission check failed: %w", err)
			}

			if decision == models.DecisionDenied {
				h.recordOutcome(ctx, item.TenantID, iv, false, decision)
				return map[string]any{"skipped": "denied"}, nil
			}

			if consensus.RequiresConsensus(iv.Action.Action) {
				result, err := h.Gate.Decide(ctx, consensus.Request{
					TenantID:    item.TenantID,
					ActionType:  iv.Action.Action,
					Domain:      iv.Action.Domain,
					Description: iv.Description,
					RiskContext: iv.Reasoning,
				})
				if err != nil {
					return nil, fmt.Errorf("consensus gate failed: %w", err)
				}
				if h.Consensus != nil {
					h.Consensus.PublishConsensusOutcome(item.TenantID, iv.Action.Action, result)
				}
				switch result.Decision {
				case models.VoteApprove:
					// fall through to execution
				case models.VoteReject:
					h.recordOutcome(ctx, item.TenantID, iv, false, models.DecisionDenied)
					return map[string]any{"skipped": "consensus_rejected"}, nil
				default:
					if err := h.requestConfirmation(ctx, item.TenantID, iv); err != nil {
						return nil, err
					}
					h.recordOutcome(ctx, item.TenantID, iv, false, models.DecisionRequiresConfirmation)
					return map[string]any{"skipped": "escalated_to_user"}, nil
				}
			} else if decision == models.DecisionRequiresConfirmation {
				if err := h.requestConfirmation(ctx, item.TenantID, iv); err != nil {
					return nil, err
				}
				h.recordOutcome(ctx, item.TenantID, iv, false, decision)
				return map[string]any{"skipped": "confirmation_requested"}, nil
			}

			result, err := h.Executor.Execute(ctx, item, iv.Action)
			h.recordOutcome(ctx, item.TenantID, iv, err == nil, models.DecisionPermitted)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	}
}

// requestConfirmation emits an outbound message asking the user to
// approve the held action. The dedup key keeps one pending ask per
// intervention.
func (h *Handlers) requestConfirmation(ctx context.Context, tenantID string, iv models.Intervention) error {
	_, err := h.Queue.Emit(ctx, queue.EmitParams{
		TenantID: tenantID,
		SubLoop:  models.SubLoopOutbound,
		Handler:  "deliver_message",
		Params: map[string]any{
			"message": fmt.Sprintf("Approval needed: %s. %s", iv.Title, iv.Description),
			"channel": "push",
		},
		DedupKey: fmt.Sprintf("confirm:%s:%s", iv.Type, iv.Action.Action),
	})
	if err != nil {
		return fmt.Errorf("failed to emit confirmation request: %w", err)
	}
	return nil
}

func (h *Handlers) recordOutcome(ctx context.Context, tenantID string, iv models.Intervention, success bool, decision models.Decision) {
	if h.Outcomes == nil {
		return
	}
	if err := h.Outcomes.RecordInterventionOutcome(ctx, tenantID, iv.Type, iv.Action.Action, success, decision); err != nil {
		log.Printf("[Dispatch] failed to record intervention outcome: %v", err)
	}
}

// runCycle executes one observation pass for the tenant.
func (h *Handlers) runCycle() Handler {
	return Handler{
		Name: "run_cycle",
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			emitted, err := h.Cycle.Run(ctx, item.TenantID)
			if err != nil {
				return nil, err
			}
			return map[string]any{"emitted": emitted}, nil
		},
	}
}

// feedbackReview runs the periodic parameter controller.
func (h *Handlers) feedbackReview() Handler {
	return Handler{
		Name: "feedback_review",
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			changes, err := h.Feedback.Review(ctx, item.TenantID)
			if err != nil {
				return nil, err
			}
			rules := make([]any, 0, len(changes))
			for _, c := range changes {
				rules = append(rules, c.Rule)
			}
			return map[string]any{"adjustments": len(changes), "rules": rules}, nil
		},
	}
}

// sweepQueue reclaims expired leases, prunes old items, and refreshes the
// depth gauge.
func (h *Handlers) sweepQueue() Handler {
	return Handler{
		Name: "sweep_queue",
		Run: func(ctx context.Context, item *models.WorkItem) (map[string]any, error) {
			reclaimed, err := h.Queue.ReclaimExpired(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to reclaim leases: %w", err)
			}
			swept, err := h.Queue.Sweep(ctx, h.Retention)
			if err != nil {
				return nil, fmt.Errorf("failed to sweep queue: %w", err)
			}

			depth, err := h.Queue.Depth(ctx)
			if err == nil {
				m := metrics.Get()
				for _, sl := range models.AllSubLoops() {
					m.QueueDepth.WithLabelValues(string(sl)).Set(float64(depth[sl]))
				}
			}
			return map[string]any{"reclaimed": reclaimed, "swept": swept}, nil
		},
	}
}
