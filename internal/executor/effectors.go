package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// Delivery is the outbound delivery result: whether the message went out
// and on which channel.
type Delivery struct {
	Success bool   `json:"success"`
	Channel string `json:"channel"`
}

// Deliverer is the outbound delivery contract. Implementations pick the
// concrete channel from the preference (push, sms, email, call).
type Deliverer interface {
	Deliver(ctx context.Context, tenantID, channelPref, message string) (Delivery, error)
}

// EffectorStore is the write side the database-backed effectors use.
// Implemented by *database.Database.
type EffectorStore interface {
	InsertTask(ctx context.Context, tenantID, title string, dueAt *time.Time) (string, error)
	InsertCalendarEvent(ctx context.Context, tenantID, title string, startsAt time.Time, endsAt *time.Time) (string, error)
	InsertMoodEntry(ctx context.Context, tenantID, mood string, energyLevel int, negative bool) (string, error)
}

// DefaultEffectors wires the standard action set.
func DefaultEffectors(store EffectorStore, deliverer Deliverer) map[string]Effector {
	message := &messageEffector{deliverer: deliverer}
	return map[string]Effector{
		"send_notification": message,
		"send_sms":          message,
		"send_email":        message,
		"make_call":         message,
		"trigger_checkin":   &checkinEffector{deliverer: deliverer},
		"create_task":       &taskEffector{store: store},
		"schedule_event":    &calendarEffector{store: store},
		"log_health":        &healthLogEffector{store: store},
	}
}

// channelFor maps an action name to its delivery channel preference.
func channelFor(action string) string {
	switch action {
	case "send_sms":
		return "sms"
	case "send_email":
		return "email"
	case "make_call":
		return "call"
	default:
		return "push"
	}
}

type messageEffector struct {
	deliverer Deliverer
}

func (e *messageEffector) Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error) {
	message, _ := action.Params["message"].(string)
	if message == "" {
		return nil, Permanent(action.Action, fmt.Errorf("message is empty"))
	}

	delivery, err := e.deliverer.Deliver(ctx, tenantID, channelFor(action.Action), message)
	if err != nil {
		return nil, Transient(action.Action, err)
	}
	if !delivery.Success {
		return nil, Transient(action.Action, fmt.Errorf("delivery on %s did not succeed", delivery.Channel))
	}
	return map[string]any{"channel": delivery.Channel}, nil
}

type checkinEffector struct {
	deliverer Deliverer
}

func (e *checkinEffector) Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error) {
	prompt, _ := action.Params["prompt"].(string)
	if prompt == "" {
		prompt = fmt.Sprintf("Quick check-in about %s. How are things going?", action.Domain)
	}

	delivery, err := e.deliverer.Deliver(ctx, tenantID, "push", prompt)
	if err != nil {
		return nil, Transient(action.Action, err)
	}
	return map[string]any{"channel": delivery.Channel, "prompt": prompt}, nil
}

type taskEffector struct {
	store EffectorStore
}

func (e *taskEffector) Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error) {
	title, _ := action.Params["title"].(string)
	if title == "" {
		return nil, Permanent(action.Action, fmt.Errorf("task title is empty"))
	}

	var dueAt *time.Time
	if raw, ok := action.Params["due_at"].(string); ok && raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, Permanent(action.Action, fmt.Errorf("invalid due_at %q: %w", raw, err))
		}
		dueAt = &t
	}

	id, err := e.store.InsertTask(ctx, tenantID, title, dueAt)
	if err != nil {
		return nil, Transient(action.Action, err)
	}
	return map[string]any{"task_id": id}, nil
}

type calendarEffector struct {
	store EffectorStore
}

func (e *calendarEffector) Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error) {
	title, _ := action.Params["title"].(string)
	if title == "" {
		return nil, Permanent(action.Action, fmt.Errorf("event title is empty"))
	}
	raw, _ := action.Params["starts_at"].(string)
	startsAt, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, Permanent(action.Action, fmt.Errorf("invalid starts_at %q: %w", raw, err))
	}

	var endsAt *time.Time
	if rawEnd, ok := action.Params["ends_at"].(string); ok && rawEnd != "" {
		t, err := time.Parse(time.RFC3339, rawEnd)
		if err != nil {
			return nil, Permanent(action.Action, fmt.Errorf("invalid ends_at %q: %w", rawEnd, err))
		}
		endsAt = &t
	}

	id, err := e.store.InsertCalendarEvent(ctx, tenantID, title, startsAt, endsAt)
	if err != nil {
		return nil, Transient(action.Action, err)
	}
	return map[string]any{"event_id": id}, nil
}

type healthLogEffector struct {
	store EffectorStore
}

func (e *healthLogEffector) Execute(ctx context.Context, tenantID string, action models.ActionPayload) (map[string]any, error) {
	mood, _ := action.Params["mood"].(string)
	if mood == "" {
		return nil, Permanent(action.Action, fmt.Errorf("mood is empty"))
	}
	energy := 5
	if raw, ok := action.Params["energy_level"].(float64); ok {
		energy = int(raw)
	}
	negative, _ := action.Params["negative"].(bool)

	id, err := e.store.InsertMoodEntry(ctx, tenantID, mood, energy, negative)
	if err != nil {
		return nil, Transient(action.Action, err)
	}
	return map[string]any{"entry_id": id}, nil
}
