// Package messagebus publishes loop lifecycle events on NATS JetStream
// so external surfaces (delivery front end, dashboards) can follow the
// agent without polling the database.
package messagebus

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// Bus wraps the NATS connection and JetStream stream.
type Bus struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	streamName string
}

// Config holds NATS bus configuration.
type Config struct {
	URL        string
	StreamName string // default "AEGIS"
	Timeout    time.Duration
}

// New connects to NATS and ensures the aegis.> stream exists.
func New(cfg Config) (*Bus, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.StreamName == "" {
		cfg.StreamName = "AEGIS"
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}

	nc, err := nats.Connect(cfg.URL,
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[MessageBus] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[MessageBus] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create JetStream context: %w", err)
	}

	b := &Bus{conn: nc, js: js, streamName: cfg.StreamName}
	if err := b.ensureStream(); err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to ensure stream: %w", err)
	}

	log.Printf("[MessageBus] connected to NATS at %s with stream %s", cfg.URL, cfg.StreamName)
	return b, nil
}

// ensureStream creates the JetStream stream on first run. LimitsPolicy so
// multiple consumers can follow the same subjects.
func (b *Bus) ensureStream() error {
	if _, err := b.js.StreamInfo(b.streamName); err == nil {
		return nil
	}
	_, err := b.js.AddStream(&nats.StreamConfig{
		Name:      b.streamName,
		Subjects:  []string{"aegis.>"},
		Retention: nats.LimitsPolicy,
		MaxAge:    24 * time.Hour,
		MaxBytes:  256 * 1024 * 1024,
		Storage:   nats.FileStorage,
		Replicas:  1,
		Discard:   nats.DiscardOld,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	log.Printf("[MessageBus] created JetStream stream %s", b.streamName)
	return nil
}

// Conn exposes the raw connection for request/reply users (judgment
// validators, outbound deliverer).
func (b *Bus) Conn() *nats.Conn {
	return b.conn
}

// publish JSON-encodes payload onto the stream subject.
func (b *Bus) publish(subject string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if _, err := b.js.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}

// PublishWorkEvent announces a work-item lifecycle transition
// (emitted, completed, failed, deferred).
func (b *Bus) PublishWorkEvent(event string, item *models.WorkItem) {
	subject := fmt.Sprintf("aegis.work.%s.%s", item.SubLoop, event)
	if err := b.publish(subject, map[string]any{
		"event":     event,
		"item_id":   item.ID,
		"tenant_id": item.TenantID,
		"sub_loop":  item.SubLoop,
		"handler":   item.Handler,
		"attempts":  item.Attempts,
		"status":    item.Status,
	}); err != nil {
		log.Printf("[MessageBus] %v", err)
	}
}

// PublishConsensusOutcome announces a gate decision for audit consumers.
func (b *Bus) PublishConsensusOutcome(tenantID, actionType string, result *models.ConsensusResult) {
	if err := b.publish("aegis.consensus.decided", map[string]any{
		"tenant_id":       tenantID,
		"action_type":     actionType,
		"decision":        result.Decision,
		"agreement_count": result.AgreementCount,
		"supermajority":   result.SupermajorityReached,
		"latency_ms":      result.Latency.Milliseconds(),
	}); err != nil {
		log.Printf("[MessageBus] %v", err)
	}
}

// PublishEmergencyFallback pushes a best-effort direct notification on
// core NATS, bypassing JetStream, when the primary escalation path has
// already failed.
func (b *Bus) PublishEmergencyFallback(tenantID, message string) error {
	data, err := json.Marshal(map[string]any{
		"tenant_id": tenantID,
		"message":   message,
		"fallback":  true,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fallback notification: %w", err)
	}
	if err := b.conn.Publish("aegis.emergency."+tenantID, data); err != nil {
		return fmt.Errorf("failed to publish fallback notification: %w", err)
	}
	return nil
}

// SubscribeUserResponses listens on aegis.response.<tenant> for inbound
// user-response events published by the delivery front end and hands the
// tenant ID to fn. Core NATS, not JetStream: a missed event only delays
// cancelling an escalation follow-up, it never loses data.
func (b *Bus) SubscribeUserResponses(fn func(tenantID string)) (*nats.Subscription, error) {
	sub, err := b.conn.Subscribe("aegis.response.*", func(msg *nats.Msg) {
		parts := strings.Split(msg.Subject, ".")
		tenantID := parts[len(parts)-1]
		if tenantID != "" {
			fn(tenantID)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to user responses: %w", err)
	}
	return sub, nil
}

// Close drains and closes the connection.
func (b *Bus) Close() {
	if b.conn != nil && !b.conn.IsClosed() {
		if err := b.conn.Drain(); err != nil {
			log.Printf("[MessageBus] drain failed: %v", err)
			b.conn.Close()
		}
	}
}
