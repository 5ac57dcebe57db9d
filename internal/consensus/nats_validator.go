package consensus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// NATSValidator reaches an external judgment service over NATS
// request/reply. Each validator listens on its own subject
// (aegis.judgment.<name>) so the sources stay independent.
type NATSValidator struct {
	name string
	conn *nats.Conn
}

// NewNATSValidator creates a validator bound to aegis.judgment.<name>.
func NewNATSValidator(name string, conn *nats.Conn) *NATSValidator {
	return &NATSValidator{name: name, conn: conn}
}

// ID implements Validator.
func (v *NATSValidator) ID() string { return v.name }

// judgmentReply is the wire shape a judgment service answers with.
type judgmentReply struct {
	Decision   string  `json:"decision"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
}

// Evaluate implements Validator. The gate's per-validator timeout arrives
// through ctx; a missing or late reply surfaces as an error and is folded
// into an escalate vote by the gate.
func (v *NATSValidator) Evaluate(ctx context.Context, req Request) (models.ValidatorVote, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return models.ValidatorVote{}, fmt.Errorf("failed to marshal judgment request: %w", err)
	}

	msg, err := v.conn.RequestWithContext(ctx, "aegis.judgment."+v.name, payload)
	if err != nil {
		return models.ValidatorVote{}, fmt.Errorf("judgment request to %s failed: %w", v.name, err)
	}

	var reply judgmentReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return models.ValidatorVote{}, fmt.Errorf("failed to decode judgment reply from %s: %w", v.name, err)
	}

	return models.ValidatorVote{
		ValidatorID: v.name,
		Decision:    models.VoteDecision(reply.Decision),
		Reasoning:   reply.Reasoning,
		Confidence:  reply.Confidence,
	}, nil
}
