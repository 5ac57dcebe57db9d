// Package consensus gates high-risk actions behind a parallel vote of
// independent judgment sources. Approval requires a 2/3 supermajority;
// anything less escalates to the user.
package consensus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jordanhubbard/aegis/pkg/models"
)

// Request describes the action being judged.
type Request struct {
	TenantID    string `json:"tenant_id"`
	ActionType  string `json:"action_type"`
	Domain      string `json:"domain,omitempty"`
	Description string `json:"description"`
	RiskContext string `json:"risk_context,omitempty"`
}

// Validator is one independent judgment source. Evaluate must respect the
// context deadline; the gate folds errors and timeouts into escalate
// votes rather than propagating them.
type Validator interface {
	ID() string
	Evaluate(ctx context.Context, req Request) (models.ValidatorVote, error)
}

// FuncValidator adapts a function to the Validator interface.
type FuncValidator struct {
	Name string
	Fn   func(ctx context.Context, req Request) (models.ValidatorVote, error)
}

// ID implements Validator.
func (v *FuncValidator) ID() string { return v.Name }

// Evaluate implements Validator.
func (v *FuncValidator) Evaluate(ctx context.Context, req Request) (models.ValidatorVote, error) {
	return v.Fn(ctx, req)
}

// highRiskActions is the fixed set of action types that replace the
// requires_confirmation path with a consensus vote.
var highRiskActions = map[string]bool{
	"spend_money":    true,
	"send_money":     true,
	"make_call":      true,
	"grant_autonomy": true,
	"delete_data":    true,
	"share_data":     true,
	"cancel_service": true,
}

// RequiresConsensus reports whether the action type is in the high-risk set.
func RequiresConsensus(actionType string) bool {
	return highRiskActions[actionType]
}

// supermajority returns the vote count needed for a 2/3 supermajority,
// rounded up.
func supermajority(total int) int {
	return (2*total + 2) / 3
}

// Aggregate folds a complete vote set into a ConsensusResult. Approve and
// reject each need a supermajority; everything else, including splits and
// escalate votes, resolves to escalate. Latency is the maximum vote
// latency since the fan-out is parallel.
func Aggregate(votes []models.ValidatorVote) *models.ConsensusResult {
	total := len(votes)
	threshold := supermajority(total)

	var approves, rejects, escalates int
	var maxLatency time.Duration
	for _, v := range votes {
		switch v.Decision {
		case models.VoteApprove:
			approves++
		case models.VoteReject:
			rejects++
		default:
			escalates++
		}
		if v.Latency > maxLatency {
			maxLatency = v.Latency
		}
	}

	result := &models.ConsensusResult{
		Votes:           votes,
		TotalValidators: total,
		Latency:         maxLatency,
	}

	switch {
	case approves >= threshold:
		result.Decision = models.VoteApprove
		result.AgreementCount = approves
		result.SupermajorityReached = true
	case rejects >= threshold:
		result.Decision = models.VoteReject
		result.AgreementCount = rejects
		result.SupermajorityReached = true
	default:
		result.Decision = models.VoteEscalate
		result.AgreementCount = maxInt(approves, rejects, escalates)
	}

	result.ReasoningSummary = summarize(votes, approves, rejects, escalates)
	return result
}

func summarize(votes []models.ValidatorVote, approves, rejects, escalates int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d approve, %d reject, %d escalate", approves, rejects, escalates)
	for _, v := range votes {
		if v.Reasoning == "" {
			continue
		}
		fmt.Fprintf(&b, "; %s: %s", v.ValidatorID, v.Reasoning)
	}
	return b.String()
}

func maxInt(nums ...int) int {
	m := 0
	for _, n := range nums {
		if n > m {
			m = n
		}
	}
	return m
}
