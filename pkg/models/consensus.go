package models

import "time"

// VoteDecision is a single validator's verdict.
type VoteDecision string

const (
	VoteApprove  VoteDecision = "approve"
	VoteReject   VoteDecision = "reject"
	VoteEscalate VoteDecision = "escalate"
)

// ValidatorVote is one judgment source's answer for one gated action.
// A validator that errors or times out is recorded as an escalate vote
// with confidence 0; it can never push the outcome toward approve.
type ValidatorVote struct {
	ValidatorID string        `json:"validator_id"`
	Decision    VoteDecision  `json:"decision"`
	Reasoning   string        `json:"reasoning,omitempty"`
	Confidence  float64       `json:"confidence"`
	Latency     time.Duration `json:"latency"`
}

// ConsensusResult aggregates the parallel votes for one gated action.
// Latency is the maximum vote latency since the fan-out is parallel.
type ConsensusResult struct {
	Decision             VoteDecision    `json:"decision"`
	Votes                []ValidatorVote `json:"votes"`
	AgreementCount       int             `json:"agreement_count"`
	TotalValidators      int             `json:"total_validators"`
	SupermajorityReached bool            `json:"supermajority_reached"`
	ReasoningSummary     string          `json:"reasoning_summary,omitempty"`
	Latency              time.Duration   `json:"latency"`
}
