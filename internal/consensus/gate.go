package consensus

import (
	"context"
	"log"
	"time"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// AuditStore persists gate decisions. Implemented by *database.Database.
type AuditStore interface {
	InsertConsensusAudit(ctx context.Context, tenantID, actionType, domain, description string, result *models.ConsensusResult) error
}

// Gate fans a request out to every validator in parallel and aggregates
// the votes once all have answered or timed out. There is no unbounded
// wait: a validator that misses the timeout contributes an escalate vote
// with confidence 0.
type Gate struct {
	validators []Validator
	timeout    time.Duration
	audit      AuditStore
	metrics    *metrics.Metrics
}

// NewGate creates a gate. audit may be nil.
func NewGate(validators []Validator, timeout time.Duration, audit AuditStore) *Gate {
	return &Gate{
		validators: validators,
		timeout:    timeout,
		audit:      audit,
		metrics:    metrics.Get(),
	}
}

// Decide collects all votes and aggregates them. The returned result is
// also written to the audit store; audit failures are logged, not fatal,
// since the decision itself is already made.
func (g *Gate) Decide(ctx context.Context, req Request) (*models.ConsensusResult, error) {
	votes := make([]models.ValidatorVote, len(g.validators))

	done := make(chan int, len(g.validators))
	for i, v := range g.validators {
		go func(i int, v Validator) {
			votes[i] = g.collectVote(ctx, v, req)
			done <- i
		}(i, v)
	}
	for range g.validators {
		<-done
	}

	result := Aggregate(votes)

	for _, v := range votes {
		g.metrics.ConsensusVotes.WithLabelValues(string(v.Decision)).Inc()
	}
	g.metrics.ConsensusDecisions.WithLabelValues(string(result.Decision)).Inc()
	g.metrics.ConsensusLatency.Observe(result.Latency.Seconds())

	if g.audit != nil {
		if err := g.audit.InsertConsensusAudit(ctx, req.TenantID, req.ActionType, req.Domain, req.Description, result); err != nil {
			log.Printf("[Consensus] failed to persist audit record: %v", err)
		}
	}
	return result, nil
}

// collectVote runs one validator under the per-validator timeout. Errors
// and timeouts become escalate votes with confidence 0 so a broken
// validator can never push the outcome toward approve. The timeout is
// enforced here, not just passed down: a validator that ignores its
// deadline is cut off and its eventual answer dropped.
func (g *Gate) collectVote(ctx context.Context, v Validator, req Request) models.ValidatorVote {
	vctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type answer struct {
		vote models.ValidatorVote
		err  error
	}
	// Buffered so a late validator goroutine can still finish and exit.
	ch := make(chan answer, 1)

	start := time.Now()
	go func() {
		vote, err := v.Evaluate(vctx, req)
		ch <- answer{vote: vote, err: err}
	}()

	var vote models.ValidatorVote
	var err error
	select {
	case a := <-ch:
		vote, err = a.vote, a.err
	case <-vctx.Done():
		err = vctx.Err()
	}
	elapsed := time.Since(start)

	if err != nil {
		log.Printf("[Consensus] validator %s failed, counting as escalate: %v", v.ID(), err)
		return models.ValidatorVote{
			ValidatorID: v.ID(),
			Decision:    models.VoteEscalate,
			Reasoning:   "validator unavailable",
			Confidence:  0,
			Latency:     elapsed,
		}
	}

	vote.ValidatorID = v.ID()
	vote.Latency = elapsed
	switch vote.Decision {
	case models.VoteApprove, models.VoteReject, models.VoteEscalate:
	default:
		// An out-of-contract answer is treated like a failure.
		vote.Decision = models.VoteEscalate
		vote.Confidence = 0
	}
	return vote
}
