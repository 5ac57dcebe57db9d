// Package permission decides whether a proposed action may auto-run,
// needs user confirmation, or is denied, based on the tenant's wildcard
// grant patterns.
package permission

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// nowFunc is swappable for expiry tests.
var nowFunc = time.Now

// Store is the grant persistence the model depends on. Implemented by
// *database.Database; tests supply fakes.
type Store interface {
	ListGrants(ctx context.Context, tenantID string) ([]models.PermissionGrant, error)
	SeedGrants(ctx context.Context, tenantID string, grants []models.PermissionGrant) error
	RecordGrantUse(ctx context.Context, grantID string) error
}

// Model evaluates actions against stored grants. Grant lookups go through
// an optional redis cache; the database advisory lock guards first-use
// seeding across processes.
type Model struct {
	store   Store
	cache   *GrantCache
	metrics *metrics.Metrics
}

// NewModel creates a permission model. cache may be nil.
func NewModel(store Store, cache *GrantCache) *Model {
	return &Model{store: store, cache: cache, metrics: metrics.Get()}
}

// MatchesPattern reports whether a grant pattern covers an action string.
// A pattern ending in * matches any suffix; "*" alone matches everything.
func MatchesPattern(pattern, action string) bool {
	if pattern == action || pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(action, strings.TrimSuffix(pattern, "*"))
	}
	return false
}

// IsActionPermitted matches action_type:domain against the tenant's
// grants. A tenant with no grants gets the conservative default set
// seeded first. No matching grant means denied.
func (m *Model) IsActionPermitted(ctx context.Context, tenantID, actionType, domain string) (models.Decision, *models.PermissionGrant, error) {
	grants, err := m.loadGrants(ctx, tenantID)
	if err != nil {
		return models.DecisionDenied, nil, err
	}

	if len(grants) == 0 {
		if err := m.store.SeedGrants(ctx, tenantID, DefaultGrants(tenantID)); err != nil {
			return models.DecisionDenied, nil, fmt.Errorf("failed to seed default grants: %w", err)
		}
		if m.cache != nil {
			m.cache.Invalidate(ctx, tenantID)
		}
		if grants, err = m.store.ListGrants(ctx, tenantID); err != nil {
			return models.DecisionDenied, nil, err
		}
	}

	action := actionType + ":" + domain
	grant := bestMatch(grants, action)
	decision := decide(grant)

	if decision == models.DecisionPermitted && grant != nil {
		if err := m.store.RecordGrantUse(ctx, grant.ID); err != nil {
			log.Printf("[Permission] failed to record grant use: %v", err)
		}
	}

	m.metrics.PermissionChecks.WithLabelValues(string(decision)).Inc()
	return decision, grant, nil
}

// bestMatch picks the most specific matching grant: an exact pattern wins
// over a wildcard, and a longer wildcard prefix wins over a shorter one.
func bestMatch(grants []models.PermissionGrant, action string) *models.PermissionGrant {
	var best *models.PermissionGrant
	bestLen := -1
	for i := range grants {
		g := &grants[i]
		if !MatchesPattern(g.ActionPattern, action) {
			continue
		}
		if g.ActionPattern == action {
			return g
		}
		if len(g.ActionPattern) > bestLen {
			best = g
			bestLen = len(g.ActionPattern)
		}
	}
	return best
}

func decide(grant *models.PermissionGrant) models.Decision {
	if grant == nil || !grant.Granted {
		return models.DecisionDenied
	}
	if grant.Expired(nowFunc()) || grant.OverDailyLimit() || grant.RequiresConfirmation {
		return models.DecisionRequiresConfirmation
	}
	return models.DecisionPermitted
}

func (m *Model) loadGrants(ctx context.Context, tenantID string) ([]models.PermissionGrant, error) {
	if m.cache != nil {
		if grants, ok := m.cache.Get(ctx, tenantID); ok {
			m.metrics.GrantCacheHits.Inc()
			return grants, nil
		}
		m.metrics.GrantCacheMisses.Inc()
	}

	grants, err := m.store.ListGrants(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load grants: %w", err)
	}
	if m.cache != nil && len(grants) > 0 {
		m.cache.Set(ctx, tenantID, grants)
	}
	return grants, nil
}
