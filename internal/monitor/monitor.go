// Package monitor pulls all signal collectors concurrently and assembles
// their output into one snapshot. Each collector has its own failure
// boundary: a slow or broken source degrades the snapshot instead of
// aborting the cycle.
package monitor

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jordanhubbard/aegis/internal/metrics"
	"github.com/jordanhubbard/aegis/pkg/models"
)

// Collector is one signal source. Collect writes only its own snapshot
// section; the monitor records the per-source status.
type Collector interface {
	Name() string
	Collect(ctx context.Context, tenantID string, snap *models.Snapshot) error
}

// Monitor runs the collector set for a tenant.
type Monitor struct {
	collectors []Collector
	timeout    time.Duration
	metrics    *metrics.Metrics
}

// New creates a monitor with a per-collector timeout.
func New(collectors []Collector, timeout time.Duration) *Monitor {
	return &Monitor{collectors: collectors, timeout: timeout, metrics: metrics.Get()}
}

// Snapshot runs every collector concurrently and returns the assembled
// snapshot. It never returns an error: failures land in snap.Sources as
// explicit unavailable markers.
func (m *Monitor) Snapshot(ctx context.Context, tenantID string) *models.Snapshot {
	snap := &models.Snapshot{
		TenantID: tenantID,
		TakenAt:  time.Now(),
		Sources:  make(map[string]models.SourceStatus, len(m.collectors)),
	}

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, c := range m.collectors {
		wg.Add(1)
		go func(c Collector) {
			defer wg.Done()
			status := m.collect(ctx, c, tenantID, snap)
			mu.Lock()
			snap.Sources[c.Name()] = status
			mu.Unlock()
		}(c)
	}
	wg.Wait()
	return snap
}

// collect runs one collector under its timeout, recovering panics so a
// single source cannot take down the cycle.
func (m *Monitor) collect(ctx context.Context, c Collector, tenantID string, snap *models.Snapshot) (status models.SourceStatus) {
	cctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	start := time.Now()
	status = models.SourceStatus{Collector: c.Name()}

	defer func() {
		status.Duration = time.Since(start)
		m.metrics.CollectorDuration.WithLabelValues(c.Name()).Observe(status.Duration.Seconds())
		if r := recover(); r != nil {
			status.OK = false
			status.Error = fmt.Sprintf("panic: %v", r)
			m.metrics.CollectorFailures.WithLabelValues(c.Name()).Inc()
			log.Printf("[Monitor] collector %s panicked: %v", c.Name(), r)
		}
	}()

	if err := c.Collect(cctx, tenantID, snap); err != nil {
		status.Error = err.Error()
		m.metrics.CollectorFailures.WithLabelValues(c.Name()).Inc()
		log.Printf("[Monitor] collector %s failed: %v", c.Name(), err)
		return status
	}
	status.OK = true
	return status
}
