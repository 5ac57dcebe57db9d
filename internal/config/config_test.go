package config

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.Worker.Count)
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
	assert.Equal(t, 4, cfg.Consensus.ValidatorCount)
	assert.Equal(t, 24*time.Hour, cfg.Queue.CooldownWindow)
	assert.Equal(t, 22, cfg.Quiet.StartHour)
	assert.Equal(t, 8, cfg.Quiet.EndHour)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("worker:\n  count: 8\n  lease_duration: 2m\nquiet_hours:\n  start_hour: 21\n  end_hour: 7\n")
	require.NoError(t, os.WriteFile(path, data, 0644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Worker.Count)
	assert.Equal(t, 2*time.Minute, cfg.Worker.LeaseDuration)
	assert.Equal(t, 21, cfg.Quiet.StartHour)
	// Sections absent from the file keep defaults.
	assert.Equal(t, 3, cfg.Queue.MaxAttempts)
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("AEGIS_DATABASE_URL", "postgres://other:5432/aegis")
	t.Setenv("AEGIS_WORKER_COUNT", "2")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "postgres://other:5432/aegis", cfg.Database.URL)
	assert.Equal(t, 2, cfg.Worker.Count)
}

func TestValidateRejectsBadQuietHours(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("quiet_hours:\n  start_hour: 25\n"), 0644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLiveSnapshotReflectsUpdate(t *testing.T) {
	cfg := Default()
	live := NewLive(cfg)
	assert.Equal(t, cfg.Cycle.Interval, live.Snapshot().Cycle.Interval)

	next := Default()
	next.Cycle.Interval = time.Minute
	next.Quiet = QuietConfig{StartHour: 0, EndHour: 0}
	live.Update(next)

	snap := live.Snapshot()
	assert.Equal(t, time.Minute, snap.Cycle.Interval)
	assert.Equal(t, 0, snap.Quiet.StartHour)
}

func TestLiveSnapshotsAreNeverTorn(t *testing.T) {
	a := Default()
	b := Default()
	b.Cycle.Interval = time.Minute
	b.Feedback.Interval = time.Hour
	b.Quiet = QuietConfig{StartHour: 1, EndHour: 2}

	live := NewLive(a)
	stop := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(stop)
		for i := 0; i < 5000; i++ {
			live.Update(a)
			live.Update(b)
		}
	}()

	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				snap := live.Snapshot()
				matchesA := snap.Cycle == a.Cycle && snap.Feedback == a.Feedback && snap.Quiet == a.Quiet
				matchesB := snap.Cycle == b.Cycle && snap.Feedback == b.Feedback && snap.Quiet == b.Quiet
				if !matchesA && !matchesB {
					t.Errorf("snapshot mixes two configs: %+v", snap)
					return
				}
			}
		}()
	}
	wg.Wait()
}
