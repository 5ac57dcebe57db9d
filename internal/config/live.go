package config

import "sync/atomic"

// Tunables are the config sections that may change while the daemon is
// running. Everything else (connection targets, worker count, the cycle
// cap, the feedback window) needs a restart.
type Tunables struct {
	Cycle    CycleConfig
	Feedback FeedbackConfig
	Quiet    QuietConfig
}

// Live holds the current tunables as an atomic snapshot. The config
// watcher is the only writer; workers and schedulers read a consistent
// copy per use, so a reload never races a reader.
type Live struct {
	v atomic.Pointer[Tunables]
}

// NewLive seeds the snapshot from cfg.
func NewLive(cfg *Config) *Live {
	l := &Live{}
	l.Update(cfg)
	return l
}

// Update replaces the snapshot with the tunable sections of cfg.
func (l *Live) Update(cfg *Config) {
	t := Tunables{Cycle: cfg.Cycle, Feedback: cfg.Feedback, Quiet: cfg.Quiet}
	l.v.Store(&t)
}

// Snapshot returns the current tunables by value.
func (l *Live) Snapshot() Tunables {
	return *l.v.Load()
}
