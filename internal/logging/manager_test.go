package logging

import (
	"testing"
)

func TestLogAndGetRecent(t *testing.T) {
	m := NewManager(nil)

	m.Info("queue", "item emitted", map[string]any{"tenant_id": "t1"})
	m.Warn("dispatch", "lease near expiry", nil)
	m.Error("executor", "delivery failed", nil)

	entries := m.GetRecent(10, "", "")
	if len(entries) != 3 {
		t.Fatalf("GetRecent() returned %d entries, want 3", len(entries))
	}
	// Newest first.
	if entries[0].Source != "executor" {
		t.Errorf("newest entry source = %q, want executor", entries[0].Source)
	}
}

func TestGetRecentFilters(t *testing.T) {
	m := NewManager(nil)

	m.Info("queue", "a", nil)
	m.Error("queue", "b", nil)
	m.Error("consensus", "c", nil)

	errors := m.GetRecent(10, LevelError, "")
	if len(errors) != 2 {
		t.Errorf("level filter returned %d entries, want 2", len(errors))
	}

	queue := m.GetRecent(10, "", "queue")
	if len(queue) != 2 {
		t.Errorf("source filter returned %d entries, want 2", len(queue))
	}
}

func TestAddHandler(t *testing.T) {
	m := NewManager(nil)

	got := make(chan Entry, 1)
	m.AddHandler(func(e Entry) { got <- e })

	m.Info("feedback", "params adjusted", nil)

	entry := <-got
	if entry.Message != "params adjusted" {
		t.Errorf("handler received message %q, want %q", entry.Message, "params adjusted")
	}
}
