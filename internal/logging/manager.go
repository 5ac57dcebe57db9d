// Package logging buffers structured log entries in memory and persists
// them to the aegis_logs table for later inspection.
package logging

import (
	"container/ring"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"
)

const (
	// MaxBufferSize is the number of entries kept in memory.
	MaxBufferSize = 10000

	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Entry is a single structured log record.
type Entry struct {
	ID        string         `json:"id"`
	Timestamp time.Time      `json:"timestamp"`
	Level     string         `json:"level"`
	Source    string         `json:"source"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Manager handles log collection, buffering, and persistence.
type Manager struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	db       *sql.DB
	handlers []func(Entry)
	seq      uint64
}

// NewManager creates a logging manager. db may be nil, in which case
// entries live only in the ring buffer.
func NewManager(db *sql.DB) *Manager {
	m := &Manager{
		buffer: ring.New(MaxBufferSize),
		db:     db,
	}
	if err := m.initSchema(); err != nil {
		log.Printf("[Logging] failed to initialize schema: %v", err)
	}
	return m
}

func (m *Manager) initSchema() error {
	if m.db == nil {
		return nil
	}

	_, err := m.db.Exec(`
		CREATE TABLE IF NOT EXISTS aegis_logs (
			id TEXT PRIMARY KEY,
			timestamp TIMESTAMPTZ NOT NULL,
			level TEXT NOT NULL,
			source TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata_json TEXT,
			tenant_id TEXT,
			work_item_id TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create aegis_logs table: %w", err)
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_aegis_logs_timestamp ON aegis_logs(timestamp DESC)",
		"CREATE INDEX IF NOT EXISTS idx_aegis_logs_level ON aegis_logs(level)",
		"CREATE INDEX IF NOT EXISTS idx_aegis_logs_tenant ON aegis_logs(tenant_id)",
		"CREATE INDEX IF NOT EXISTS idx_aegis_logs_work_item ON aegis_logs(work_item_id)",
	}
	for _, indexSQL := range indexes {
		if _, err := m.db.Exec(indexSQL); err != nil {
			log.Printf("[Logging] failed to create index: %v", err)
		}
	}
	return nil
}

// Log records an entry in the buffer, notifies handlers, and persists it
// asynchronously.
func (m *Manager) Log(level, source, message string, metadata map[string]any) {
	m.mu.Lock()
	m.seq++
	entry := Entry{
		ID:        fmt.Sprintf("log-%d-%d", time.Now().UnixNano(), m.seq),
		Timestamp: time.Now(),
		Level:     level,
		Source:    source,
		Message:   message,
		Metadata:  metadata,
	}
	m.buffer.Value = entry
	m.buffer = m.buffer.Next()
	handlers := m.handlers
	m.mu.Unlock()

	for _, handler := range handlers {
		go handler(entry)
	}
	go m.persist(entry)
}

func (m *Manager) persist(entry Entry) {
	if m.db == nil {
		return
	}

	var metadataJSON *string
	if len(entry.Metadata) > 0 {
		if data, err := json.Marshal(entry.Metadata); err == nil {
			s := string(data)
			metadataJSON = &s
		}
	}

	var tenantID, workItemID *string
	if v, ok := entry.Metadata["tenant_id"].(string); ok && v != "" {
		tenantID = &v
	}
	if v, ok := entry.Metadata["work_item_id"].(string); ok && v != "" {
		workItemID = &v
	}

	_, err := m.db.Exec(`
		INSERT INTO aegis_logs (id, timestamp, level, source, message, metadata_json, tenant_id, work_item_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, entry.ID, entry.Timestamp, entry.Level, entry.Source, entry.Message, metadataJSON, tenantID, workItemID)
	if err != nil {
		log.Printf("[Logging] failed to persist log entry: %v", err)
	}
}

// GetRecent returns up to limit buffered entries, newest first, optionally
// filtered by level and source.
func (m *Manager) GetRecent(limit int, levelFilter, sourceFilter string) []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 || limit > MaxBufferSize {
		limit = 100
	}

	entries := make([]Entry, 0, limit)
	m.buffer.Do(func(v any) {
		if v == nil {
			return
		}
		entry, ok := v.(Entry)
		if !ok {
			return
		}
		if levelFilter != "" && entry.Level != levelFilter {
			return
		}
		if sourceFilter != "" && entry.Source != sourceFilter {
			return
		}
		entries = append(entries, entry)
	})

	// Newest first.
	for i := 0; i < len(entries)/2; i++ {
		entries[i], entries[len(entries)-1-i] = entries[len(entries)-1-i], entries[i]
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Query returns persisted entries matching the filters, newest first.
func (m *Manager) Query(limit int, levelFilter, tenantID string, since time.Time) ([]Entry, error) {
	if m.db == nil {
		return m.GetRecent(limit, levelFilter, ""), nil
	}

	query := `SELECT id, timestamp, level, source, message, metadata_json FROM aegis_logs WHERE 1=1`
	args := make([]any, 0, 4)
	n := 0
	next := func() string {
		n++
		return fmt.Sprintf("$%d", n)
	}

	if !since.IsZero() {
		query += " AND timestamp >= " + next()
		args = append(args, since)
	}
	if levelFilter != "" {
		query += " AND level = " + next()
		args = append(args, levelFilter)
	}
	if tenantID != "" {
		query += " AND tenant_id = " + next()
		args = append(args, tenantID)
	}
	query += " ORDER BY timestamp DESC"
	if limit > 0 {
		query += " LIMIT " + next()
		args = append(args, limit)
	}

	rows, err := m.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query logs: %w", err)
	}
	defer rows.Close()

	entries := make([]Entry, 0)
	for rows.Next() {
		var entry Entry
		var metadataJSON *string
		if err := rows.Scan(&entry.ID, &entry.Timestamp, &entry.Level, &entry.Source, &entry.Message, &metadataJSON); err != nil {
			return nil, fmt.Errorf("failed to scan log entry: %w", err)
		}
		if metadataJSON != nil && *metadataJSON != "" {
			if err := json.Unmarshal([]byte(*metadataJSON), &entry.Metadata); err != nil {
				log.Printf("[Logging] failed to unmarshal log metadata: %v", err)
			}
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

// AddHandler registers a function called for every new entry.
func (m *Manager) AddHandler(handler func(Entry)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Debug logs a debug-level message.
func (m *Manager) Debug(source, message string, metadata map[string]any) {
	m.Log(LevelDebug, source, message, metadata)
}

// Info logs an info-level message.
func (m *Manager) Info(source, message string, metadata map[string]any) {
	m.Log(LevelInfo, source, message, metadata)
}

// Warn logs a warning-level message.
func (m *Manager) Warn(source, message string, metadata map[string]any) {
	m.Log(LevelWarn, source, message, metadata)
}

// Error logs an error-level message.
func (m *Manager) Error(source, message string, metadata map[string]any) {
	m.Log(LevelError, source, message, metadata)
}

// interceptWriter routes the standard log package through the manager so
// "[Component] message" output lands in the structured buffer too.
type interceptWriter struct {
	manager *Manager
}

func (w *interceptWriter) Write(p []byte) (int, error) {
	msg := strings.TrimSpace(string(p))
	if len(msg) > 20 && msg[4] == '/' && msg[7] == '/' && msg[10] == ' ' {
		msg = strings.TrimSpace(msg[20:])
	}

	level := LevelInfo
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "error") || strings.Contains(lower, "fail") {
		level = LevelError
	} else if strings.Contains(lower, "warn") {
		level = LevelWarn
	}

	source := "system"
	if len(msg) > 2 && msg[0] == '[' {
		if end := strings.Index(msg, "]"); end > 1 {
			source = strings.ToLower(msg[1:end])
			msg = strings.TrimSpace(msg[end+1:])
		}
	}

	w.manager.Log(level, source, msg, nil)
	return len(p), nil
}

// InstallLogInterceptor redirects the standard log package through this
// manager. Call once at startup.
func (m *Manager) InstallLogInterceptor() {
	log.SetOutput(&interceptWriter{manager: m})
	log.SetFlags(0)
}
