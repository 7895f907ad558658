package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/vzahanych/videoloft-bridge/internal/logger"
)

const keyStreamsEnabled = "global_stream_enabled"

// Manager manages persisted bridge state
type Manager struct {
	db     *Database
	logger *logger.Logger
	mu     sync.RWMutex
}

// NewManager opens the state database under dataDir
func NewManager(dataDir string, log *logger.Logger) (*Manager, error) {
	dbPath := filepath.Join(dataDir, "db", "bridge.db")

	db, err := NewDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	return &Manager{
		db:     db,
		logger: log.Named("state"),
	}, nil
}

// Close closes the state manager and database
func (m *Manager) Close() error {
	return m.db.Close()
}

// GetDB returns the database connection
func (m *Manager) GetDB() *sql.DB {
	return m.db.GetDB()
}

// SaveSystemState saves a system state value
func (m *Manager) SaveSystemState(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query, key, value, time.Now())
	if err != nil {
		return fmt.Errorf("failed to save system state: %w", err)
	}

	return nil
}

// GetSystemState retrieves a system state value, "" when absent
func (m *Manager) GetSystemState(ctx context.Context, key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var value string
	query := `SELECT value FROM system_state WHERE key = ?`
	err := m.db.GetDB().QueryRowContext(ctx, query, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get system state: %w", err)
	}

	return value, nil
}

// SaveJSON stores v as JSON under key
func (m *Manager) SaveJSON(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return m.SaveSystemState(ctx, key, string(data))
}

// LoadJSON decodes the JSON stored under key into v. It reports false
// when nothing is stored.
func (m *Manager) LoadJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	value, err := m.GetSystemState(ctx, key)
	if err != nil {
		return false, err
	}
	if value == "" {
		return false, nil
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return true, nil
}

// StreamsEnabled returns the global streaming switch, on by default
func (m *Manager) StreamsEnabled(ctx context.Context) (bool, error) {
	value, err := m.GetSystemState(ctx, keyStreamsEnabled)
	if err != nil {
		return true, err
	}
	return value != "false", nil
}

// SetStreamsEnabled persists the global streaming switch
func (m *Manager) SetStreamsEnabled(ctx context.Context, enabled bool) error {
	value := "true"
	if !enabled {
		value = "false"
	}
	return m.SaveSystemState(ctx, keyStreamsEnabled, value)
}

// Ping checks that the database answers
func (m *Manager) Ping(ctx context.Context) error {
	return m.db.GetDB().PingContext(ctx)
}

// RecoveredState summarizes the state found on startup
type RecoveredState struct {
	Descriptions int
	Triggers     int
	SystemState  map[string]string
}

// RecoverState loads a summary of persisted state on startup
func (m *Manager) RecoverState(ctx context.Context) (*RecoveredState, error) {
	m.logger.Info("Recovering persisted state")

	descriptions, err := m.CountDescriptions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count descriptions: %w", err)
	}

	triggers, err := m.ListTriggers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover triggers: %w", err)
	}

	systemState, err := m.recoverSystemState(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to recover system state: %w", err)
	}

	recovered := &RecoveredState{
		Descriptions: descriptions,
		Triggers:     len(triggers),
		SystemState:  systemState,
	}

	m.logger.Info("State recovery complete",
		"descriptions", recovered.Descriptions,
		"lpr_triggers", recovered.Triggers,
	)

	return recovered, nil
}

func (m *Manager) recoverSystemState(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT key, value FROM system_state`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	state := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		state[key] = value
	}

	return state, rows.Err()
}
