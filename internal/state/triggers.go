package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// LPRTrigger is a user configured licence plate / vehicle match rule
type LPRTrigger struct {
	ID           string    `json:"id"`
	CameraID     string    `json:"camera_id"`
	LicensePlate string    `json:"license_plate"`
	Make         string    `json:"make"`
	Model        string    `json:"model"`
	Color        string    `json:"color"`
	Enabled      bool      `json:"enabled"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// SaveTrigger inserts or updates a trigger
func (m *Manager) SaveTrigger(ctx context.Context, t LPRTrigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO lpr_triggers (id, camera_id, license_plate, make, model, color, enabled, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			camera_id = excluded.camera_id,
			license_plate = excluded.license_plate,
			make = excluded.make,
			model = excluded.model,
			color = excluded.color,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		t.ID, t.CameraID, t.LicensePlate, t.Make, t.Model, t.Color, t.Enabled, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to save trigger: %w", err)
	}
	return nil
}

// GetTrigger returns a trigger by id, or nil
func (m *Manager) GetTrigger(ctx context.Context, id string) (*LPRTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, camera_id, license_plate, make, model, color, enabled, created_at, updated_at
		FROM lpr_triggers WHERE id = ?
	`

	var t LPRTrigger
	err := m.db.GetDB().QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.CameraID, &t.LicensePlate, &t.Make, &t.Model, &t.Color, &t.Enabled, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trigger: %w", err)
	}
	return &t, nil
}

// ListTriggers returns all triggers in creation order
func (m *Manager) ListTriggers(ctx context.Context) ([]LPRTrigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT id, camera_id, license_plate, make, model, color, enabled, created_at, updated_at
		FROM lpr_triggers ORDER BY created_at, id
	`

	rows, err := m.db.GetDB().QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list triggers: %w", err)
	}
	defer rows.Close()

	triggers := make([]LPRTrigger, 0)
	for rows.Next() {
		var t LPRTrigger
		if err := rows.Scan(
			&t.ID, &t.CameraID, &t.LicensePlate, &t.Make, &t.Model, &t.Color, &t.Enabled, &t.CreatedAt, &t.UpdatedAt,
		); err != nil {
			return nil, err
		}
		triggers = append(triggers, t)
	}
	return triggers, rows.Err()
}

// DeleteTrigger removes a trigger and reports whether it existed
func (m *Manager) DeleteTrigger(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM lpr_triggers WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete trigger: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
