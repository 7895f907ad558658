package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// EventDescription is the AI description of one vendor event
type EventDescription struct {
	EventID      string
	CameraID     string
	LoggerServer string
	Description  string
	EventStart   time.Time
}

// SaveDescription stores a description. An existing description for the
// same event is kept.
func (m *Manager) SaveDescription(ctx context.Context, d EventDescription) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	query := `
		INSERT INTO event_descriptions (event_id, camera_id, logger_server, description, event_start)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`

	_, err := m.db.GetDB().ExecContext(ctx, query,
		d.EventID, d.CameraID, d.LoggerServer, d.Description, d.EventStart.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save description: %w", err)
	}

	return nil
}

// GetDescription returns the description for eventID, or nil
func (m *Manager) GetDescription(ctx context.Context, eventID string) (*EventDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	query := `
		SELECT event_id, camera_id, logger_server, description, event_start
		FROM event_descriptions WHERE event_id = ?
	`

	d, err := scanDescription(m.db.GetDB().QueryRowContext(ctx, query, eventID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get description: %w", err)
	}
	return d, nil
}

// DescribedEventIDs returns the set of event ids that already have a description
func (m *Manager) DescribedEventIDs(ctx context.Context) (map[string]struct{}, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rows, err := m.db.GetDB().QueryContext(ctx, `SELECT event_id FROM event_descriptions`)
	if err != nil {
		return nil, fmt.Errorf("failed to list described events: %w", err)
	}
	defer rows.Close()

	ids := make(map[string]struct{})
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// HasDescription reports whether eventID has a description
func (m *Manager) HasDescription(ctx context.Context, eventID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	err := m.db.GetDB().QueryRowContext(ctx,
		`SELECT COUNT(*) FROM event_descriptions WHERE event_id = ?`, eventID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to check description: %w", err)
	}
	return n > 0, nil
}

// SearchDescriptions returns descriptions containing query, case-insensitively,
// newest first
func (m *Manager) SearchDescriptions(ctx context.Context, query string) ([]EventDescription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q := `
		SELECT event_id, camera_id, logger_server, description, event_start
		FROM event_descriptions
		WHERE instr(lower(description), lower(?)) > 0
		ORDER BY event_start DESC
	`

	rows, err := m.db.GetDB().QueryContext(ctx, q, query)
	if err != nil {
		return nil, fmt.Errorf("failed to search descriptions: %w", err)
	}
	defer rows.Close()

	var results []EventDescription
	for rows.Next() {
		d, err := scanDescription(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, *d)
	}
	return results, rows.Err()
}

// CountDescriptions returns the number of stored descriptions
func (m *Manager) CountDescriptions(ctx context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int
	if err := m.db.GetDB().QueryRowContext(ctx, `SELECT COUNT(*) FROM event_descriptions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count descriptions: %w", err)
	}
	return n, nil
}

// ClearDescriptions deletes every description and returns how many were removed
func (m *Manager) ClearDescriptions(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.GetDB().ExecContext(ctx, `DELETE FROM event_descriptions`)
	if err != nil {
		return 0, fmt.Errorf("failed to clear descriptions: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDescription(row rowScanner) (*EventDescription, error) {
	var d EventDescription
	var start int64
	if err := row.Scan(&d.EventID, &d.CameraID, &d.LoggerServer, &d.Description, &start); err != nil {
		return nil, err
	}
	d.EventStart = time.UnixMilli(start)
	return &d, nil
}
