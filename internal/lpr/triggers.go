package lpr

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/vzahanych/videoloft-bridge/internal/state"
)

// ErrTriggerNotFound is returned for unknown trigger ids
var ErrTriggerNotFound = errors.New("trigger not found")

// ValidationError reports an unusable trigger definition
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// TriggerStore persists triggers
type TriggerStore interface {
	SaveTrigger(ctx context.Context, t state.LPRTrigger) error
	GetTrigger(ctx context.Context, id string) (*state.LPRTrigger, error)
	ListTriggers(ctx context.Context) ([]state.LPRTrigger, error)
	DeleteTrigger(ctx context.Context, id string) (bool, error)
}

// TriggerInput is a create or update request. UIDD is accepted as an alias
// of CameraID.
type TriggerInput struct {
	CameraID     string `json:"camera_id"`
	UIDD         string `json:"uidd"`
	LicensePlate string `json:"license_plate"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	Enabled      *bool  `json:"enabled"`
}

func (in TriggerInput) camera() string {
	if in.CameraID != "" {
		return in.CameraID
	}
	return in.UIDD
}

func (m *Monitor) validate(ctx context.Context, t *state.LPRTrigger) error {
	t.CameraID = normalizeID(t.CameraID)
	t.LicensePlate = normalize(t.LicensePlate)
	t.Make = normalize(t.Make)
	t.Model = normalize(t.Model)
	t.Color = normalize(t.Color)

	if t.CameraID == "" {
		return &ValidationError{Field: "camera_id", Message: "is required"}
	}
	if _, ok := m.cameras.LoggerServer(ctx, t.CameraID); !ok {
		return &ValidationError{Field: "camera_id", Message: "unknown camera " + t.CameraID}
	}
	if t.LicensePlate == "" && t.Make == "" && t.Model == "" && t.Color == "" {
		return &ValidationError{Field: "trigger", Message: "one of license_plate, make, model or color is required"}
	}
	return nil
}

// CreateTrigger validates and stores a new trigger
func (m *Monitor) CreateTrigger(ctx context.Context, in TriggerInput) (*state.LPRTrigger, error) {
	t := state.LPRTrigger{
		ID:           uuid.New().String(),
		CameraID:     in.camera(),
		LicensePlate: in.LicensePlate,
		Make:         in.Make,
		Model:        in.Model,
		Color:        in.Color,
		Enabled:      true,
	}
	if in.Enabled != nil {
		t.Enabled = *in.Enabled
	}
	if err := m.validate(ctx, &t); err != nil {
		return nil, err
	}
	if err := m.store.SaveTrigger(ctx, t); err != nil {
		return nil, err
	}

	m.LogInfo("LPR trigger created", "id", t.ID, "camera", t.CameraID)
	return m.store.GetTrigger(ctx, t.ID)
}

// UpdateTrigger replaces the fields of an existing trigger
func (m *Monitor) UpdateTrigger(ctx context.Context, id string, in TriggerInput) (*state.LPRTrigger, error) {
	existing, err := m.store.GetTrigger(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, ErrTriggerNotFound
	}

	t := *existing
	if cam := in.camera(); cam != "" {
		t.CameraID = cam
	}
	t.LicensePlate = in.LicensePlate
	t.Make = in.Make
	t.Model = in.Model
	t.Color = in.Color
	if in.Enabled != nil {
		t.Enabled = *in.Enabled
	}
	if err := m.validate(ctx, &t); err != nil {
		return nil, err
	}
	if err := m.store.SaveTrigger(ctx, t); err != nil {
		return nil, err
	}

	m.LogInfo("LPR trigger updated", "id", t.ID, "camera", t.CameraID, "enabled", t.Enabled)
	return m.store.GetTrigger(ctx, t.ID)
}

// DeleteTrigger removes a trigger
func (m *Monitor) DeleteTrigger(ctx context.Context, id string) error {
	ok, err := m.store.DeleteTrigger(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrTriggerNotFound
	}
	m.LogInfo("LPR trigger deleted", "id", id)
	return nil
}

// Triggers lists all triggers
func (m *Monitor) Triggers(ctx context.Context) ([]state.LPRTrigger, error) {
	return m.store.ListTriggers(ctx)
}
