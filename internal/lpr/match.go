package lpr

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

var nonAlnum = regexp.MustCompile(`[^a-z0-9]`)

// Vehicle is the normalised view of one vehicle detection
type Vehicle struct {
	LicensePlate string
	Make         string
	Model        string
	Color        string
	Timestamp    int64
	AlertID      string
	Direction    string
}

// Match is the event recorded when a trigger fires
type Match struct {
	TriggerID    string `json:"trigger_id"`
	CameraID     string `json:"camera_id"`
	EventID      string `json:"event_id"`
	LicensePlate string `json:"license_plate"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Color        string `json:"color"`
	Timestamp    int64  `json:"timestamp"`
	AlertID      string `json:"alertid"`
	Direction    string `json:"direction"`
	RecordingURL string `json:"recording_url"`
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// ParseVehicle returns the first detection carrying any vehicle attribute
func ParseVehicle(detections []videoloft.VehicleDetection) (Vehicle, bool) {
	for _, d := range detections {
		v := Vehicle{
			LicensePlate: normalize(d.LicencePlate),
			Make:         normalize(d.Make),
			Model:        normalize(d.Model),
			Color:        normalize(d.Colour),
			Timestamp:    d.StillTimeMs,
			AlertID:      d.AlertID,
			Direction:    normalize(d.Direction),
		}
		if v.Direction == "" {
			v.Direction = "unknown"
		}
		if v.LicensePlate != "" || v.Make != "" || v.Model != "" || v.Color != "" {
			return v, true
		}
	}
	return Vehicle{}, false
}

// Matches reports whether a vehicle satisfies a trigger: equal plates, or
// make, model and colour all set on the trigger and all equal
func Matches(t state.LPRTrigger, v Vehicle) bool {
	if plate := normalize(t.LicensePlate); plate != "" && plate == normalize(v.LicensePlate) {
		return true
	}

	mk, model, color := normalize(t.Make), normalize(t.Model), normalize(t.Color)
	if mk == "" || model == "" || color == "" {
		return false
	}
	return mk == normalize(v.Make) && model == normalize(v.Model) && color == normalize(v.Color)
}

// RecordingURL links to the vendor's vehicle view for a detection
func RecordingURL(plate string, timestamp int64, uidd string) string {
	clean := "unknown"
	if p := normalize(plate); p != "" {
		clean = nonAlnum.ReplaceAllString(p, "")
	}
	if timestamp < 0 {
		timestamp = 0
	}
	if uidd == "" {
		uidd = "unknown"
	}
	return fmt.Sprintf("https://app.videoloft.com/vehicles/%s?time=%d&uidd=%s", clean, timestamp, uidd)
}

func newMatch(t state.LPRTrigger, eventID string, v Vehicle) Match {
	return Match{
		TriggerID:    t.ID,
		CameraID:     t.CameraID,
		EventID:      eventID,
		LicensePlate: v.LicensePlate,
		Make:         v.Make,
		Model:        v.Model,
		Color:        v.Color,
		Timestamp:    v.Timestamp,
		AlertID:      v.AlertID,
		Direction:    v.Direction,
		RecordingURL: RecordingURL(v.LicensePlate, v.Timestamp, t.CameraID),
	}
}
