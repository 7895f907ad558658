package analysis

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

const dateLayout = "2006-01-02"

var (
	ErrDatesRequired = errors.New("start and end dates are required")
	ErrNoCameras     = errors.New("no cameras available for processing")
)

// Hour is an hour of day that decodes from a JSON number, a numeric string
// or an "HH:MM" string
type Hour struct {
	Value int
	Set   bool
}

func (h *Hour) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		h.Value, h.Set = int(n), true
		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("invalid hour %s", data)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid hour %q", s)
	}
	h.Value, h.Set = v, true
	return nil
}

// RawRequest is the JSON body accepted by the analysis and estimate routes
type RawRequest struct {
	Camera    string   `json:"camera"`
	Cameras   []string `json:"cameras"`
	StartDate string   `json:"start_date"`
	EndDate   string   `json:"end_date"`
	StartAlt  string   `json:"startDate"`
	EndAlt    string   `json:"endDate"`
	StartTime Hour     `json:"start_time"`
	EndTime   Hour     `json:"end_time"`
}

// Request is a validated analysis range
type Request struct {
	Cameras   []string
	StartDate time.Time
	EndDate   time.Time
	StartHour int
	EndHour   int
}

// Window returns start_date start_hour:00:00 .. end_date end_hour:59:59 in loc
func (r Request) Window(loc *time.Location) (time.Time, time.Time) {
	start := time.Date(r.StartDate.Year(), r.StartDate.Month(), r.StartDate.Day(), r.StartHour, 0, 0, 0, loc)
	end := time.Date(r.EndDate.Year(), r.EndDate.Month(), r.EndDate.Day(), r.EndHour, 59, 59, 0, loc)
	return start, end
}

// InHours reports whether t falls inside [StartHour, EndHour] in loc
func (r Request) InHours(t time.Time, loc *time.Location) bool {
	h := t.In(loc).Hour()
	return h >= r.StartHour && h <= r.EndHour
}

// DateRange renders the date span for estimates
func (r Request) DateRange() string {
	return fmt.Sprintf("%s to %s", r.StartDate.Format(dateLayout), r.EndDate.Format(dateLayout))
}

// TimeRange renders the hour span for estimates
func (r Request) TimeRange() string {
	return fmt.Sprintf("%02d:00 to %02d:59", r.StartHour, r.EndHour)
}

// ParseOptions controls how a RawRequest is resolved
type ParseOptions struct {
	DefaultStartHour int
	DefaultEndHour   int
	// ForceHours overrides any hours in the body with the defaults
	ForceHours bool
	// AllCameras lists every known camera, used when the body selects none
	AllCameras []string
}

// ParseRequest validates raw and resolves the camera selection and hours
func ParseRequest(raw RawRequest, opts ParseOptions) (Request, error) {
	startStr := firstNonEmpty(raw.StartDate, raw.StartAlt)
	endStr := firstNonEmpty(raw.EndDate, raw.EndAlt)
	if startStr == "" || endStr == "" {
		return Request{}, ErrDatesRequired
	}

	start, err := parseDate(startStr)
	if err != nil {
		return Request{}, fmt.Errorf("invalid start date: %w", err)
	}
	end, err := parseDate(endStr)
	if err != nil {
		return Request{}, fmt.Errorf("invalid end date: %w", err)
	}
	if end.Before(start) {
		return Request{}, errors.New("end date is before start date")
	}

	req := Request{
		StartDate: start,
		EndDate:   end,
		StartHour: opts.DefaultStartHour,
		EndHour:   opts.DefaultEndHour,
	}
	if !opts.ForceHours {
		if raw.StartTime.Set {
			req.StartHour = raw.StartTime.Value
		}
		if raw.EndTime.Set {
			req.EndHour = raw.EndTime.Value
		}
	}
	if req.StartHour < 0 || req.StartHour > 23 || req.EndHour < 0 || req.EndHour > 23 {
		return Request{}, fmt.Errorf("hours must be between 0 and 23, got %d..%d", req.StartHour, req.EndHour)
	}
	if req.EndHour < req.StartHour {
		return Request{}, fmt.Errorf("end hour %d is before start hour %d", req.EndHour, req.StartHour)
	}

	req.Cameras = selectCameras(raw, opts.AllCameras)
	if len(req.Cameras) == 0 {
		return Request{}, ErrNoCameras
	}
	return req, nil
}

func selectCameras(raw RawRequest, all []string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		id = strings.TrimSpace(id)
		if id == "" || strings.EqualFold(id, "all") {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(raw.Camera)
	for _, id := range raw.Cameras {
		add(id)
	}
	if len(out) > 0 {
		return out
	}
	return append([]string(nil), all...)
}

// parseDate accepts YYYY-MM-DD or an ISO timestamp; only the date part is kept
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, 'T'); i >= 0 {
		s = s[:i]
	}
	return time.Parse(dateLayout, s)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
