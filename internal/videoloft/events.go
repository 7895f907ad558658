package videoloft

import (
	"context"
	"encoding/json"
	"strconv"
	"time"
)

// Event is a detection event recorded by a camera
type Event struct {
	ID        string                 `json:"alert"`
	StartTime int64                  `json:"startt"` // epoch milliseconds
	EndTime   int64                  `json:"endt,omitempty"`
	Raw       map[string]interface{} `json:"-"`
}

// Start returns the event start instant
func (e Event) Start() time.Time {
	return time.UnixMilli(e.StartTime)
}

// VehicleDetection is one vehicle from an event's analytics
type VehicleDetection struct {
	LicencePlate string `json:"licence_plate"`
	Make         string `json:"make"`
	Model        string `json:"model"`
	Colour       string `json:"colour"`
	StillTimeMs  int64  `json:"still_time_ms"`
	AlertID      string `json:"alertid"`
	Direction    string `json:"direction"`
}

// Events fetches events in [start, end) for one camera
func (c *Client) Events(ctx context.Context, loggerServer, uidd string, start, end time.Time) ([]Event, error) {
	query := map[string]string{
		"uidd":   uidd,
		"startt": strconv.FormatInt(start.UnixMilli(), 10),
		"endt":   strconv.FormatInt(end.UnixMilli(), 10),
	}

	body, err := c.get(ctx, "events", c.HostURL(loggerServer, "/events"), query, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var raw interface{}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &DataIntegrityError{What: "events response", Err: err}
	}
	items, ok := raw.([]interface{})
	if !ok {
		// the logger answers with an object when there is nothing in range
		return nil, nil
	}

	events := make([]Event, 0, len(items))
	for _, item := range items {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		ev := Event{
			ID:        asString(m["alert"]),
			StartTime: asInt64(m["startt"]),
			EndTime:   asInt64(m["endt"]),
			Raw:       m,
		}
		if ev.ID == "" {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

// EventsPaged fetches events in slices of sliceLength to bound response
// size. A failing slice is logged and skipped.
func (c *Client) EventsPaged(ctx context.Context, loggerServer, uidd string, start, end time.Time, sliceLength time.Duration) ([]Event, error) {
	if sliceLength <= 0 {
		sliceLength = 30 * time.Minute
	}

	var all []Event
	for cur := start; cur.Before(end); {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		next := cur.Add(sliceLength)
		if next.After(end) {
			next = end
		}

		events, err := c.Events(ctx, loggerServer, uidd, cur, next)
		if err != nil {
			c.logger.Warn("Event slice fetch failed",
				"camera", uidd,
				"start", cur.UnixMilli(),
				"end", next.UnixMilli(),
				"error", err,
			)
		} else {
			all = append(all, events...)
		}
		cur = next
	}
	return all, nil
}

// VehicleAnalytics fetches vehicle detections for an event
func (c *Client) VehicleAnalytics(ctx context.Context, loggerServer, uidd, eventID string) ([]VehicleDetection, error) {
	owner, device, err := SplitUIDD(uidd)
	if err != nil {
		return nil, err
	}

	path := "/events/" + owner + "/" + device + "/" + eventID + "/analytics/vehicles"
	query := map[string]string{"t": strconv.FormatInt(time.Now().Unix(), 10)}

	body, err := c.get(ctx, "vehicle analytics", c.HostURL(loggerServer, path), query, c.cfg.Timeout)
	if err != nil {
		return nil, err
	}

	var items []map[string]interface{}
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, &DataIntegrityError{What: "vehicle analytics response", Err: err}
	}

	vehicles := make([]VehicleDetection, 0, len(items))
	for _, m := range items {
		vehicles = append(vehicles, VehicleDetection{
			LicencePlate: asString(m["licence_plate"]),
			Make:         asString(m["make"]),
			Model:        asString(m["model"]),
			Colour:       asString(m["colour"]),
			StillTimeMs:  asInt64(m["still_time_ms"]),
			AlertID:      asString(m["alertid"]),
			Direction:    asString(m["direction"]),
		})
	}
	return vehicles, nil
}

// Thumbnail fetches the camera thumbnail taken at lastThumb
func (c *Client) Thumbnail(ctx context.Context, loggerServer, uidd string, lastThumb int64, timeout time.Duration) ([]byte, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	path := "/getthumb/" + uidd + "/" + strconv.FormatInt(lastThumb, 10) + "/" + token
	return c.get(ctx, "thumbnail", c.HostURL(loggerServer, path), nil, timeout)
}

// LatestThumbnail resolves the latest thumbnail time from camera status and
// fetches that thumbnail
func (c *Client) LatestThumbnail(ctx context.Context, loggerServer, uidd string, timeout time.Duration) ([]byte, error) {
	status, err := c.CameraStatus(ctx, uidd, loggerServer, timeout)
	if err != nil {
		return nil, err
	}
	return c.Thumbnail(ctx, loggerServer, uidd, status.LastThumb, timeout)
}

// EventThumbnail fetches the still image of an event
func (c *Client) EventThumbnail(ctx context.Context, loggerServer, uidd, eventID string, timeout time.Duration) ([]byte, error) {
	token, err := c.tokens.GetToken(ctx)
	if err != nil {
		return nil, err
	}
	path := "/alertthumb/" + uidd + "/" + eventID + "/" + token
	return c.get(ctx, "event thumbnail", c.HostURL(loggerServer, path), nil, timeout)
}
