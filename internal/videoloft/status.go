package videoloft

import (
	"context"
	"time"
)

// CameraStatus is the live state reported by a camera's logger server
type CameraStatus struct {
	Status         string `json:"status"`
	Live           bool   `json:"live"`
	Wowza          string `json:"wowza"`
	LiveStreamName string `json:"live_stream_name"`
	LastThumb      int64  `json:"lastthumb"`
}

type statusResponse struct {
	Result map[string]struct {
		Devices map[string]map[string]interface{} `json:"devices"`
	} `json:"result"`
}

// CameraStatus fetches the status of one camera
func (c *Client) CameraStatus(ctx context.Context, uidd, loggerServer string, timeout time.Duration) (*CameraStatus, error) {
	owner, device, err := SplitUIDD(uidd)
	if err != nil {
		return nil, err
	}

	var body statusResponse
	query := map[string]string{"uidd": uidd}
	if err := c.getJSON(ctx, "camera status", c.HostURL(loggerServer, "/cameras/status"), query, timeout, &body); err != nil {
		return nil, err
	}

	data, ok := body.Result[owner].Devices[device]
	if !ok {
		return nil, &DataIntegrityError{What: "camera status missing device " + uidd}
	}

	return &CameraStatus{
		Status:         asString(data["status"]),
		Live:           asBool(data["live"]),
		Wowza:          asString(data["wowza"]),
		LiveStreamName: asString(data["liveStreamName"]),
		LastThumb:      asInt64(data["lastthumb"]),
	}, nil
}

// SendLiveCommand asks the camera to keep its live stream running
func (c *Client) SendLiveCommand(ctx context.Context, uidd, loggerServer string, timeout time.Duration) error {
	query := map[string]string{"uid": uidd, "action": "livecommand"}
	_, err := c.get(ctx, "live command", c.HostURL(loggerServer, "/sendcameratask"), query, timeout)
	return err
}
