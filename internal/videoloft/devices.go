package videoloft

import (
	"context"
	"sort"
)

// Capabilities are the feature flags reported for a camera
type Capabilities struct {
	PTZ            bool `json:"ptz"`
	Talkback       bool `json:"talkback"`
	Audio          bool `json:"audio"`
	ROM            bool `json:"rom"`
	Analytics      bool `json:"analytics"`
	CloudRecording bool `json:"cloud_recording"`
	MainstreamLive bool `json:"mainstream_live"`
}

// TechnicalSpecs are descriptive camera properties
type TechnicalSpecs struct {
	RecordingResolution string `json:"recording_resolution"`
	VideoCodec          string `json:"video_codec"`
	AnalyticsScheme     string `json:"analytics_scheme"`
	TimeZone            string `json:"timezone"`
	CloudAdapterVersion string `json:"cloud_adapter_version"`
	Model               string `json:"model"`
}

// CameraDevice is one camera from the viewer info device tree
type CameraDevice struct {
	UIDD           string         `json:"uidd"`
	OwnerID        string         `json:"owner_id"`
	DeviceID       string         `json:"device_id"`
	Name           string         `json:"name"`
	LoggerServer   string         `json:"logger_server"`
	WowzaHost      string         `json:"wowza_host"`
	LiveStreamName string         `json:"live_stream_name"`
	Capabilities   Capabilities   `json:"capabilities"`
	Specs          TechnicalSpecs `json:"technical_specs"`
}

type viewerInfoResponse struct {
	Result map[string]struct {
		Devices map[string]map[string]interface{} `json:"devices"`
	} `json:"result"`
}

// FetchDevices retrieves and flattens the account's device tree
func (c *Client) FetchDevices(ctx context.Context) ([]CameraDevice, error) {
	base, err := c.regionURL(ctx)
	if err != nil {
		return nil, err
	}

	var body viewerInfoResponse
	if err := c.getJSON(ctx, "viewer info", base+"/devices/viewerInfo", nil, c.cfg.DeviceTimeout, &body); err != nil {
		return nil, err
	}
	if body.Result == nil {
		return nil, &DataIntegrityError{What: "viewer info response has no result"}
	}

	devices := make([]CameraDevice, 0)
	for owner, tree := range body.Result {
		for deviceID, data := range tree.Devices {
			devices = append(devices, parseDevice(owner, deviceID, data))
		}
	}
	sort.Slice(devices, func(i, j int) bool { return devices[i].UIDD < devices[j].UIDD })

	c.logger.Debug("Device tree fetched", "count", len(devices))
	return devices, nil
}

func parseDevice(owner, deviceID string, data map[string]interface{}) CameraDevice {
	uidd := owner + "." + deviceID
	name := asString(data["name"])
	if name == "" {
		name = stringOr(data["phonename"], "Camera "+uidd)
	}

	return CameraDevice{
		UIDD:           uidd,
		OwnerID:        owner,
		DeviceID:       deviceID,
		Name:           name,
		LoggerServer:   asString(data["logger"]),
		WowzaHost:      asString(data["wowza"]),
		LiveStreamName: asString(data["liveStreamName"]),
		Capabilities: Capabilities{
			PTZ:            asBool(data["ptzEnabled"]),
			Talkback:       asBool(data["talkbackEnabled"]),
			Audio:          asBool(data["audioEnabled"]),
			ROM:            asBool(data["romEnabled"]),
			Analytics:      asBool(data["analyticsEnabled"]),
			CloudRecording: asBool(data["cloudRecordingEnabled"]),
			MainstreamLive: asBool(data["mainstreamLive"]),
		},
		Specs: TechnicalSpecs{
			RecordingResolution: stringOr(data["recordingResolution"], "Unknown"),
			VideoCodec:          stringOr(data["videoCodec"], "Unknown"),
			AnalyticsScheme:     stringOr(data["analyticsScheme"], "Unknown"),
			TimeZone:            stringOr(data["timeZoneName"], "Unknown"),
			CloudAdapterVersion: stringOr(data["cloudAdapterVersion"], "Unknown"),
			Model:               stringOr(data["model"], "Unknown"),
		},
	}
}
