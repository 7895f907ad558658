package web

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/videoloft-bridge/internal/stream"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

// cameraView is one entry of the cameras listing
type cameraView struct {
	UIDD             string                   `json:"uidd"`
	Name             string                   `json:"name"`
	Model            string                   `json:"model"`
	Resolution       string                   `json:"resolution"`
	Status           string                   `json:"status"`
	AnalyticsEnabled bool                     `json:"analytics_enabled"`
	Logger           string                   `json:"logger"`
	Wowza            string                   `json:"wowza"`
	StreamName       string                   `json:"stream_name"`
	Capabilities     videoloft.Capabilities   `json:"capabilities"`
	Specs            videoloft.TechnicalSpecs `json:"technical_specs"`
	Stream           *stream.Snapshot         `json:"stream,omitempty"`
}

func newCameraView(cam videoloft.CameraDevice, snap *stream.Snapshot) cameraView {
	v := cameraView{
		UIDD:             cam.UIDD,
		Name:             cam.Name,
		Model:            stringOr(cam.Specs.Model, "Unknown Model"),
		Resolution:       stringOr(cam.Specs.RecordingResolution, "Unknown"),
		Status:           "offline",
		AnalyticsEnabled: cam.Capabilities.Analytics,
		Logger:           cam.LoggerServer,
		Wowza:            cam.WowzaHost,
		StreamName:       cam.LiveStreamName,
		Capabilities:     cam.Capabilities,
		Specs:            cam.Specs,
		Stream:           snap,
	}
	if cam.Capabilities.MainstreamLive || (snap != nil && snap.Live) {
		v.Status = "online"
	}
	return v
}

func stringOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func (s *Server) snapshotIndex() map[string]stream.Snapshot {
	index := make(map[string]stream.Snapshot)
	if s.deps.Streams == nil {
		return index
	}
	for _, snap := range s.deps.Streams.Snapshots() {
		index[snap.CameraID] = snap
	}
	return index
}

func (s *Server) handleListCameras(c *gin.Context) {
	cams := s.deps.Cameras.GetCameras(c.Request.Context(), false)
	snaps := s.snapshotIndex()

	views := make([]cameraView, 0, len(cams))
	for _, cam := range cams {
		var snap *stream.Snapshot
		if st, ok := snaps[cam.UIDD]; ok {
			snap = &st
		}
		views = append(views, newCameraView(cam, snap))
	}
	c.JSON(http.StatusOK, gin.H{"cameras": views})
}

func (s *Server) handleCameraDiagnostic(c *gin.Context) {
	uidd := c.Param("uidd")
	ctx := c.Request.Context()

	diag := gin.H{
		"uidd":         uidd,
		"device_found": false,
		"stream":       nil,
		"cache_info":   gin.H{"cached": false},
	}

	cam, found := s.deps.Cameras.Camera(ctx, uidd)
	snap, hasStream := s.snapshotIndex()[uidd]
	if !found && !hasStream {
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "Camera not found"})
		return
	}
	if found {
		diag["device_found"] = true
		diag["device_info"] = cam
	}
	if hasStream {
		diag["stream"] = snap
		diag["playlist"] = snap.Playlist
	}
	if s.deps.Thumbnails != nil {
		if entry, ok := s.deps.Thumbnails.Entry(uidd); ok {
			diag["cache_info"] = gin.H{
				"cached":      true,
				"timestamp":   entry.FetchedAt.UTC().Format(time.RFC3339),
				"age_seconds": time.Since(entry.FetchedAt).Seconds(),
				"size":        len(entry.Data),
				"etag":        entry.ETag,
			}
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "diagnostic": diag})
}

func (s *Server) handleStream(c *gin.Context) {
	s.deps.Proxy.Serve(c.Writer, c.Request, c.Param("uidd"), c.Param("path"))
}

func (s *Server) streamState() gin.H {
	enabled := s.deps.Streams.StreamsEnabled()
	live, total := s.deps.Streams.LiveCount()
	if !enabled {
		live = 0
	}
	return gin.H{
		"enabled":        enabled,
		"total_cameras":  total,
		"active_streams": live,
	}
}

func (s *Server) handleGetStreamState(c *gin.Context) {
	c.JSON(http.StatusOK, s.streamState())
}

func (s *Server) handleSetStreamState(c *gin.Context) {
	var req struct {
		Enabled *bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'enabled' must be a boolean"})
		return
	}
	if req.Enabled == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'enabled' parameter is required"})
		return
	}

	if err := s.deps.Streams.SetStreamsEnabled(c.Request.Context(), *req.Enabled); err != nil {
		s.LogError("Failed to update global stream state", err, "enabled", *req.Enabled)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	resp := s.streamState()
	resp["success"] = true
	if *req.Enabled {
		resp["message"] = "Streaming enabled"
	} else {
		resp["message"] = "Streaming disabled"
	}
	c.JSON(http.StatusOK, resp)
}
