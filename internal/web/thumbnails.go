package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/videoloft-bridge/internal/thumbnail"
)

const (
	thumbnailCacheControl = "public, max-age=60, stale-while-revalidate=120"
	eventCacheControl     = "public, max-age=3600"
)

func (s *Server) handleThumbnail(c *gin.Context) {
	uidd := c.Param("uidd")
	entry, err := s.deps.Thumbnails.Current(c.Request.Context(), uidd)
	if err != nil {
		if errors.Is(err, thumbnail.ErrUnknownCamera) {
			c.String(http.StatusNotFound, "Camera not found")
			return
		}
		s.LogDebug("Thumbnail not available", "camera_id", uidd, "error", err)
		c.String(http.StatusNotFound, "Thumbnail not available")
		return
	}
	writeImage(c, entry, thumbnailCacheControl)
}

func (s *Server) handleEventThumbnail(c *gin.Context) {
	eventID := c.Param("eventId")
	entry, err := s.deps.Thumbnails.EventThumbnail(c.Request.Context(), eventID)
	if err != nil {
		if !errors.Is(err, thumbnail.ErrUnknownEvent) {
			s.LogDebug("Event thumbnail not available", "event_id", eventID, "error", err)
		}
		c.Status(http.StatusNotFound)
		return
	}
	writeImage(c, entry, eventCacheControl)
}

// writeImage answers conditional requests with 304 and sets cache headers
func writeImage(c *gin.Context, entry *thumbnail.Entry, cacheControl string) {
	h := c.Writer.Header()
	h.Set("ETag", entry.ETag)
	h.Set("Cache-Control", cacheControl)
	h.Set("Last-Modified", entry.FetchedAt.UTC().Format(http.TimeFormat))

	if etagMatches(c.GetHeader("If-None-Match"), entry.ETag) {
		c.Status(http.StatusNotModified)
		return
	}
	c.Data(http.StatusOK, entry.ContentType(), entry.Data)
}

func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == "*" || candidate == etag {
			return true
		}
	}
	return false
}

func (s *Server) handleThumbnailStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "success", "stats": s.deps.Thumbnails.Stats()})
}

func (s *Server) handlePreloadThumbnails(c *gin.Context) {
	res := s.deps.Thumbnails.Preload(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Thumbnail preload completed",
		"result":  res,
	})
}
