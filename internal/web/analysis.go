package web

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/videoloft-bridge/internal/ai"
	"github.com/vzahanych/videoloft-bridge/internal/analysis"
)

// business hours used by the quick analysis route
const (
	businessStartHour = 6
	businessEndHour   = 20
)

const noAnalysisMessage = "No AI analysis has been run yet. Please run 'Analysis' first to process your camera footage with AI, then you can search."

func (s *Server) cameraIDs(c *gin.Context) []string {
	cams := s.deps.Cameras.GetCameras(c.Request.Context(), false)
	ids := make([]string, 0, len(cams))
	for _, cam := range cams {
		ids = append(ids, cam.UIDD)
	}
	return ids
}

// bindAnalysisRequest decodes and validates an analysis body, writing the
// error response itself when it returns false
func (s *Server) bindAnalysisRequest(c *gin.Context, opts analysis.ParseOptions) (analysis.Request, bool) {
	var raw analysis.RawRequest
	if err := c.ShouldBindJSON(&raw); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return analysis.Request{}, false
	}

	opts.AllCameras = s.cameraIDs(c)
	req, err := analysis.ParseRequest(raw, opts)
	switch {
	case err == nil:
		return req, true
	case errors.Is(err, analysis.ErrDatesRequired):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Start and end dates are required"})
	case errors.Is(err, analysis.ErrNoCameras):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No cameras available for processing"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	}
	return analysis.Request{}, false
}

func (s *Server) submitAnalysis(c *gin.Context, req analysis.Request) (string, bool) {
	taskID, err := s.deps.Analysis.Submit(req)
	switch {
	case err == nil:
		return taskID, true
	case errors.Is(err, ai.ErrNotConfigured):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Gemini API key not configured"})
	case errors.Is(err, analysis.ErrNoCameras):
		c.JSON(http.StatusBadRequest, gin.H{"error": "No cameras available for processing"})
	default:
		s.LogError("Failed to start analysis", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	}
	return "", false
}

func (s *Server) handleProcessAISearch(c *gin.Context) {
	req, ok := s.bindAnalysisRequest(c, analysis.ParseOptions{
		DefaultStartHour: s.hours.DefaultStartHour,
		DefaultEndHour:   s.hours.DefaultEndHour,
	})
	if !ok {
		return
	}
	taskID, ok := s.submitAnalysis(c, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"task_id": taskID,
		"message": "Enhanced AI Search task initiated",
	})
}

func (s *Server) handleAIAnalysis(c *gin.Context) {
	req, ok := s.bindAnalysisRequest(c, analysis.ParseOptions{
		DefaultStartHour: businessStartHour,
		DefaultEndHour:   businessEndHour,
		ForceHours:       true,
	})
	if !ok {
		return
	}
	taskID, ok := s.submitAnalysis(c, req)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"message": "Analysis started",
		"task_id": taskID,
	})
}

func (s *Server) handleAIProgress(c *gin.Context) {
	progress, ok := s.deps.Analysis.Progress(c.Param("taskId"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"status":  "unknown",
			"message": "No progress data available",
		})
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (s *Server) handleCancelAI(c *gin.Context) {
	taskID := c.Param("taskId")
	if !s.deps.Analysis.Cancel(taskID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "No running task with that id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "task_id": taskID, "status": analysis.StatusCancelled})
}

func (s *Server) handleAISearch(c *gin.Context) {
	var req struct {
		Query string `json:"query"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Search query is required"})
		return
	}

	results, err := s.deps.Analysis.Search(c.Request.Context(), query)
	if errors.Is(err, analysis.ErrNoAnalysis) {
		c.JSON(http.StatusOK, gin.H{
			"success":     false,
			"error":       "no_analysis",
			"message":     noAnalysisMessage,
			"events":      []analysis.SearchResult{},
			"total_count": 0,
		})
		return
	}
	if err != nil {
		s.LogError("AI search failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if results == nil {
		results = []analysis.SearchResult{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"events":      results,
		"total_count": len(results),
	})
}

func (s *Server) handlePreviewAIEvents(c *gin.Context) {
	req, ok := s.bindAnalysisRequest(c, analysis.ParseOptions{
		DefaultStartHour: s.hours.DefaultStartHour,
		DefaultEndHour:   s.hours.DefaultEndHour,
	})
	if !ok {
		return
	}
	estimate, err := s.deps.Analysis.Estimate(c.Request.Context(), req)
	if err != nil {
		s.LogError("Failed to estimate analysis", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, estimate)
}

func (s *Server) handleClearDescriptions(c *gin.Context) {
	n, err := s.deps.Analysis.Clear(c.Request.Context())
	if err != nil {
		s.LogError("Failed to clear descriptions", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "cleared": n})
}

func (s *Server) handleGetQuota(c *gin.Context) {
	c.JSON(http.StatusOK, s.deps.Quota.Status())
}

func (s *Server) handleQuotaAction(c *gin.Context) {
	var req struct {
		Action string `json:"action"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format"})
		return
	}

	switch req.Action {
	case "reset_quota":
		s.deps.Quota.ResetQuota()
		s.LogInfo("Vision quota reset")
		c.JSON(http.StatusOK, gin.H{"status": "reset", "message": "Quota state has been reset"})
	case "reset_circuit_breaker":
		s.deps.Quota.ResetCircuitBreaker()
		s.LogInfo("Vision circuit breaker reset")
		c.JSON(http.StatusOK, gin.H{"status": "reset", "message": "Circuit breaker has been reset"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid action"})
	}
}
