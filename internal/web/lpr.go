package web

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/videoloft-bridge/internal/lpr"
	"github.com/vzahanych/videoloft-bridge/internal/state"
)

func (s *Server) handleListTriggers(c *gin.Context) {
	triggers, err := s.deps.LPR.Triggers(c.Request.Context())
	if err != nil {
		s.LogError("Failed to list LPR triggers", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if triggers == nil {
		triggers = []state.LPRTrigger{}
	}
	c.JSON(http.StatusOK, gin.H{"triggers": triggers})
}

func (s *Server) handleCreateTrigger(c *gin.Context) {
	var in lpr.TriggerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format."})
		return
	}
	trigger, err := s.deps.LPR.CreateTrigger(c.Request.Context(), in)
	if err != nil {
		s.triggerError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"trigger": trigger})
}

func (s *Server) handleUpdateTrigger(c *gin.Context) {
	var in lpr.TriggerInput
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format."})
		return
	}
	trigger, err := s.deps.LPR.UpdateTrigger(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		s.triggerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"trigger": trigger})
}

func (s *Server) handleDeleteTrigger(c *gin.Context) {
	id := c.Param("id")
	if err := s.deps.LPR.DeleteTrigger(c.Request.Context(), id); err != nil {
		s.triggerError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "id": id})
}

func (s *Server) triggerError(c *gin.Context, err error) {
	var verr *lpr.ValidationError
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.Is(err, lpr.ErrTriggerNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Trigger not found."})
	default:
		s.LogError("LPR trigger operation failed", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (s *Server) handleLPRMatch(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"match": s.deps.LPR.CurrentMatch()})
}
