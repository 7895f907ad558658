package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/vzahanych/videoloft-bridge/internal/analysis"
	"github.com/vzahanych/videoloft-bridge/internal/config"
	"github.com/vzahanych/videoloft-bridge/internal/logger"
	"github.com/vzahanych/videoloft-bridge/internal/lpr"
	"github.com/vzahanych/videoloft-bridge/internal/metrics"
	"github.com/vzahanych/videoloft-bridge/internal/quota"
	"github.com/vzahanych/videoloft-bridge/internal/service"
	"github.com/vzahanych/videoloft-bridge/internal/state"
	"github.com/vzahanych/videoloft-bridge/internal/stream"
	"github.com/vzahanych/videoloft-bridge/internal/thumbnail"
	"github.com/vzahanych/videoloft-bridge/internal/videoloft"
)

// CameraDirectory resolves cameras from the device registry
type CameraDirectory interface {
	GetCameras(ctx context.Context, forceRefresh bool) []videoloft.CameraDevice
	Camera(ctx context.Context, uidd string) (videoloft.CameraDevice, bool)
}

// StreamRegistry exposes stream sessions and the global streaming switch
type StreamRegistry interface {
	Snapshots() []stream.Snapshot
	LiveCount() (live, total int)
	StreamsEnabled() bool
	SetStreamsEnabled(ctx context.Context, enabled bool) error
}

// StreamProxy relays HLS playlists and segments
type StreamProxy interface {
	Serve(w http.ResponseWriter, r *http.Request, uidd, path string)
}

// ThumbnailProvider serves cached camera and event thumbnails
type ThumbnailProvider interface {
	Current(ctx context.Context, uidd string) (*thumbnail.Entry, error)
	Entry(uidd string) (*thumbnail.Entry, bool)
	EventThumbnail(ctx context.Context, eventID string) (*thumbnail.Entry, error)
	Preload(ctx context.Context) thumbnail.PreloadResult
	Stats() thumbnail.Stats
}

// AnalysisPipeline runs and queries AI analysis tasks
type AnalysisPipeline interface {
	Submit(req analysis.Request) (string, error)
	Progress(taskID string) (analysis.Progress, bool)
	Cancel(taskID string) bool
	Estimate(ctx context.Context, req analysis.Request) (analysis.Estimate, error)
	Search(ctx context.Context, query string) ([]analysis.SearchResult, error)
	Clear(ctx context.Context) (int, error)
}

// QuotaManager exposes the vision quota tracker
type QuotaManager interface {
	Status() quota.Status
	ResetQuota()
	ResetCircuitBreaker()
}

// LPRService manages licence plate triggers and the current match
type LPRService interface {
	Triggers(ctx context.Context) ([]state.LPRTrigger, error)
	CreateTrigger(ctx context.Context, in lpr.TriggerInput) (*state.LPRTrigger, error)
	UpdateTrigger(ctx context.Context, id string, in lpr.TriggerInput) (*state.LPRTrigger, error)
	DeleteTrigger(ctx context.Context, id string) error
	CurrentMatch() *lpr.Match
}

// Deps are the components behind the API routes
type Deps struct {
	Cameras    CameraDirectory
	Streams    StreamRegistry
	Proxy      StreamProxy
	Thumbnails ThumbnailProvider
	Analysis   AnalysisPipeline
	Quota      QuotaManager
	LPR        LPRService
	Metrics    *metrics.Metrics
}

// Server is the bridge HTTP API
type Server struct {
	*service.ServiceBase
	cfg        config.WebConfig
	metricsCfg config.MetricsConfig
	hours      config.AnalysisConfig
	streamPath string
	deps       Deps
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	addr       string
}

// NewServer creates the web server and registers every route
func NewServer(cfg *config.Config, deps Deps, log *logger.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	log = log.Named("web")

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware(cfg.Web.CORSOrigins))

	s := &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		cfg:         cfg.Web,
		metricsCfg:  cfg.Metrics,
		hours:       cfg.Analysis,
		streamPath:  strings.TrimRight(cfg.Stream.RoutePrefix, "/"),
		deps:        deps,
		logger:      log,
		router:      router,
	}
	s.setupRoutes()
	return s
}

// Handler returns the router
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the bound address once started
func (s *Server) Addr() string {
	return s.addr
}

// Start binds the listen address and serves in the background
func (s *Server) Start(ctx context.Context) error {
	s.GetStatus().SetStatus(service.StatusStarting)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.GetStatus().SetError(err)
		return fmt.Errorf("web server listen on %s: %w", addr, err)
	}
	s.addr = ln.Addr().String()

	// write timeout stays off: stream responses run as long as the client reads
	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", s.addr)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	s.LogInfo("Web server started", "address", s.addr)
	return nil
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping web server")
	err := s.httpServer.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

func (s *Server) setupRoutes() {
	if s.metricsCfg.Enabled && s.deps.Metrics != nil {
		path := s.metricsCfg.Path
		if path == "" {
			path = "/metrics"
		}
		s.router.GET(path, gin.WrapH(s.deps.Metrics.Handler()))
	}

	streamPath := s.streamPath
	if streamPath == "" {
		streamPath = "/api/videoloft/stream"
	}
	// binary routes, never compressed
	s.router.GET(streamPath+"/:uidd/*path", s.handleStream)

	base := s.router.Group("/api/videoloft")
	base.GET("/thumbnail/:uidd", s.handleThumbnail)
	base.GET("/event_thumbnail/:eventId", s.handleEventThumbnail)

	api := base.Group("")
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/cameras", s.handleListCameras)
		api.GET("/cameras/:uidd/diagnostic", s.handleCameraDiagnostic)
		api.GET("/camera_diagnostic/:uidd", s.handleCameraDiagnostic)
		api.GET("/global_stream_state", s.handleGetStreamState)
		api.POST("/global_stream_state", s.handleSetStreamState)

		api.GET("/thumbnail_stats", s.handleThumbnailStats)
		api.POST("/preload_thumbnails", s.handlePreloadThumbnails)

		api.POST("/process_ai_search", s.handleProcessAISearch)
		api.POST("/ai_analysis", s.handleAIAnalysis)
		api.GET("/ai_progress/:taskId", s.handleAIProgress)
		api.DELETE("/ai_progress/:taskId", s.handleCancelAI)
		api.POST("/ai_search", s.handleAISearch)
		api.POST("/preview_ai_events", s.handlePreviewAIEvents)
		api.POST("/clear_descriptions", s.handleClearDescriptions)

		api.GET("/gemini_quota", s.handleGetQuota)
		api.POST("/gemini_quota", s.handleQuotaAction)

		api.GET("/lpr_triggers", s.handleListTriggers)
		api.POST("/lpr_triggers", s.handleCreateTrigger)
		api.PUT("/lpr_triggers/:id", s.handleUpdateTrigger)
		api.DELETE("/lpr_triggers/:id", s.handleDeleteTrigger)
		api.GET("/lpr/match", s.handleLPRMatch)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger logs every request at debug level
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		// query strings are left out
		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware allows the configured origins, or any origin when none are set
func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "Cache-Control", "If-None-Match", "X-Requested-With"},
		ExposeHeaders:    []string{"ETag", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}

	var allowed []string
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" && o != "*" {
			allowed = append(allowed, o)
		}
	}
	if len(allowed) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = allowed
	}
	return cors.New(cfg)
}
