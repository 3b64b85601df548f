package api

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/firmsync/firmsync/internal/auth"
	"github.com/firmsync/firmsync/internal/config"
	"github.com/firmsync/firmsync/internal/errors"
	"github.com/firmsync/firmsync/internal/logging"
	"github.com/firmsync/firmsync/internal/metrics"
	"github.com/firmsync/firmsync/internal/models"
	"github.com/firmsync/firmsync/internal/store"
	syncengine "github.com/firmsync/firmsync/internal/sync"
)

// Server represents the HTTP API server
type Server struct {
	router     *gin.Engine
	config     config.ServerConfig
	apiConfig  config.APIConfig
	store      store.Store
	engine     *syncengine.Engine
	tokens     *auth.Manager
	metrics    *metrics.Metrics
	logger     *logging.Logger
	httpServer *http.Server
	startedAt  time.Time
}

// Router returns the gin router for testing purposes
func (s *Server) Router() *gin.Engine {
	return s.router
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, apiCfg config.APIConfig, st store.Store, engine *syncengine.Engine, tokens *auth.Manager, m *metrics.Metrics, logger *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	if m == nil {
		m = metrics.NewMetrics("firmsync")
	}
	if logger == nil {
		logger = logging.NewLogger()
	}

	// An unvalidated config may carry zeroes here; fall back to the
	// documented defaults instead of dividing by zero.
	rpm := apiCfg.RequestsPerMinute
	if rpm <= 0 {
		rpm = 600
	}
	burst := apiCfg.Burst
	if burst <= 0 {
		burst = 60
	}
	rateLimiter := newIPRateLimiter(time.Minute/time.Duration(rpm), burst)

	server := &Server{
		router:    gin.New(),
		config:    cfg,
		apiConfig: apiCfg,
		store:     st,
		engine:    engine,
		tokens:    tokens,
		metrics:   m,
		logger:    logger,
		startedAt: time.Now().UTC(),
	}
	server.router.HandleMethodNotAllowed = true

	server.router.Use(gin.Recovery())
	server.router.Use(rateLimitMiddleware(rateLimiter))
	server.router.Use(bodyLimitMiddleware(1 << 20))
	server.router.Use(metrics.Middleware(m, logger))
	server.router.Use(loggingMiddleware(logger))

	server.setupRoutes()
	return server
}

// loggingMiddleware provides structured logging for all requests
func loggingMiddleware(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		correlationID := c.GetHeader("X-Correlation-ID")
		if correlationID == "" {
			correlationID = logging.GenerateCorrelationID()
		}
		ctx := logging.WithCorrelationID(c.Request.Context(), correlationID)
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		logger.InfoWithContext(ctx, "request completed",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_seconds", time.Since(start).Seconds(),
		)
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Prometheus metrics endpoint - NO authentication required
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	// Health check - NO authentication required
	s.router.GET("/health", s.handleHealth)

	// The provider redirects here after consent; no API key on this leg.
	s.router.GET("/oauth/callback", s.handleOAuthCallback)

	authMiddleware := APIKeyAuth(s.apiConfig.APIKeys, s.apiConfig.HeaderName, s.logger)

	syncGroup := s.router.Group("")
	syncGroup.Use(authMiddleware)
	{
		syncGroup.POST("/sync", s.handleSyncAll)
		syncGroup.POST("/sync/:entity", s.handleSyncEntity)
		syncGroup.GET("/sync/state", s.handleSyncState)
		syncGroup.GET("/runs", s.handleListRuns)
	}

	recordGroup := s.router.Group("")
	recordGroup.Use(authMiddleware)
	{
		recordGroup.GET("/records/:entity", s.handleListRecords)
	}

	tokenGroup := s.router.Group("")
	tokenGroup.Use(authMiddleware)
	{
		tokenGroup.GET("/token/status", s.handleTokenStatus)
		tokenGroup.POST("/token/refresh", s.handleTokenRefresh)
		tokenGroup.POST("/token/revoke", s.handleTokenRevoke)
	}
}

// Run starts the HTTP server
func (s *Server) Run() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.HTTPPort)

	if s.httpServer == nil {
		s.httpServer = NewHTTPServer(addr, s.router)
	}

	s.logger.Info("starting HTTP server", "addr", addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server and closes the store.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("initiating graceful shutdown")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return &errors.ErrServerShutdown{Err: err}
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			return fmt.Errorf("store close: %w", err)
		}
	}

	s.logger.Info("graceful shutdown completed")
	return nil
}

// handleHealth returns health status
func (s *Server) handleHealth(c *gin.Context) {
	stats := s.store.Stats()
	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"timestamp":  time.Now().UTC(),
		"uptime":     time.Since(s.startedAt).Round(time.Second).String(),
		"sync_state": s.engine.State(),
		"token":      s.tokens.Status().State,
		"store":      stats,
	})
}

// handleSyncAll runs a sync for every entity type.
func (s *Server) handleSyncAll(c *gin.Context) {
	reports, err := s.engine.RunAll(c.Request.Context())
	if err != nil {
		s.respondSyncError(c, err, gin.H{"reports": reports})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// handleSyncEntity runs a sync for one entity type.
func (s *Server) handleSyncEntity(c *gin.Context) {
	entity := models.EntityType(c.Param("entity"))
	if !entity.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_entity",
			Message: "unknown entity type: " + c.Param("entity"),
			Code:    http.StatusBadRequest,
		})
		return
	}

	report, err := s.engine.RunSync(c.Request.Context(), entity)
	if err != nil {
		s.respondSyncError(c, err, gin.H{"report": report})
		return
	}
	c.JSON(http.StatusOK, gin.H{"report": report})
}

func (s *Server) respondSyncError(c *gin.Context, err error, payload gin.H) {
	var authErr *errors.ErrAuthorizationRequired
	switch {
	case stderrors.Is(err, syncengine.ErrRunInProgress):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "run_in_progress",
			Message: err.Error(),
			Code:    http.StatusConflict,
		})
	case stderrors.As(err, &authErr):
		payload["error"] = "authorization_required"
		payload["message"] = err.Error()
		c.JSON(http.StatusUnauthorized, payload)
	default:
		s.metrics.RecordError("sync", c.FullPath(), c.Request.Method)
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "sync_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
	}
}

// handleSyncState reports the engine phase, including every entity run
// currently in flight.
func (s *Server) handleSyncState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":   s.engine.State(),
		"running": s.engine.States(),
	})
}

// handleListRuns returns recent run history.
func (s *Server) handleListRuns(c *gin.Context) {
	limit := parsePositiveInt(c.Query("limit"), 20)
	runs, err := s.store.ListRuns(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

// handleListRecords returns a page of synced records.
func (s *Server) handleListRecords(c *gin.Context) {
	entity := models.EntityType(c.Param("entity"))
	if !entity.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_entity",
			Message: "unknown entity type: " + c.Param("entity"),
			Code:    http.StatusBadRequest,
		})
		return
	}

	offset := parsePositiveInt(c.Query("offset"), 0)
	limit := parsePositiveInt(c.Query("limit"), 50)
	if limit > 500 {
		limit = 500
	}

	records, err := s.store.ListRecords(entity, offset, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "store_error",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}

	total, err := s.store.CountRecords(entity)
	if err != nil {
		total = -1
	}

	c.JSON(http.StatusOK, gin.H{
		"entity":  entity,
		"records": records,
		"count":   len(records),
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

// handleTokenStatus reports the stored credential state.
func (s *Server) handleTokenStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.tokens.Status())
}

// handleTokenRefresh forces a token refresh.
func (s *Server) handleTokenRefresh(c *gin.Context) {
	status, err := s.tokens.ManualRefresh(c.Request.Context())
	if err != nil {
		var authErr *errors.ErrAuthorizationRequired
		if stderrors.As(err, &authErr) {
			c.JSON(http.StatusUnauthorized, ErrorResponse{
				Error:   "authorization_required",
				Message: err.Error(),
				Code:    http.StatusUnauthorized,
			})
			return
		}
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "refresh_failed",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
		return
	}
	c.JSON(http.StatusOK, status)
}

// handleTokenRevoke deactivates the stored credential.
func (s *Server) handleTokenRevoke(c *gin.Context) {
	if err := s.tokens.Revoke(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "revoke_failed",
			Message: err.Error(),
			Code:    http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "revoked"})
}

// handleOAuthCallback completes the authorization-code flow.
func (s *Server) handleOAuthCallback(c *gin.Context) {
	if errParam := c.Query("error"); errParam != "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   errParam,
			Message: c.Query("error_description"),
			Code:    http.StatusBadRequest,
		})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "missing_code",
			Message: "authorization code is required",
			Code:    http.StatusBadRequest,
		})
		return
	}

	status, err := s.tokens.Authorize(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusBadGateway, ErrorResponse{
			Error:   "authorization_failed",
			Message: err.Error(),
			Code:    http.StatusBadGateway,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "authorized", "token": status})
}

func parsePositiveInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}
