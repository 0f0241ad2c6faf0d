// Package api exposes the engine over HTTP and WebSocket.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"paper-trading-engine/config"
	"paper-trading-engine/internal/auth"
	"paper-trading-engine/internal/autopilot"
	"paper-trading-engine/internal/bandit"
	"paper-trading-engine/internal/events"
	"paper-trading-engine/internal/goal"
	"paper-trading-engine/internal/journal"
	"paper-trading-engine/internal/positions"
	"paper-trading-engine/internal/risk"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      config.ServerConfig
	engine      *autopilot.Engine
	positions   *positions.Manager
	riskMgr     *risk.Manager
	goals       *goal.Tracker
	journal     *journal.Journal
	bandit      *bandit.Bandit
	eventBus    *events.EventBus
	authService *auth.Service
	authEnabled bool
	rateLimiter *RateLimiter
	wsHub       *WSHub
	logger      zerolog.Logger
}

// ServerDeps are the collaborators the API serves.
type ServerDeps struct {
	Engine    *autopilot.Engine
	Positions *positions.Manager
	Risk      *risk.Manager
	Goals     *goal.Tracker
	Journal   *journal.Journal
	Bandit    *bandit.Bandit
	Events    *events.EventBus
	Auth      *auth.Service // nil disables authentication
}

// NewServer creates a new API server
func NewServer(cfg config.ServerConfig, deps ServerDeps, logger zerolog.Logger) *Server {
	if cfg.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(cfg.AllowedOrigins, ",")
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      cfg,
		engine:      deps.Engine,
		positions:   deps.Positions,
		riskMgr:     deps.Risk,
		goals:       deps.Goals,
		journal:     deps.Journal,
		bandit:      deps.Bandit,
		eventBus:    deps.Events,
		authService: deps.Auth,
		authEnabled: deps.Auth != nil,
		rateLimiter: NewRateLimiter(120, time.Minute),
		logger:      logger.With().Str("component", "API").Logger(),
	}

	server.wsHub = InitWebSocket(deps.Events, server.logger)
	server.setupRoutes()

	return server
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "Rate limit exceeded",
				"message": "Too many requests to this endpoint",
				"path":    path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	// Auth routes stay public
	if s.authEnabled {
		authGroup := s.router.Group("/api/auth")
		authGroup.POST("/login", s.handleLogin)
		authGroup.POST("/refresh", s.handleRefreshToken)
		authGroup.POST("/logout", s.handleLogout)
	}
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.authEnabled {
		api.Use(auth.Middleware(s.authService.JWT()))
	}

	{
		// Engine control
		api.GET("/engine/status", s.handleEngineStatus)
		api.POST("/engine/pause", s.handlePauseEngine)
		api.POST("/engine/resume", s.handleResumeEngine)

		// Portfolio and positions
		api.GET("/portfolio", s.handleGetPortfolio)
		api.GET("/positions", s.handleGetPositions)
		api.POST("/positions/:id/close", s.handleClosePosition)

		// Trade journal
		api.GET("/journal", s.handleGetJournal)
		api.GET("/journal/stats", s.handleGetJournalStats)
		api.GET("/journal/sources", s.handleGetSourcePerformance)

		// Goal and KPI tracking
		api.GET("/kpi/progress", s.handleGetProgress)
		api.GET("/kpi/leverage", s.handleGetLeverageRecommendation)
		api.GET("/kpi/capital", s.handleGetCapitalRequirements)
		api.GET("/kpi/daily-history", s.handleGetDailyHistory)

		// Risk limits
		api.GET("/risk/state", s.handleGetRiskState)
		api.GET("/risk/limits", s.handleGetRiskLimits)
		api.PUT("/risk/limits", s.handleUpdateRiskLimits)

		// Signal source weights
		api.GET("/bandit/arms", s.handleGetBanditArms)
		api.GET("/bandit/rankings", s.handleGetBanditRankings)
	}

	// WebSocket endpoint for live events
	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	readTimeout := time.Duration(s.config.ReadTimeout) * time.Second
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	writeTimeout := time.Duration(s.config.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 15 * time.Second
	}

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

// successResponse is a helper to send success responses
func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
