package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/dduho/trading-bot/config"
	"github.com/dduho/trading-bot/internal/auth"
	"github.com/dduho/trading-bot/internal/database"
	"github.com/dduho/trading-bot/internal/events"
	"github.com/dduho/trading-bot/internal/logging"
	"github.com/dduho/trading-bot/internal/strategy"
)

// TradeStore is the read surface the API needs from the database layer.
type TradeStore interface {
	HealthCheck(ctx context.Context) error
	GetOpenTrades(ctx context.Context) ([]*database.Trade, error)
	GetTradeHistory(ctx context.Context, limit, offset int) ([]*database.Trade, error)
	GetTradeByID(ctx context.Context, id string) (*database.Trade, error)
	GetPerformanceStats(ctx context.Context, since time.Time) (*database.PerformanceStats, error)
	GetSymbolStats(ctx context.Context, since time.Time) ([]*database.SymbolStats, error)
	GetRecentLearningEvents(ctx context.Context, limit int) ([]*database.LearningEvent, error)
	GetActiveModel(ctx context.Context) (*database.ModelPerformance, error)
}

// BotAPI is what the trading bot exposes to the HTTP layer.
type BotAPI interface {
	Status() map[string]interface{}
	ActiveSymbols() []string
	WatchdogStatus() map[string]interface{}
	AdaptiveCeiling(ctx context.Context) float64
}

// Server is the operator-facing HTTP API.
type Server struct {
	router     *gin.Engine
	httpServer *http.Server
	store      TradeStore
	bus        *events.EventBus
	bot        BotAPI
	params     *strategy.Store
	authSvc    *auth.Service
	config     config.ServerConfig
	hub        *wsHub
	log        *logging.Logger
}

// NewServer creates the API server and wires its routes. authSvc may be
// nil when authentication is disabled.
func NewServer(
	cfg config.ServerConfig,
	store TradeStore,
	bus *events.EventBus,
	bot BotAPI,
	params *strategy.Store,
	authSvc *auth.Service,
	log *logging.Logger,
) *Server {
	if log == nil {
		log = logging.Default()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:  router,
		store:   store,
		bus:     bus,
		bot:     bot,
		params:  params,
		authSvc: authSvc,
		config:  cfg,
		hub:     newWSHub(log),
		log:     log.WithComponent("api"),
	}

	s.setupRoutes()
	s.hub.bind(bus)

	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.authSvc != nil {
		s.router.POST("/api/auth/login", s.handleLogin)
	}
	s.router.GET("/api/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"auth_enabled": s.authSvc != nil && s.authSvc.Enabled(),
		})
	})

	api := s.router.Group("/api")
	if s.authSvc != nil {
		api.Use(auth.Middleware(s.authSvc))
	}
	{
		api.GET("/status", s.handleStatus)
		api.GET("/symbols", s.handleSymbols)

		api.GET("/trades/open", s.handleOpenTrades)
		api.GET("/trades/history", s.handleTradeHistory)
		api.GET("/trades/:id", s.handleTradeByID)

		api.GET("/performance", s.handlePerformance)
		api.GET("/performance/symbols", s.handleSymbolPerformance)

		api.GET("/params", s.handleParams)
		api.GET("/learning/events", s.handleLearningEvents)
		api.GET("/model", s.handleActiveModel)
		api.GET("/watchdog", s.handleWatchdog)
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start runs the HTTP server. Blocks until the server stops.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info("Starting HTTP server", "addr", addr)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if err := s.store.HealthCheck(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": "unhealthy",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": "healthy",
	})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}
