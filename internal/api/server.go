// Package api serves the server's status over HTTP: a read-only view of
// players, session history and tick health for dashboards, a token-guarded
// kick and config route for operators, and the Prometheus scrape endpoint.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/micromayhem/mayhem/internal/config"
	"github.com/micromayhem/mayhem/internal/db"
	"github.com/micromayhem/mayhem/internal/events"
	intnet "github.com/micromayhem/mayhem/internal/network"
	"github.com/micromayhem/mayhem/internal/server"
)

// GameServer is what the API reads from and commands.
type GameServer interface {
	Snapshot() server.Snapshot
	Kick(id uint8) error
	Monitor() *server.TickMonitor
}

// SessionHistory is the persisted session log.
type SessionHistory interface {
	Recent(limit int) ([]db.Session, error)
	RecentAlerts(limit int) ([]db.Alert, error)
}

// Options wires the API to the rest of the process. History and Gatherer
// are optional.
type Options struct {
	Config   *config.Config
	Game     GameServer
	History  SessionHistory
	Gatherer prometheus.Gatherer
	EventBus *events.EventBus
	Version  string
}

// Server is the REST API server.
type Server struct {
	cfg      *config.Config
	game     GameServer
	history  SessionHistory
	gatherer prometheus.Gatherer
	eventBus *events.EventBus
	version  string

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server.
func NewServer(opts Options) *Server {
	// Set Gin mode based on log level
	if opts.Config.GetLogging().Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	return &Server{
		cfg:      opts.Config,
		game:     opts.Game,
		history:  opts.History,
		gatherer: opts.Gatherer,
		eventBus: opts.EventBus,
		version:  opts.Version,
	}
}

// Router returns the gin engine, building it on first use.
func (s *Server) Router() *gin.Engine {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	apiCfg := s.cfg.GetAPI()
	addr := fmt.Sprintf(":%d", apiCfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Create listener with SO_REUSEADDR for immediate rebinding after restart
	lc := intnet.ListenConfig(intnet.SocketOptions{ReuseAddr: true})
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Msg("REST API server starting")

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	apiCfg := s.cfg.GetAPI()
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := apiCfg.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Must be false when AllowOrigins is "*"
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(apiCfg.RateLimitRPS)
	router.Use(rateLimiter.Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/version", s.handleGetVersion)
		public.GET("/server_info", s.handleGetServerInfo)
	}

	monitor := router.Group("/api")
	{
		monitor.GET("/status", s.handleGetStatus)
		monitor.GET("/players", s.handleGetPlayers)
		monitor.GET("/sessions", s.handleGetSessions)
		monitor.GET("/alerts", s.handleGetAlerts)
		monitor.GET("/ticks", s.handleGetTicks)
		monitor.GET("/system", s.handleGetSystem)
	}

	protected := router.Group("/api")
	protected.Use(RequireToken(apiCfg.AdminToken))
	{
		protected.POST("/players/:id/kick", s.handleKickPlayer)
		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/network", s.handleSetNetworkField)
	}

	if s.gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
	})

	return router
}

// Stop gracefully stops the API server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
