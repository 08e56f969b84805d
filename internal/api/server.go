package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/wormnet-project/wormnet/internal/config"
	"github.com/wormnet-project/wormnet/internal/db"
	intnet "github.com/wormnet-project/wormnet/internal/network"
	"github.com/wormnet-project/wormnet/internal/server"
)

// GameServer runs closures on the game server goroutine.
type GameServer interface {
	Exec(ctx context.Context, fn func(*server.Server)) error
}

// SessionStore is the read side of the session journal.
type SessionStore interface {
	ListSessions(ctx context.Context, limit int) ([]db.Session, error)
	ListMutes(ctx context.Context) ([]db.Mute, error)
}

// Server is the admin REST API.
type Server struct {
	cfg      *config.Config
	game     GameServer
	sessions SessionStore
	started  time.Time

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates a new API server. sessions may be nil when no
// database is configured.
func NewServer(cfg *config.Config, game GameServer, sessions SessionStore) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	return &Server{
		cfg:      cfg,
		game:     game,
		sessions: sessions,
		started:  time.Now(),
	}
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	if s.router == nil {
		s.router = s.buildRouter()
	}
	return s.router
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	serverData := s.cfg.GetServerData()
	security := s.cfg.GetApplicationData().Security

	addr := fmt.Sprintf(":%d", serverData.APIPort)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("API server error: %w", err)
	}

	log.Info().Str("addr", addr).Bool("tls", security.TLSEnabled).Msg("REST API server starting")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	if security.TLSEnabled {
		cert, err := tls.LoadX509KeyPair(security.TLSCertFile, security.TLSKeyFile)
		if err != nil {
			ln.Close()
			return fmt.Errorf("failed to load API TLS certificate: %w", err)
		}
		s.httpServer.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		}
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("API server error: %w", err)
	}
	return nil
}

// buildRouter creates the Gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	security := s.cfg.GetApplicationData().Security
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := security.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // must be false with a "*" origin
		MaxAge:           12 * time.Hour,
	}))

	router.Use(NewRateLimiter(security.RateLimitRPS).Middleware())

	public := router.Group("/api/public")
	{
		public.GET("/ping", s.handlePing)
		public.GET("/info", s.handleGetServerInfo)
	}

	protected := router.Group("/api")
	protected.Use(NewAuthMiddleware(s.cfg).RequireAuth())
	{
		protected.GET("/connections", s.handleListConnections)
		protected.GET("/connections/:slot", s.handleGetConnection)
		protected.GET("/sessions", s.handleListSessions)
		protected.GET("/mutes", s.handleListMutes)
		protected.GET("/system", s.handleGetSystem)

		protected.POST("/connections/:slot/mute", s.handleMute)
		protected.POST("/connections/:slot/unmute", s.handleUnmute)
		protected.POST("/connections/:slot/kick", s.handleKick)

		protected.GET("/config", s.handleGetConfig)
		protected.POST("/config/app_data", s.handleSetAppData)
	}

	router.NoRoute(func(c *gin.Context) {
		if strings.HasPrefix(c.Request.URL.Path, "/api/") {
			c.JSON(http.StatusNotFound, gin.H{"error": "endpoint not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "wormnet admin API is running"})
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
