package api

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/config"
	"github.com/statecast-project/statecast/internal/db"
	"github.com/statecast-project/statecast/internal/events"
	"github.com/statecast-project/statecast/internal/health"
	intnet "github.com/statecast-project/statecast/internal/network"
	"github.com/statecast-project/statecast/internal/util"
)

// SessionService is the WebSocket session server mounted on the router.
type SessionService interface {
	http.Handler
	Count() int
	Sessions() []intnet.SessionInfo
	Kick(id uint64) error
}

// HistorySource returns stored session summaries.
type HistorySource interface {
	Recent(ctx context.Context, limit int) ([]db.SessionRecord, error)
}

// StatusSource reports relay health.
type StatusSource interface {
	Status() health.Status
}

// Deps are the components the HTTP server exposes. Every field except
// Sessions may be nil.
type Deps struct {
	Sessions SessionService
	Health   StatusSource
	History  HistorySource
	Metrics  http.Handler
	Version  string
}

// Server hosts the relay WebSocket endpoint, the JSON status API, the
// metrics endpoint and the static web client on one listener.
type Server struct {
	cfg      *config.Config
	eventBus *events.EventBus
	deps     Deps

	httpServer *http.Server
	router     *gin.Engine
}

// NewServer creates the HTTP server and builds its router.
func NewServer(cfg *config.Config, eventBus *events.EventBus, deps Deps) *Server {
	if cfg.GetApplicationData().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      cfg,
		eventBus: eventBus,
		deps:     deps,
	}
	s.router = s.buildRouter()
	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address and serves until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	server := s.cfg.GetServer()
	security := s.cfg.GetApplicationData().Security
	addr := server.Addr()

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if security.TLSEnabled {
		tlsConfig, err := loadTLSConfig(security)
		if err != nil {
			return err
		}
		s.httpServer.TLSConfig = tlsConfig
	}

	// SO_REUSEADDR allows immediate rebinding after a restart
	lc := intnet.ReuseAddrListenConfig()
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	log.Info().
		Str("addr", addr).
		Bool("tls", security.TLSEnabled).
		Str("websocket_path", server.WebSocketPath).
		Str("www", server.WWWDirectory).
		Msg("HTTP server starting")

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP server shutdown incomplete")
		}
	}()

	if s.httpServer.TLSConfig != nil {
		err = s.httpServer.Serve(tls.NewListener(ln, s.httpServer.TLSConfig))
	} else {
		err = s.httpServer.Serve(ln)
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server error: %w", err)
	}
	return nil
}

func loadTLSConfig(security config.SecurityConfig) (*tls.Config, error) {
	if err := util.EnsureTLSCert(security.TLSCertFile, security.TLSKeyFile); err != nil {
		return nil, fmt.Errorf("failed to prepare TLS certificate: %w", err)
	}
	cert, err := tls.LoadX509KeyPair(security.TLSCertFile, security.TLSKeyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}
	return &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{cert},
	}, nil
}

// buildRouter creates the gin router with all routes and middleware.
func (s *Server) buildRouter() *gin.Engine {
	server := s.cfg.GetServer()
	app := s.cfg.GetApplicationData()

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(RequestLogger())
	router.Use(SecurityHeaders())

	allowedOrigins := server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	rateLimiter := NewRateLimiter(app.Security.RateLimitRPS)

	// The relay endpoint is not rate limited: a session is one request.
	router.GET(server.WebSocketPath, gin.WrapH(s.deps.Sessions))

	if s.deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(s.deps.Metrics))
	}

	api := router.Group("/api")
	api.Use(rateLimiter.Middleware())
	{
		api.GET("/ping", s.handlePing)
		api.GET("/status", s.handleStatus)
		api.GET("/config", s.handleGetConfig)
		api.GET("/logs", s.handleGetLogEntries)

		api.GET("/sessions", s.handleListSessions)
		api.GET("/sessions/history", s.handleSessionHistory)
		api.DELETE("/sessions/:id", s.handleKickSession)
	}

	router.NoRoute(s.staticHandler(server.WWWDirectory))

	return router
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
