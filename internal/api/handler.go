// Package api is the operator HTTP surface: read-only status, diagnostics,
// trades and metrics, plus a few authenticated session actions.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"kiwoom-core/internal/diagnostics"
	"kiwoom-core/internal/events"
	"kiwoom-core/internal/monitor"
	"kiwoom-core/internal/session"
	"kiwoom-core/internal/state"
)

// Core is what the API needs from the trading core. Every method is safe to
// call from HTTP goroutines.
type Core interface {
	Status() session.Status
	Diagnostics() []diagnostics.Row
	TradesOn(ctx context.Context, day string) ([]state.Trade, error)
	ResetSync(code string) bool
	Stop() error
	Today() string
}

// Server wires HTTP endpoints around the trading core.
type Server struct {
	Router    *gin.Engine
	Core      Core
	Bus       *events.Bus
	Metrics   *monitor.SystemMetrics
	JWTSecret string
	Meta      SystemMeta

	log     zerolog.Logger
	limiter *ipLimiter
}

// SystemMeta describes the runtime exposed on /api/system/status.
type SystemMeta struct {
	Mode      string   `json:"mode"`
	Watchlist []string `json:"watchlist"`
	Version   string   `json:"version"`
}

// NewServer builds the router. metrics and bus may be nil.
func NewServer(core Core, bus *events.Bus, metrics *monitor.SystemMetrics, meta SystemMeta, jwtSecret string, log zerolog.Logger) *Server {
	r := gin.New()
	s := &Server{
		Router:    r,
		Core:      core,
		Bus:       bus,
		Metrics:   metrics,
		JWTSecret: jwtSecret,
		Meta:      meta,
		log:       log.With().Str("component", "api").Logger(),
		limiter:   newIPLimiter(20, 50, 5*time.Minute),
	}

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(s.log, metrics))
	r.Use(RateLimitMiddleware(s.limiter, s.log))
	r.Use(TimeoutMiddleware(30 * time.Second))
	r.Use(CORSMiddleware())

	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)
	s.Router.GET("/ws", s.websocket)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/status", s.getStatus)
		api.GET("/diagnostics", s.getDiagnostics)
		api.GET("/trades", s.getTrades)
		api.GET("/metrics", s.getMetrics)

		protected := api.Group("")
		protected.Use(AuthMiddleware(s.JWTSecret))
		{
			protected.POST("/symbols/:code/reset", s.resetSymbol)
			protected.POST("/session/stop", s.stopSession)
		}
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Handler exposes the router for http.Server and httptest.
func (s *Server) Handler() http.Handler { return s.Router }

// Start serves on addr until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router, ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("api listening")

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdown)
	}
}
