// Package api exposes the conversation control plane over HTTP: REST
// endpoints for creating and steering conversations, an ingest endpoint for
// external runtimes to report action results, and a WebSocket feed of the
// event journal.
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/DistilledAI/conductor/pkg/config"
	"github.com/DistilledAI/conductor/pkg/events"
	"github.com/DistilledAI/conductor/pkg/session"
)

// Server is the HTTP front of the conversation manager. pool, journal and
// connManager are optional: without them the persistence-backed endpoints
// degrade (history 404s once a session leaves memory, /ws reports
// unavailable) but the live conversation surface works unchanged.
type Server struct {
	cfg         *config.Config
	manager     *session.Manager
	pool        *pgxpool.Pool
	journal     *events.Journal
	connManager *events.ConnectionManager

	engine  *gin.Engine
	httpSrv *http.Server
}

// NewServer assembles the router and all routes.
func NewServer(cfg *config.Config, manager *session.Manager, pool *pgxpool.Pool, journal *events.Journal, connManager *events.ConnectionManager) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		cfg:         cfg,
		manager:     manager,
		pool:        pool,
		journal:     journal,
		connManager: connManager,
	}

	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger(), securityHeaders())
	s.registerRoutes(engine)
	s.engine = engine

	s.httpSrv = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(e *gin.Engine) {
	e.GET("/ws", s.wsHandler)

	v1 := e.Group("/api/v1")
	v1.GET("/health", s.healthHandler)

	conv := v1.Group("/conversations")
	conv.POST("", s.createConversationHandler)
	conv.GET("", s.listConversationsHandler)
	conv.GET("/:id", s.getConversationHandler)
	conv.DELETE("/:id", s.deleteConversationHandler)
	conv.POST("/:id/messages", s.sendMessageHandler)
	conv.POST("/:id/confirm", s.confirmHandler)
	conv.POST("/:id/observations", s.ingestObservationHandler)
	conv.GET("/:id/events", s.getEventsHandler)
	conv.GET("/:id/plan", s.getPlanHandler)
	conv.GET("/:id/trajectory", s.getTrajectoryHandler)
}

// Handler returns the assembled router, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.engine }

// Start listens on addr and serves until Shutdown. It returns
// http.ErrServerClosed after a clean shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv.Addr = addr
	return s.httpSrv.ListenAndServe()
}

// StartWithListener serves on an existing listener. Tests use it to bind an
// ephemeral port before the server goroutine starts.
func (s *Server) StartWithListener(ln net.Listener) error {
	return s.httpSrv.Serve(ln)
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}
