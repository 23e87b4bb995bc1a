// Package api wires the HTTP surface (spec.md §6): ingest, transcript
// upload, health, the authenticated WebSocket upgrade, and a small set of
// read-only CRUD endpoints the CLI/TUI use. Grounded on the teacher's
// pkg/api server.go (Echo v5, route groups, graceful Start/Shutdown).
package api

import (
	"context"
	"net"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/devtrack/eventpipeline/pkg/config"
	"github.com/devtrack/eventpipeline/pkg/database"
	"github.com/devtrack/eventpipeline/pkg/eventlog"
	"github.com/devtrack/eventpipeline/pkg/identity"
	"github.com/devtrack/eventpipeline/pkg/ingest"
	"github.com/devtrack/eventpipeline/pkg/objectstore"
	"github.com/devtrack/eventpipeline/pkg/pipeline"
	"github.com/devtrack/eventpipeline/pkg/session"
	"github.com/devtrack/eventpipeline/pkg/ws"
)

// maxUploadBytes bounds a transcript upload body (spec.md §4.I point 1).
const maxUploadBytes = 200 * 1024 * 1024

// Server is the HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	cfg       *config.Config
	db        *database.Client
	sessions  *session.Store
	identity  *identity.Resolver
	processor *ingest.Processor
	log       *eventlog.Log
	store     objectstore.Store
	pool      *pipeline.Pool
	wsManager *ws.ConnectionManager
}

// NewServer builds the server and registers all routes.
func NewServer(
	cfg *config.Config,
	db *database.Client,
	sessions *session.Store,
	identityResolver *identity.Resolver,
	processor *ingest.Processor,
	log *eventlog.Log,
	store objectstore.Store,
	pool *pipeline.Pool,
	wsManager *ws.ConnectionManager,
) *Server {
	e := echo.New()

	s := &Server{
		echo:      e,
		cfg:       cfg,
		db:        db,
		sessions:  sessions,
		identity:  identityResolver,
		processor: processor,
		log:       log,
		store:     store,
		pool:      pool,
		wsManager: wsManager,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(maxUploadBytes + 4096))
	s.echo.Use(securityHeaders())

	s.echo.GET("/api/health", s.healthHandler)

	authed := s.echo.Group("/api")
	authed.Use(s.bearerAuth())

	authed.POST("/events/ingest", s.ingestHandler)
	authed.POST("/sessions/:id/transcript/upload", s.uploadTranscriptHandler)

	authed.GET("/sessions", s.listSessionsHandler)
	authed.GET("/sessions/:id", s.getSessionHandler)
	authed.GET("/sessions/:id/timeline", s.getTimelineHandler)
	authed.GET("/workspaces", s.listWorkspacesHandler)

	// The WS upgrade route authenticates itself (token may arrive via a
	// query parameter, not just the Authorization header) and reports a
	// mismatch with WebSocket close code 4401 rather than an HTTP 401, so
	// it is registered outside the bearerAuth group (spec.md §4.G/§7).
	s.echo.GET("/api/ws", s.wsUpgradeHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.echo}
	return s.httpServer.ListenAndServe()
}

// StartWithListener serves on a pre-created listener (test infrastructure).
func (s *Server) StartWithListener(ln net.Listener) error {
	s.httpServer = &http.Server{Handler: s.echo}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops accepting new requests, then closes every
// live WebSocket client with a normal closure. net/http's own Shutdown
// only waits out in-flight handlers and never touches a hijacked
// WebSocket connection's blocking read loop, so that close has to happen
// explicitly here before Shutdown returns. Callers are responsible for
// draining in-flight ingest/pipeline work and closing DB/log/object-store
// clients afterward, per spec.md §5's shutdown ordering.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	err := s.httpServer.Shutdown(ctx)
	s.wsManager.CloseAll()
	return err
}

// shortCtx bounds a dependency check so a hung dependency cannot wedge
// the health handler.
func shortCtx(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(parent, 5*time.Second)
}
