// Package httpapi exposes the hub over HTTP and WebSocket: authenticated
// REST routes for session CRUD/lifecycle, a raw per-session WebSocket, a
// lifecycle-only status WebSocket, and the multiplexed mobile WebSocket.
// Route shapes and auth rules follow the fixed external contract; the
// WebSocket connection-handling idioms (write-deadline wrapping, ping loop,
// panic recovery) are adapted from the desktop pane-streaming hub this
// service also embeds, generalized from one connection to many.
package httpapi

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"agenthub/internal/hub"
)

// Options configures the server.
type Options struct {
	BindHost  string
	BindPort  int
	Debug     bool
	StaticDir string // optional directory serving the bundled mobile client
}

// Server owns the gin engine and HTTP listener fronting the hub.
type Server struct {
	hub    *hub.Hub
	opts   Options
	engine *gin.Engine
	http   *http.Server
	addr   string
}

// New builds the gin engine and registers every route. Debug mode leaves
// gin's verbose request logger on; release mode switches gin to its quiet
// ReleaseMode.
func New(h *hub.Hub, opts Options) *Server {
	if !opts.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	if opts.Debug {
		engine.Use(gin.Logger())
	}

	s := &Server{hub: h, opts: opts, engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	if s.opts.StaticDir != "" {
		s.engine.Static("/assets", s.opts.StaticDir+"/assets")
		s.engine.StaticFile("/", s.opts.StaticDir+"/index.html")
	}

	authGroup := s.engine.Group("/api/auth")
	authGroup.GET("/check", s.handleAuthCheck)
	authGroup.POST("/request-pairing", s.handleRequestPairing)
	authGroup.POST("/pair", s.handlePair)
	authGroup.GET("/pin-status", s.handlePINStatus)
	authGroup.POST("/pin-login", s.handlePINLogin)

	sessions := s.engine.Group("/api/sessions")
	sessions.Use(s.requireAuth)
	sessions.GET("", s.handleListSessions)
	sessions.POST("", s.handleCreateSession)
	sessions.GET("/:id/buffer", s.handleGetBuffer)
	sessions.POST("/:id/start", s.handleStartSession)
	sessions.POST("/:id/interrupt", s.handleInterruptSession)

	ws := s.engine.Group("/api/ws")
	ws.Use(s.requireAuthQueryOrHeader)
	ws.GET("/:id", s.handleSessionWS)
	ws.GET("/status", s.handleStatusWS)
	ws.GET("/mobile", s.handleMobileWS)
}

// Start binds the listener and begins serving in a background goroutine. It
// returns once the listener is bound so callers can read Addr() immediately.
// Debug builds probe a small range above BindPort to avoid colliding with
// another running instance; release builds bind the fixed primary port only.
func (s *Server) Start(ctx context.Context) error {
	ln, err := s.listen()
	if err != nil {
		return fmt.Errorf("httpapi: listen: %w", err)
	}
	s.addr = ln.Addr().String()

	s.http = &http.Server{
		Handler: s.engine,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("[httpapi] server error", "error", err)
		}
	}()
	slog.Info("[httpapi] server started", "addr", s.addr)
	return nil
}

func (s *Server) listen() (net.Listener, error) {
	maxAttempts := 1
	if s.opts.Debug {
		maxAttempts = 10
	}
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		addr := fmt.Sprintf("%s:%d", s.opts.BindHost, s.opts.BindPort+i)
		ln, err := net.Listen("tcp", addr)
		if err == nil {
			return ln, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// Addr returns the bound listen address, valid after Start returns.
func (s *Server) Addr() string { return s.addr }

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.http == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}
