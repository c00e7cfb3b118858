// Package server exposes the gateway's HTTP surface: the four inference
// dialects plus the JWT-protected admin API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/mcowger/plexus/internal/accounting"
	"github.com/mcowger/plexus/internal/config"
	"github.com/mcowger/plexus/internal/cooldown"
	"github.com/mcowger/plexus/internal/dispatch"
	"github.com/mcowger/plexus/internal/obs"
	"github.com/mcowger/plexus/internal/router"
	"github.com/mcowger/plexus/internal/store"
	"github.com/mcowger/plexus/internal/trace"
)

// Deps are the server's collaborators, wired by the command layer.
type Deps struct {
	Holder     *config.Holder
	Router     *router.Router
	Dispatcher *dispatch.Dispatcher
	Cooldowns  *cooldown.Manager
	Tracer     *trace.Tracer
	Accounting *accounting.Accounting
	Store      *store.Store
	Ring       *obs.RingHook
	ConfigPath string
}

// Server is the HTTP front end.
type Server struct {
	deps   Deps
	engine *gin.Engine

	httpServer *http.Server

	version string
}

// Option configures optional server behavior.
type Option func(*Server)

// WithVersion sets the version string reported by the health endpoint.
func WithVersion(version string) Option {
	return func(s *Server) { s.version = version }
}

// New builds the engine and registers all routes.
func New(deps Deps, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		deps:    deps,
		engine:  gin.New(),
		version: "dev",
	}
	for _, opt := range opts {
		opt(s)
	}
	s.engine.Use(gin.Recovery(), requestLogger())
	s.setupRoutes()
	return s
}

// Engine returns the gin engine, used by tests.
func (s *Server) Engine() *gin.Engine { return s.engine }

func (s *Server) setupRoutes() {
	s.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": s.version})
	})

	s.engine.POST("/v1/chat/completions", s.handleOpenAIChat)
	s.engine.POST("/v1/responses", s.handleOpenAIResponses)
	s.engine.POST("/v1/messages", s.handleAnthropic)
	// Gemini encodes model and action in one path segment
	// (models/<model>:generateContent), so this is a catch-all.
	s.engine.POST("/v1beta/models/*action", s.handleGemini)

	s.engine.POST("/v0/auth/token", s.handleAuthToken)

	admin := s.engine.Group("/v0", s.adminAuth())
	admin.GET("/config", s.handleGetConfig)
	admin.POST("/config", s.handleSetConfig)
	admin.GET("/config/history", s.handleConfigHistory)
	admin.GET("/state", s.handleGetState)
	admin.POST("/state", s.handleSetState)
	admin.GET("/usage", s.handleUsage)
	admin.GET("/logs", s.handleListLogs)
	admin.GET("/logs/runtime", s.handleRuntimeLogs)
	admin.GET("/logs/:id", s.handleGetLog)
	admin.DELETE("/logs/:id", s.handleDeleteLog)
	admin.POST("/oauth/:provider/exchange", s.handleOAuthExchange)
}

// requestLogger emits one debug line per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logrus.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
		}).Debug("http request")
	}
}

// Run blocks serving HTTP until Shutdown is called.
func (s *Server) Run() error {
	cfg := s.deps.Holder.Get().Config.Server
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}
	logrus.WithField("addr", addr).Info("server listening")
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting connections and waits for in-flight requests
// until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
