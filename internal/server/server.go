// Package server exposes the ops HTTP surface: health, read-only agent and
// task listings, session controls, and Prometheus metrics.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"burrow/internal/logging"
	"burrow/internal/store"
)

// Session is the slice of the orchestrator the server needs.
type Session interface {
	Running() bool
	Clear(ctx context.Context) error
}

// Deps bundles the server's collaborators.
type Deps struct {
	Agents   store.AgentStore
	Tasks    store.TaskStore
	Session  Session
	Registry prometheus.Gatherer
}

// Server is the ops HTTP server.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger logging.Logger
}

// New builds the server listening on addr.
func New(addr string, deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	s := &Server{
		deps:   deps,
		engine: engine,
		logger: logging.NewComponentLogger("Server"),
		http: &http.Server{
			Addr:         addr,
			Handler:      engine,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)
	api.GET("/agents", s.handleListAgents)
	api.GET("/agents/:id", s.handleGetAgent)
	api.GET("/tasks", s.handleListTasks)
	api.POST("/session/clear", s.handleClear)

	if s.deps.Registry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{})))
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("ops server listening on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// Handler exposes the engine for tests.
func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) handleHealth(c *gin.Context) {
	running := false
	if s.deps.Session != nil {
		running = s.deps.Session.Running()
	}
	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"container_running": running,
	})
}

func (s *Server) handleListAgents(c *gin.Context) {
	agents, err := s.deps.Agents.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	// Secret names are configuration, not data to expose.
	for _, a := range agents {
		a.Secrets = nil
	}
	c.JSON(http.StatusOK, gin.H{"agents": agents})
}

func (s *Server) handleGetAgent(c *gin.Context) {
	agent, err := s.deps.Agents.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "agent not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	agent.Secrets = nil
	c.JSON(http.StatusOK, agent)
}

func (s *Server) handleListTasks(c *gin.Context) {
	tasks, err := s.deps.Tasks.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

func (s *Server) handleClear(c *gin.Context) {
	if s.deps.Session == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no active session"})
		return
	}
	if err := s.deps.Session.Clear(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
