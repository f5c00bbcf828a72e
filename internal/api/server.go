// Package api exposes pathforge over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/pathforge/internal/analyzer"
	"github.com/pathforge/internal/chunker"
	"github.com/pathforge/internal/index"
	"github.com/pathforge/internal/planner"
	"github.com/pathforge/internal/progress"
	"github.com/pathforge/internal/tutor"
	"github.com/pathforge/pkg/models"
)

// Deps carries the wired services the handlers delegate to.
type Deps struct {
	Chunker     *chunker.Chunker
	Engine      *index.Engine
	Analyzer    *analyzer.Analyzer
	Planner     *planner.Planner
	Coordinator *progress.Coordinator
	Catalog     *progress.PathCatalog
	Tutor       *tutor.Service
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	port int
	deps Deps

	mu        sync.RWMutex
	paths     map[string]*models.LearningPath
	snapshots map[string][]models.SourceFile
}

// NewServer creates a new API server
func NewServer(port int, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	server := &Server{
		echo:      e,
		port:      port,
		deps:      deps,
		paths:     make(map[string]*models.LearningPath),
		snapshots: make(map[string][]models.SourceFile),
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	v1 := s.echo.Group("/api/v1")

	v1.POST("/repositories/:id/ingest", s.ingestRepository)
	v1.POST("/repositories/:id/reindex", s.reindexRepository)
	v1.POST("/repositories/:id/plan", s.planRepository)
	v1.GET("/repositories/:id/query", s.queryRepository)
	v1.GET("/paths/:id/spec", s.exportSpec)
	v1.PUT("/paths/:id/spec", s.importSpec)
	v1.POST("/progress", s.applyProgress)
	v1.POST("/learners/:id/tasks/:task/reopen", s.reopenTask)
	v1.GET("/learners/:id/metrics", s.learnerMetrics)
	v1.POST("/ask", s.ask)
}

// Start begins the API server and blocks until an interrupt arrives.
func (s *Server) Start() error {
	go func() {
		if err := s.echo.Start(fmt.Sprintf(":%d", s.port)); err != nil && err != http.ErrServerClosed {
			s.echo.Logger.Fatal("shutting down the server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(ctx)
}

// storePath keeps a planned path addressable and its tasks resolvable for
// progress intake.
func (s *Server) storePath(path *models.LearningPath) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paths[path.ID] = path
	if s.deps.Catalog != nil {
		s.deps.Catalog.Add(path)
	}
}

func (s *Server) lookupPath(id string) (*models.LearningPath, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.paths[id]
	return p, ok
}

// rememberSnapshot keeps the last ingested snapshot so a later plan request
// can analyze it without a re-upload.
func (s *Server) rememberSnapshot(repositoryID string, files []models.SourceFile) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[repositoryID] = files
}

func (s *Server) snapshotFor(repositoryID string) ([]models.SourceFile, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	files, ok := s.snapshots[repositoryID]
	return files, ok
}
