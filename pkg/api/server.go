// Package api provides the ambient HTTP surface — health, readiness,
// metrics, and the one synchronous domain endpoint, hybrid search — on top
// of a Gin router. Everything else in this service runs through the job
// pipeline and webhook outbox rather than a REST CRUD surface.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/codeready-toolchain/agentbackend/pkg/database"
	"github.com/codeready-toolchain/agentbackend/pkg/jobqueue"
	"github.com/codeready-toolchain/agentbackend/pkg/metrics"
	"github.com/codeready-toolchain/agentbackend/pkg/search"
	"github.com/codeready-toolchain/agentbackend/pkg/version"
)

// Server is the ambient HTTP server: health, readiness, metrics, plus the
// one domain endpoint (hybrid search) agents call synchronously rather than
// through the job pipeline.
type Server struct {
	engine       *gin.Engine
	httpServer   *http.Server
	dbClient     *database.Client
	jobStore     *jobqueue.Store
	searchEngine *search.Engine
}

// NewServer builds a Server and registers its routes. jobStore may be nil,
// in which case readiness skips the pending-job check; searchEngine may be
// nil, in which case /search responds 503.
func NewServer(dbClient *database.Client, jobStore *jobqueue.Store, searchEngine *search.Engine) *Server {
	engine := gin.Default()

	s := &Server{
		engine:       engine,
		dbClient:     dbClient,
		jobStore:     jobStore,
		searchEngine: searchEngine,
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.healthzHandler)
	s.engine.GET("/readyz", s.readyzHandler)
	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{})))
	s.engine.POST("/search", s.searchHandler)
}

// healthzHandler reports liveness: the process is up and can reach the
// database. It never depends on queue backlog, since a restart wouldn't fix
// a stuck job and would only drop in-flight work.
func (s *Server) healthzHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(reqCtx, s.dbClient.DB.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"version":  version.Full(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
		"version":  version.Full(),
	})
}

// readyzHandler reports readiness: able to serve the job pipeline. Includes
// current pending-job counts by kind so operators can see backlog at a
// glance without a separate metrics query.
func (s *Server) readyzHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if _, err := database.Health(reqCtx, s.dbClient.DB.DB); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "error": err.Error()})
		return
	}

	resp := gin.H{"status": "ready"}
	if s.jobStore != nil {
		counts, err := s.jobStore.PendingCounts(reqCtx)
		if err == nil {
			resp["pending_jobs"] = counts
		}
	}
	c.JSON(http.StatusOK, resp)
}

// searchRequest is the wire shape of a hybrid search request: query is
// required, namespaces/tags/memory_type/limit/offset/weights are optional.
type searchRequest struct {
	Query        string   `json:"query" binding:"required"`
	Namespaces   []string `json:"namespaces"`
	Tags         []string `json:"tags"`
	MemoryType   string   `json:"memory_type"`
	Limit        int      `json:"limit"`
	Offset       int      `json:"offset"`
	VectorWeight *float64 `json:"vector_weight"`
	TextWeight   *float64 `json:"text_weight"`
}

// searchHandler runs hybrid search scoped to the caller identified by the
// X-User-Email header — set by the agent gateway that authenticated the
// request upstream of this service. This handler trusts that header rather
// than verifying credentials itself.
func (s *Server) searchHandler(c *gin.Context) {
	if s.searchEngine == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	var body searchRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	callerEmail := c.GetHeader("X-User-Email")
	if callerEmail == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "X-User-Email header is required"})
		return
	}

	resp, err := s.searchEngine.Search(c.Request.Context(), search.Request{
		CallerEmail:  callerEmail,
		Query:        body.Query,
		Namespaces:   body.Namespaces,
		Tags:         body.Tags,
		MemoryType:   body.MemoryType,
		Limit:        body.Limit,
		Offset:       body.Offset,
		VectorWeight: body.VectorWeight,
		TextWeight:   body.TextWeight,
	})
	if err != nil {
		if errors.Is(err, search.ErrEmptyQuery) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
