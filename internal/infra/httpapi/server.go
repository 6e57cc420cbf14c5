// Package httpapi exposes RunTests over HTTP.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"coderun/internal/domain/execution"
	"coderun/internal/infra/wire"
)

const (
	requestIDHeader = "X-Request-Id"
	defaultMaxBody  = 1 << 20
)

// TestRunner is the part of the executor service the API needs.
type TestRunner interface {
	RunTests(ctx context.Context, submission execution.Submission) execution.Outcome
}

// Config holds the HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	// MaxBodyBytes caps the request body. Zero selects 1 MiB.
	MaxBodyBytes int64
}

type runResponse struct {
	ID string `json:"id"`
	wire.Outcome
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewServer builds an http.Server serving the API.
func NewServer(cfg Config, runner TestRunner, log *zap.Logger) *http.Server {
	return &http.Server{
		Addr:         cfg.Addr,
		Handler:      NewRouter(cfg, runner, log),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
}

// NewRouter wires the routes:
//
//	POST /v1/run   run a submission and return its outcome
//	GET  /healthz  liveness probe
func NewRouter(cfg Config, runner TestRunner, log *zap.Logger) *gin.Engine {
	if log == nil {
		log = zap.NewNop()
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = defaultMaxBody
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(requestLogger(log))

	h := &handler{runner: runner, maxBody: maxBody}
	router.POST("/v1/run", h.run)
	router.GET("/healthz", h.health)
	return router
}

type handler struct {
	runner  TestRunner
	maxBody int64
}

func (h *handler) run(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxBody)

	var envelope wire.Submission
	if err := c.ShouldBindJSON(&envelope); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body: " + err.Error()})
		return
	}

	submission, err := envelope.ToSubmission()
	if err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if submission.ID == "" {
		submission.ID = c.GetString("request_id")
	}

	outcome := h.runner.RunTests(c.Request.Context(), submission)
	c.JSON(http.StatusOK, runResponse{ID: submission.ID, Outcome: wire.FromOutcome(outcome)})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// requestID propagates the caller's request ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		log.Info("request completed",
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		)
	}
}
