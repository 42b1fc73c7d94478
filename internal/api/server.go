// Package api exposes the job controller over HTTP. All endpoints speak
// JSON; errors carry an "error" field with the sanitized service message.
package api

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"redub/internal/deps"
	"redub/internal/job"
	"redub/internal/logging"
	"redub/internal/manifest"
	"redub/internal/services"
)

// Server holds the handler dependencies.
type Server struct {
	controller *job.Controller
	deps       []deps.Status
	logger     *slog.Logger
}

// NewRouter builds the gin engine with every route registered. The
// dependency statuses, when provided, are reported by /healthz.
func NewRouter(controller *job.Controller, dependencies []deps.Status, logger *slog.Logger) *gin.Engine {
	if logger == nil {
		logger = logging.NewNop()
	}
	s := &Server{controller: controller, deps: dependencies, logger: logger}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", s.health)

	v1 := router.Group("/api/v1")
	{
		jobs := v1.Group("/jobs")
		{
			jobs.POST("", s.submit)
			jobs.GET("", s.list)
			jobs.GET("/:id", s.status)
			jobs.GET("/:id/events", s.events)
			jobs.GET("/:id/artifacts", s.artifacts)
			jobs.GET("/:id/artifacts/:key", s.artifact)
			jobs.POST("/:id/cancel", s.cancel)
			jobs.POST("/:id/resume", s.resume)
			jobs.DELETE("/:id", s.remove)
		}
	}
	return router
}

func (s *Server) health(c *gin.Context) {
	payload := gin.H{"status": "ok"}
	if len(s.deps) > 0 {
		type dependency struct {
			Name      string `json:"name"`
			Command   string `json:"command"`
			Optional  bool   `json:"optional"`
			Available bool   `json:"available"`
			Detail    string `json:"detail,omitempty"`
		}
		out := make([]dependency, 0, len(s.deps))
		for _, status := range s.deps {
			out = append(out, dependency{
				Name:      status.Name,
				Command:   status.Command,
				Optional:  status.Optional,
				Available: status.Available,
				Detail:    status.Detail,
			})
			if !status.Available && !status.Optional {
				payload["status"] = "degraded"
			}
		}
		payload["dependencies"] = out
	}
	c.JSON(http.StatusOK, payload)
}

func (s *Server) submit(c *gin.Context) {
	var jc job.Config
	if err := c.ShouldBindJSON(&jc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	id, err := s.controller.Submit(c.Request.Context(), jc)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id})
}

// jobSummary is the list-view projection of a job record.
type jobSummary struct {
	ID          string             `json:"id"`
	Status      manifest.JobStatus `json:"status"`
	FailedStage string             `json:"failed_stage,omitempty"`
	Error       string             `json:"error,omitempty"`
	CreatedAt   string             `json:"created_at"`
	UpdatedAt   string             `json:"updated_at"`
}

func (s *Server) list(c *gin.Context) {
	records, err := s.controller.List(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]jobSummary, 0, len(records))
	for _, record := range records {
		out = append(out, jobSummary{
			ID:          record.ID,
			Status:      record.Status,
			FailedStage: record.FailedStage,
			Error:       record.ErrorMessage,
			CreatedAt:   record.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   record.UpdatedAt.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

func (s *Server) status(c *gin.Context) {
	status, err := s.controller.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) events(c *gin.Context) {
	since := int64(0)
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "since must be an integer"})
			return
		}
		since = parsed
	}
	events, err := s.controller.Events(c.Request.Context(), c.Param("id"), since)
	if err != nil {
		s.fail(c, err)
		return
	}
	if events == nil {
		events = []job.Event{}
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}

func (s *Server) artifacts(c *gin.Context) {
	artifacts, err := s.controller.Artifacts(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if artifacts == nil {
		artifacts = []job.ArtifactInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"artifacts": artifacts})
}

func (s *Server) artifact(c *gin.Context) {
	reader, err := s.controller.OpenArtifact(c.Request.Context(), c.Param("id"), c.Param("key"))
	if err != nil {
		s.fail(c, err)
		return
	}
	defer reader.Close()
	c.Status(http.StatusOK)
	c.Header("Content-Type", "application/octet-stream")
	if _, err := io.Copy(c.Writer, reader); err != nil {
		s.logger.Warn("artifact stream interrupted", logging.Error(err))
	}
}

func (s *Server) cancel(c *gin.Context) {
	if err := s.controller.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
}

func (s *Server) resume(c *gin.Context) {
	if err := s.controller.Resume(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "resuming"})
}

func (s *Server) remove(c *gin.Context) {
	if err := s.controller.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// fail maps service errors onto HTTP status codes.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, manifest.ErrJobNotFound), errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusUnprocessableEntity
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed",
			logging.String("path", c.FullPath()),
			logging.Error(err))
	}
	c.JSON(status, gin.H{"error": services.Message(err)})
}
