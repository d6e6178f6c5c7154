package ops

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/alerting"
	httperr "github.com/bursarynetwork007/auxeira-backend-sub004/internal/core/errors"
	"github.com/bursarynetwork007/auxeira-backend-sub004/internal/job"
)

// Service exposes the operator surface: job lifecycle and alert management.
type Service struct {
	jobs   *job.Manager
	alerts *alerting.Manager
}

func NewService(jobs *job.Manager, alerts *alerting.Manager) *Service {
	if jobs == nil {
		panic("ops: job manager must not be nil")
	}
	if alerts == nil {
		panic("ops: alert manager must not be nil")
	}
	return &Service{jobs: jobs, alerts: alerts}
}

// RegisterRoutes registers the ops service routes.
func (s *Service) RegisterRoutes(r gin.IRouter) {
	r.GET("/v1/jobs", s.ListJobsHandler)
	r.POST("/v1/jobs", s.SubmitJobHandler)
	r.GET("/v1/jobs/:name", s.JobStatusHandler)
	r.POST("/v1/jobs/:name/stop", s.StopJobHandler)
	r.POST("/v1/jobs/:name/restart", s.RestartJobHandler)
	r.POST("/v1/jobs/:name/suspend", s.SuspendJobHandler)
	r.POST("/v1/jobs/:name/resume", s.ResumeJobHandler)

	r.GET("/v1/alerts", s.ListAlertsHandler)
	r.POST("/v1/alerts/:id/ack", s.AcknowledgeAlertHandler)
}

type submitRequest struct {
	Name string `json:"name" binding:"required"`
}

// SubmitJobHandler starts a job from its loaded definition. The definition
// file, not the request body, carries the pipeline configuration.
func (s *Service) SubmitJobHandler(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, httperr.HttpInvalidJsonError, "name is required", nil)
		return
	}

	j, err := s.jobs.Submit(req.Name)
	if err != nil {
		writeJobError(c, req.Name, err)
		return
	}
	slog.Info("Job submitted", "job", j.Name)
	c.JSON(http.StatusCreated, j)
}

func (s *Service) ListJobsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"jobs":        s.jobs.List(),
		"definitions": s.jobs.Definitions(),
	})
}

func (s *Service) JobStatusHandler(c *gin.Context) {
	j, err := s.jobs.Status(c.Param("name"))
	if err != nil {
		writeJobError(c, c.Param("name"), err)
		return
	}
	c.JSON(http.StatusOK, j)
}

func (s *Service) StopJobHandler(c *gin.Context) {
	name := c.Param("name")
	force := c.Query("force") == "true"
	if err := s.jobs.Stop(c.Request.Context(), name, force); err != nil {
		writeJobError(c, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "canceled", "job": name, "force": force})
}

func (s *Service) RestartJobHandler(c *gin.Context) {
	name := c.Param("name")
	if err := s.jobs.Restart(name); err != nil {
		writeJobError(c, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "restarting", "job": name})
}

func (s *Service) SuspendJobHandler(c *gin.Context) {
	name := c.Param("name")
	if err := s.jobs.Suspend(name); err != nil {
		writeJobError(c, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "suspended", "job": name})
}

func (s *Service) ResumeJobHandler(c *gin.Context) {
	name := c.Param("name")
	if err := s.jobs.Resume(name); err != nil {
		writeJobError(c, name, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "running", "job": name})
}

func (s *Service) ListAlertsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"alerts": s.alerts.List()})
}

func (s *Service) AcknowledgeAlertHandler(c *gin.Context) {
	id := c.Param("id")
	err := s.alerts.Acknowledge(id)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "acknowledged", "alert_id": id})
	case errors.Is(err, alerting.ErrUnknownAlert):
		writeError(c, http.StatusNotFound, httperr.HttpAlertNotFoundError, err.Error(), nil)
	case errors.Is(err, alerting.ErrAlreadyAcknowledged):
		writeError(c, http.StatusConflict, httperr.HttpAlertConflictError, err.Error(), nil)
	default:
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, err.Error(), nil)
	}
}

func writeJobError(c *gin.Context, name string, err error) {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		writeError(c, http.StatusNotFound, httperr.HttpJobNotFoundError, err.Error(), nil)
	case errors.Is(err, job.ErrJobExists), errors.Is(err, job.ErrBadState):
		writeError(c, http.StatusConflict, httperr.HttpJobConflictError, err.Error(), nil)
	default:
		slog.Error("Job operation failed", "job", name, "error", err)
		writeError(c, http.StatusInternalServerError, httperr.HttpInternalError, err.Error(), nil)
	}
}

func writeError(c *gin.Context, status int, errType, message string, details interface{}) {
	c.JSON(status, httperr.ErrorResponse{
		ErrorType: errType,
		Message:   message,
		Details:   details,
	})
}
