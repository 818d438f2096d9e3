package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reelsmith/internal/jobs"
	"reelsmith/internal/logging"
	"reelsmith/internal/services"
)

const defaultListLimit = 100

func (s *Server) health(c *gin.Context) {
	ctx := c.Request.Context()
	resp := HealthResponse{Status: "ok", Store: "ok"}
	code := http.StatusOK
	if err := s.opts.Jobs.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Store = err.Error()
		code = http.StatusServiceUnavailable
	}
	if s.opts.Workflow != nil {
		wf := FromStatusSummary(s.opts.Workflow.Status(ctx))
		for _, h := range wf.StageHealth {
			if !h.Ready {
				resp.Status = "degraded"
				code = http.StatusServiceUnavailable
			}
		}
		resp.Workflow = &wf
	}
	c.JSON(code, resp)
}

func (s *Server) workflowStatus(c *gin.Context) {
	if s.opts.Workflow == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "workflow is not running in this process", Code: "workflow_unavailable"})
		return
	}
	c.JSON(http.StatusOK, FromStatusSummary(s.opts.Workflow.Status(c.Request.Context())))
}

func (s *Server) stats(c *gin.Context) {
	counts, err := s.opts.Jobs.Stats(c.Request.Context())
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobStatsResponse{Counts: counts})
}

func (s *Server) listJobs(c *gin.Context) {
	statuses, err := ParseStatuses(c.QueryArray("status"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.abortWithError(c, services.Errorf(services.ErrValidation, "", "job_list", "invalid limit %q", raw))
			return
		}
	}
	items, err := s.opts.Jobs.List(c.Request.Context(), limit, statuses...)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, JobListResponse{Items: items})
}

func (s *Server) submitJob(c *gin.Context) {
	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.abortWithError(c, services.Wrap(services.ErrValidation, "", "job_submit", "invalid request body", err,
			services.WithCode("invalid_request")))
		return
	}
	job, err := s.opts.Jobs.Submit(c.Request.Context(), req)
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	logging.WithContext(c.Request.Context(), s.logger).Info("job submitted",
		logging.String(logging.FieldJobID, job.ID),
		logging.String("query", job.Query),
		logging.String(logging.FieldEventType, "job_submitted"),
	)
	c.JSON(http.StatusCreated, job)
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.opts.Jobs.Describe(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) cancelJob(c *gin.Context) {
	job, err := s.opts.Jobs.Cancel(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	logging.WithContext(c.Request.Context(), s.logger).Info("job cancel requested",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldEventType, "job_cancel_requested"),
	)
	c.JSON(http.StatusOK, job)
}

func (s *Server) retryJob(c *gin.Context) {
	job, err := s.opts.Jobs.Retry(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.abortWithError(c, err)
		return
	}
	logging.WithContext(c.Request.Context(), s.logger).Info("job retry requested",
		logging.String(logging.FieldJobID, job.ID),
		logging.String(logging.FieldStage, job.Progress.Stage),
		logging.String(logging.FieldEventType, "job_retry_requested"),
	)
	c.JSON(http.StatusOK, job)
}

// abortWithError writes err with the status its kind maps to.
func (s *Server) abortWithError(c *gin.Context, err error) {
	desc := services.Describe(err)
	code := StatusForError(err)
	if code >= http.StatusInternalServerError {
		logging.WithContext(c.Request.Context(), s.logger).Warn("api request failed",
			logging.String(logging.FieldErrorKind, desc.Kind),
			logging.String(logging.FieldErrorCode, desc.Code),
			logging.Error(err),
		)
	}
	if code == http.StatusServiceUnavailable || code == http.StatusTooManyRequests {
		c.Header("Retry-After", "1")
	}
	c.AbortWithStatusJSON(code, ErrorResponse{Error: err.Error(), Code: desc.Code, Kind: desc.Kind})
}

// StatusForError maps an error kind to an HTTP status.
func StatusForError(err error) int {
	switch {
	case errors.Is(err, jobs.ErrTerminal), errors.Is(err, services.ErrCancelled):
		return http.StatusConflict
	case errors.Is(err, services.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, services.ErrTransient), errors.Is(err, services.ErrTimeout):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
