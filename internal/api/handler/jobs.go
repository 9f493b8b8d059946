package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/arcaelas/mcp/internal/api/response"
	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/pkg/models"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const (
	defaultPageLimit = 20
	maxPageLimit     = 100
)

// JobService is the part of the job service the handlers depend on.
type JobService interface {
	Submit(ctx context.Context, tool string, args map[string]any) (*models.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Job, error)
	List(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
}

// NewSubmitJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewSubmitJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Tool      string         `json:"tool"`
			Arguments map[string]any `json:"arguments"`
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}
		if req.Tool == "" {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "tool is required", nil)
			return
		}
		if req.Arguments == nil {
			req.Arguments = map[string]any{}
		}

		job, err := svc.Submit(r.Context(), req.Tool, req.Arguments)
		if err != nil {
			writeCallError(w, r, err)
			return
		}

		response.Accepted(w, "/api/v1/jobs/"+job.ID.String(), job)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_JOB_ID", "Invalid job ID format", nil)
			return
		}

		job, err := svc.Get(r.Context(), jobID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "JOB_NOT_FOUND", "Job not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load job", nil)
			return
		}

		response.JSON(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		state := q.Get("state")
		if state != "" && !models.IsJobState(state) {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Unknown job state", nil)
			return
		}

		filter := store.JobFilter{
			Tool:  q.Get("tool"),
			State: state,
			Page:  queryInt(q.Get("page"), 1),
			Limit: queryInt(q.Get("limit"), defaultPageLimit),
		}
		if filter.Page < 1 {
			filter.Page = 1
		}
		if filter.Limit < 1 {
			filter.Limit = defaultPageLimit
		}
		if filter.Limit > maxPageLimit {
			filter.Limit = maxPageLimit
		}

		jobs, total, err := svc.List(r.Context(), filter)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list jobs", nil)
			return
		}
		if jobs == nil {
			jobs = []*models.Job{}
		}

		response.Collection(w, jobs, response.NewPage(filter.Page, filter.Limit, total))
	}
}

func queryInt(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
