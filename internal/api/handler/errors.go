package handler

import (
	"errors"
	"net/http"

	"github.com/arcaelas/mcp/internal/api/response"
	"github.com/arcaelas/mcp/internal/jobs"
	"github.com/arcaelas/mcp/internal/orchestrator"
	"github.com/arcaelas/mcp/internal/store"
	"github.com/arcaelas/mcp/internal/tools"
)

// statusClientClosedRequest is nginx's status for a request the client
// abandoned before the response was ready.
const statusClientClosedRequest = 499

// writeCallError maps a tool or job failure to an error response.
func writeCallError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, tools.ErrInvalidArguments):
		response.Error(w, http.StatusBadRequest, "INVALID_ARGUMENTS", err.Error(), nil)
	case errors.Is(err, tools.ErrToolNotFound):
		response.Error(w, http.StatusNotFound, "TOOL_NOT_FOUND", err.Error(), nil)
	case errors.Is(err, orchestrator.ErrSubmissionFailed):
		response.Error(w, http.StatusBadGateway, "SUBMISSION_FAILED",
			"The job service rejected the submission", map[string]string{"reason": err.Error()})
	case errors.Is(err, orchestrator.ErrDownloadFailed):
		response.Error(w, http.StatusBadGateway, "DOWNLOAD_FAILED",
			"No job result could be retrieved", map[string]string{"reason": err.Error()})
	case errors.Is(err, orchestrator.ErrTimeout):
		response.Error(w, http.StatusGatewayTimeout, "JOB_TIMEOUT",
			"The job did not finish in time", map[string]string{"reason": err.Error()})
	case errors.Is(err, orchestrator.ErrCanceled) && r.Context().Err() != nil:
		response.Error(w, statusClientClosedRequest, "REQUEST_CANCELED",
			"The request was canceled before the job finished", nil)
	case errors.Is(err, orchestrator.ErrCanceled):
		response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"The job was canceled before it finished", nil)
	case errors.Is(err, jobs.ErrShuttingDown):
		response.Error(w, http.StatusServiceUnavailable, "UNAVAILABLE",
			"The server is shutting down", nil)
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Resource not found", nil)
	default:
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
			"An unexpected error occurred", nil)
	}
}
