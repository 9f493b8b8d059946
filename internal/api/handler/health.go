package handler

import (
	"context"
	"net/http"

	"github.com/arcaelas/mcp/internal/api/response"
)

// Pinger reports whether a backing service is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ToolNamer lists the names of the registered tools.
type ToolNamer interface {
	Names() []string
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health. It
// checks database and cache connectivity and lists the registered tools.
func NewHealthHandler(db, cache Pinger, tools ToolNamer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := cache.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
			"tools":    tools.Names(),
		})
	}
}
