package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/arcaelas/mcp/internal/api/response"
	"github.com/arcaelas/mcp/internal/tools"
	"github.com/go-chi/chi/v5"
)

// ToolLister lists the available tools.
type ToolLister interface {
	List() []tools.Definition
}

// ToolCaller runs a tool to completion.
type ToolCaller interface {
	Call(ctx context.Context, tool string, args map[string]any) (*tools.Result, error)
}

// NewListToolsHandler returns an http.HandlerFunc for GET /api/v1/tools.
func NewListToolsHandler(l ToolLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, l.List())
	}
}

// NewCallToolHandler returns an http.HandlerFunc for POST /api/v1/tools/{name}.
// The body is the argument object; the request waits for the job to finish.
func NewCallToolHandler(c ToolCaller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")

		args, err := decodeArguments(r.Body)
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		res, err := c.Call(r.Context(), name, args)
		if err != nil {
			writeCallError(w, r, err)
			return
		}

		response.JSON(w, res)
	}
}

// decodeArguments reads a JSON object. An empty body is an empty object.
func decodeArguments(body io.Reader) (map[string]any, error) {
	args := map[string]any{}
	dec := json.NewDecoder(body)
	dec.UseNumber()
	if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
