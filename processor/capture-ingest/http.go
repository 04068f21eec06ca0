package captureingest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// workspaceHeader carries the caller's workspace identity. Every
// request is scoped to it; entities in other workspaces are
// indistinguishable from missing ones.
const workspaceHeader = "X-Workspace-ID"

// RegisterHTTPHandlers registers all capture-ingest HTTP handlers under
// the given prefix. The prefix should be the path segment without a
// trailing slash (e.g. "api/captures").
// Handlers are registered as:
//
//	POST <prefix>
//	GET  <prefix>/{id}
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc(prefix, c.handleSubmit)
	mux.HandleFunc(prefix+"/", c.handleGet(prefix+"/"))
}

// SubmitRequest is the request body for POST /api/captures.
type SubmitRequest struct {
	BasketID    string `json:"basket_id"`
	Content     string `json:"content"`
	ContentType string `json:"content_type,omitempty"`
	RequestID   string `json:"request_id"`
}

// SubmitResponse is returned for both fresh and duplicate submissions.
type SubmitResponse struct {
	Capture *substrate.Capture `json:"capture"`

	// Duplicate is true when the request ID matched a prior submission
	// and the original capture was returned.
	Duplicate bool `json:"duplicate"`
}

// handleSubmit accepts a capture submission. Submissions are idempotent
// on (workspace, basket, request_id): a retry returns the original
// capture with a 200 instead of a 201.
func (c *Component) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workspaceID := r.Header.Get(workspaceHeader)
	if workspaceID == "" {
		http.Error(w, "Missing "+workspaceHeader+" header", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.BasketID == "" {
		http.Error(w, "basket_id is required", http.StatusBadRequest)
		return
	}
	if req.Content == "" {
		http.Error(w, "content is required", http.StatusBadRequest)
		return
	}
	if req.RequestID == "" {
		http.Error(w, "request_id is required", http.StatusBadRequest)
		return
	}
	if c.config.MaxContentBytes > 0 && len(req.Content) > c.config.MaxContentBytes {
		http.Error(w, "content exceeds maximum size", http.StatusRequestEntityTooLarge)
		return
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = "text/plain"
	}

	capture, created, err := c.submitCapture(r.Context(), workspaceID, req.BasketID,
		req.Content, contentType, req.RequestID)
	if err != nil {
		c.logger.Error("Capture submission failed",
			"workspace_id", workspaceID, "error", err)
		http.Error(w, "Failed to store capture", http.StatusInternalServerError)
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	writeJSON(w, status, SubmitResponse{Capture: capture, Duplicate: !created})
}

// handleGet returns a single capture by ID, scoped to the caller's
// workspace. A capture in another workspace returns 404.
func (c *Component) handleGet(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		workspaceID := r.Header.Get(workspaceHeader)
		if workspaceID == "" {
			http.Error(w, "Missing "+workspaceHeader+" header", http.StatusBadRequest)
			return
		}

		id := strings.TrimPrefix(r.URL.Path, prefix)
		if id == "" || strings.Contains(id, "/") {
			http.Error(w, "Capture not found", http.StatusNotFound)
			return
		}

		capture, err := c.captures.Get(r.Context(), workspaceID, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				http.Error(w, "Capture not found", http.StatusNotFound)
				return
			}
			c.logger.Error("Capture lookup failed", "capture_id", id, "error", err)
			http.Error(w, "Failed to load capture", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, capture)
	}
}

// writeJSON marshals v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Response is already partially written; nothing useful to do.
		_ = err
	}
}
