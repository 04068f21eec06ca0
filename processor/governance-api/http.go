package governanceapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// maxRequestBodySize limits POST body sizes to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// workspaceHeader carries the caller's workspace identity. Every
// request is scoped to it; proposals in other workspaces are
// indistinguishable from missing ones.
const workspaceHeader = "X-Workspace-ID"

// RegisterHTTPHandlers registers all governance-api HTTP handlers under
// the given prefix. The prefix should be the path segment without a
// trailing slash (e.g. "api/proposals").
// Handlers are registered as:
//
//	GET  <prefix>              list proposals, optional ?basket_id=
//	GET  <prefix>/{id}         fetch a single proposal
//	POST <prefix>/{id}/approve approve and execute
//	POST <prefix>/{id}/reject  reject with a reason
//	POST <prefix>/{id}/execute retry execution of an approved proposal
func (c *Component) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")

	mux.HandleFunc(prefix, c.handleList)
	mux.HandleFunc(prefix+"/", c.handleProposal(prefix+"/"))
}

// ListResponse wraps the proposal list.
type ListResponse struct {
	Proposals []*substrate.Proposal `json:"proposals"`
}

// ReviewRequest is the body for approve and reject calls.
type ReviewRequest struct {
	// Notes is the reviewer's optional commentary on approval.
	Notes string `json:"notes,omitempty"`

	// Reason is the required explanation on rejection.
	Reason string `json:"reason,omitempty"`
}

// ReviewResponse is returned from approve and reject calls.
type ReviewResponse struct {
	Proposal *substrate.Proposal `json:"proposal"`

	// ExecutionError is set when approval succeeded but execution
	// failed. The proposal stays approved and can be retried.
	ExecutionError string `json:"execution_error,omitempty"`
}

// handleList returns the workspace's proposals, optionally filtered by
// basket.
func (c *Component) handleList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	workspaceID := r.Header.Get(workspaceHeader)
	if workspaceID == "" {
		http.Error(w, "Missing "+workspaceHeader+" header", http.StatusBadRequest)
		return
	}

	basketID := r.URL.Query().Get("basket_id")
	proposals, err := c.engine.List(r.Context(), workspaceID, basketID)
	if err != nil {
		c.logger.Error("Proposal list failed", "workspace_id", workspaceID, "error", err)
		http.Error(w, "Failed to list proposals", http.StatusInternalServerError)
		return
	}
	if proposals == nil {
		proposals = []*substrate.Proposal{}
	}
	writeJSON(w, http.StatusOK, ListResponse{Proposals: proposals})
}

// handleProposal dispatches /{id}, /{id}/approve and /{id}/reject.
func (c *Component) handleProposal(prefix string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		workspaceID := r.Header.Get(workspaceHeader)
		if workspaceID == "" {
			http.Error(w, "Missing "+workspaceHeader+" header", http.StatusBadRequest)
			return
		}

		rest := strings.TrimPrefix(r.URL.Path, prefix)
		id, action, _ := strings.Cut(rest, "/")
		if id == "" || strings.Contains(action, "/") {
			http.Error(w, "Proposal not found", http.StatusNotFound)
			return
		}

		switch action {
		case "":
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			c.getProposal(w, r, workspaceID, id)
		case "approve":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			c.approveProposal(w, r, workspaceID, id)
		case "reject":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			c.rejectProposal(w, r, workspaceID, id)
		case "execute":
			if r.Method != http.MethodPost {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			c.executeProposal(w, r, workspaceID, id)
		default:
			http.Error(w, "Proposal not found", http.StatusNotFound)
		}
	}
}

func (c *Component) getProposal(w http.ResponseWriter, r *http.Request, workspaceID, id string) {
	p, err := c.engine.Get(r.Context(), workspaceID, id)
	if err != nil {
		c.writeProposalError(w, id, err, "Proposal lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// approveProposal approves a proposed proposal and executes it. If
// execution fails the proposal remains approved and the response
// carries the execution error for the caller to retry on.
func (c *Component) approveProposal(w http.ResponseWriter, r *http.Request, workspaceID, id string) {
	req, ok := c.decodeReview(w, r)
	if !ok {
		return
	}

	p, err := c.engine.Approve(r.Context(), workspaceID, id, req.Notes)
	if err != nil {
		if p != nil && substrate.IsExecutionFailure(err) {
			c.logger.Warn("Proposal approved but execution failed",
				"proposal_id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError,
				ReviewResponse{Proposal: p, ExecutionError: err.Error()})
			return
		}
		c.writeProposalError(w, id, err, "Proposal approval failed")
		return
	}
	c.approvals.Add(1)
	writeJSON(w, http.StatusOK, ReviewResponse{Proposal: p})
}

// ExecuteResponse is returned from execute calls.
type ExecuteResponse struct {
	Result *substrate.ExecutionResult `json:"result"`
}

// executeProposal retries execution of an approved proposal, the
// recovery path when an approval succeeded but its execution failed.
// Executed proposals return their recorded result, so repeats are safe.
func (c *Component) executeProposal(w http.ResponseWriter, r *http.Request, workspaceID, id string) {
	result, err := c.engine.ExecuteApproved(r.Context(), workspaceID, id)
	if err != nil {
		if substrate.IsExecutionFailure(err) {
			c.logger.Warn("Proposal execution retry failed",
				"proposal_id", id, "error", err)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		c.writeProposalError(w, id, err, "Proposal execution failed")
		return
	}
	c.executions.Add(1)
	writeJSON(w, http.StatusOK, ExecuteResponse{Result: result})
}

// rejectProposal rejects a proposed proposal. A reason is required and
// rejection is terminal.
func (c *Component) rejectProposal(w http.ResponseWriter, r *http.Request, workspaceID, id string) {
	req, ok := c.decodeReview(w, r)
	if !ok {
		return
	}

	p, err := c.engine.Reject(r.Context(), workspaceID, id, req.Reason)
	if err != nil {
		c.writeProposalError(w, id, err, "Proposal rejection failed")
		return
	}
	c.rejections.Add(1)
	writeJSON(w, http.StatusOK, ReviewResponse{Proposal: p})
}

// decodeReview parses the optional review body. An empty body is
// treated as an empty request; approve does not require notes.
func (c *Component) decodeReview(w http.ResponseWriter, r *http.Request) (ReviewRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return req, false
	}
	return req, true
}

// writeProposalError maps engine errors to HTTP statuses. Lookups in
// the wrong workspace fall under ErrNotFound and return the same 404 a
// missing proposal does.
func (c *Component) writeProposalError(w http.ResponseWriter, id string, err error, logMsg string) {
	var verr *substrate.ValidationError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		http.Error(w, "Proposal not found", http.StatusNotFound)
	case substrate.IsInvalidTransition(err):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.As(err, &verr):
		http.Error(w, verr.Error(), http.StatusBadRequest)
	default:
		c.logger.Error(logMsg, "proposal_id", id, "error", err)
		http.Error(w, "Internal error", http.StatusInternalServerError)
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
