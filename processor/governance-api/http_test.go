package governanceapi

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// fakeEngine mimics the engine's review semantics over an in-memory
// proposal map. Lookups are workspace scoped.
type fakeEngine struct {
	proposals map[string]*substrate.Proposal

	executeErr error
	lastNotes  string
	lastReason string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{proposals: make(map[string]*substrate.Proposal)}
}

func (f *fakeEngine) put(p *substrate.Proposal) {
	f.proposals[p.WorkspaceID+"/"+p.ID] = p
}

func (f *fakeEngine) Get(_ context.Context, workspaceID, proposalID string) (*substrate.Proposal, error) {
	p, ok := f.proposals[workspaceID+"/"+proposalID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeEngine) List(_ context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error) {
	var out []*substrate.Proposal
	for _, p := range f.proposals {
		if p.WorkspaceID != workspaceID {
			continue
		}
		if basketID != "" && p.BasketID != basketID {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeEngine) Approve(ctx context.Context, workspaceID, proposalID, notes string) (*substrate.Proposal, error) {
	p, err := f.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != substrate.StatusProposed {
		return nil, &substrate.InvalidStateTransitionError{
			ProposalID: proposalID, From: p.Status, To: substrate.StatusApproved,
		}
	}
	p.Status = substrate.StatusApproved
	p.ReviewNotes = notes
	f.lastNotes = notes
	if f.executeErr != nil {
		return p, &substrate.ExecutionFailureError{
			ProposalID: proposalID, Op: substrate.OpCreateBlock, Err: f.executeErr,
		}
	}
	p.Status = substrate.StatusExecuted
	return p, nil
}

func (f *fakeEngine) ExecuteApproved(ctx context.Context, workspaceID, proposalID string) (*substrate.ExecutionResult, error) {
	p, err := f.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status == substrate.StatusExecuted {
		return p.ExecutionResult, nil
	}
	if p.Status != substrate.StatusApproved {
		return nil, &substrate.InvalidStateTransitionError{
			ProposalID: proposalID, From: p.Status, To: substrate.StatusExecuted,
		}
	}
	if f.executeErr != nil {
		return nil, &substrate.ExecutionFailureError{
			ProposalID: proposalID, Op: substrate.OpCreateBlock, Err: f.executeErr,
		}
	}
	p.Status = substrate.StatusExecuted
	p.ExecutionResult = &substrate.ExecutionResult{CreatedUnitIDs: []string{"unit-1"}}
	return p.ExecutionResult, nil
}

func (f *fakeEngine) Reject(ctx context.Context, workspaceID, proposalID, reason string) (*substrate.Proposal, error) {
	if reason == "" {
		return nil, &substrate.ValidationError{Field: "reason", Message: "rejection reason is required"}
	}
	p, err := f.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status != substrate.StatusProposed {
		return nil, &substrate.InvalidStateTransitionError{
			ProposalID: proposalID, From: p.Status, To: substrate.StatusRejected,
		}
	}
	p.Status = substrate.StatusRejected
	p.ReviewNotes = reason
	f.lastReason = reason
	return p, nil
}

func newTestServer(engine *fakeEngine) *http.ServeMux {
	c := &Component{
		name:   "governance-api",
		config: DefaultConfig(),
		logger: slog.Default(),
		engine: engine,
	}
	mux := http.NewServeMux()
	c.RegisterHTTPHandlers("api/proposals", mux)
	return mux
}

func proposedProposal(id, workspaceID, basketID string) *substrate.Proposal {
	return &substrate.Proposal{
		ID:          id,
		WorkspaceID: workspaceID,
		BasketID:    basketID,
		Origin:      substrate.OriginAgent,
		Status:      substrate.StatusProposed,
	}
}

func doRequest(t *testing.T, mux *http.ServeMux, method, path, workspaceID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	if workspaceID != "" {
		req.Header.Set(workspaceHeader, workspaceID)
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestListProposals(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	engine.put(proposedProposal("prop-2", "ws-1", "basket-b"))
	engine.put(proposedProposal("prop-3", "ws-2", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals", "ws-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Proposals) != 2 {
		t.Fatalf("expected 2 proposals, got %d", len(resp.Proposals))
	}
	for _, p := range resp.Proposals {
		if p.WorkspaceID != "ws-1" {
			t.Errorf("proposal %s leaked from workspace %s", p.ID, p.WorkspaceID)
		}
	}
}

func TestListProposalsBasketFilter(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	engine.put(proposedProposal("prop-2", "ws-1", "basket-b"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals?basket_id=basket-b", "ws-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Proposals) != 1 || resp.Proposals[0].ID != "prop-2" {
		t.Fatalf("expected only prop-2, got %+v", resp.Proposals)
	}
}

func TestListProposalsEmptyWorkspace(t *testing.T) {
	mux := newTestServer(newFakeEngine())

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals", "ws-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var resp ListResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Proposals == nil || len(resp.Proposals) != 0 {
		t.Fatalf("expected empty non-nil list, got %+v", resp.Proposals)
	}
}

func TestListProposalsRequiresWorkspaceHeader(t *testing.T) {
	mux := newTestServer(newFakeEngine())

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestGetProposal(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals/prop-1", "ws-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var p substrate.Proposal
	if err := json.Unmarshal(rec.Body.Bytes(), &p); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if p.ID != "prop-1" || p.Status != substrate.StatusProposed {
		t.Fatalf("unexpected proposal: %+v", p)
	}
}

func TestGetProposalWrongWorkspaceIsNotFound(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodGet, "/api/proposals/prop-1", "ws-2", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for cross-workspace access, got %d", rec.Code)
	}

	missing := doRequest(t, mux, http.MethodGet, "/api/proposals/prop-x", "ws-1", nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing proposal, got %d", missing.Code)
	}
	if rec.Body.String() != missing.Body.String() {
		t.Fatalf("cross-workspace and missing responses differ: %q vs %q",
			rec.Body.String(), missing.Body.String())
	}
}

func TestApproveProposal(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/approve", "ws-1",
		ReviewRequest{Notes: "looks good"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Proposal.Status != substrate.StatusExecuted {
		t.Errorf("expected executed status, got %s", resp.Proposal.Status)
	}
	if resp.ExecutionError != "" {
		t.Errorf("unexpected execution error: %s", resp.ExecutionError)
	}
	if engine.lastNotes != "looks good" {
		t.Errorf("notes not passed through, got %q", engine.lastNotes)
	}
}

func TestApproveProposalEmptyBody(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	req := httptest.NewRequest(http.MethodPost, "/api/proposals/prop-1/approve", nil)
	req.Header.Set(workspaceHeader, "ws-1")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for empty body, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestApproveExecutionFailureKeepsApproved(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	engine.executeErr = context.DeadlineExceeded
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/approve", "ws-1", ReviewRequest{})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var resp ReviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Proposal == nil || resp.Proposal.Status != substrate.StatusApproved {
		t.Fatalf("expected approved proposal in response, got %+v", resp.Proposal)
	}
	if resp.ExecutionError == "" {
		t.Error("expected execution_error in response")
	}
}

func TestApproveTerminalProposalConflicts(t *testing.T) {
	engine := newFakeEngine()
	p := proposedProposal("prop-1", "ws-1", "basket-a")
	p.Status = substrate.StatusRejected
	engine.put(p)
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/approve", "ws-1", ReviewRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for terminal proposal, got %d", rec.Code)
	}
}

func TestExecuteRecoversFailedApproval(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	engine.executeErr = context.DeadlineExceeded
	mux := newTestServer(engine)

	// Approval succeeds but execution fails, leaving the proposal
	// approved.
	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/approve", "ws-1", ReviewRequest{})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 on failed execution, got %d", rec.Code)
	}

	// Re-approving an approved proposal is an invalid transition; the
	// execute route is the recovery path.
	rec = doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/approve", "ws-1", ReviewRequest{})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 re-approving, got %d", rec.Code)
	}

	rec = doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/execute", "ws-1", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 while the fault persists, got %d", rec.Code)
	}

	engine.executeErr = nil
	rec = doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/execute", "ws-1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 once the fault clears, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ExecuteResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Result == nil || len(resp.Result.CreatedUnitIDs) != 1 {
		t.Fatalf("expected execution result, got %+v", resp.Result)
	}
	if engine.proposals["ws-1/prop-1"].Status != substrate.StatusExecuted {
		t.Error("proposal not executed after retry")
	}
}

func TestExecuteProposedConflicts(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/execute", "ws-1", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 executing a proposed proposal, got %d", rec.Code)
	}
}

func TestRejectProposal(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/reject", "ws-1",
		ReviewRequest{Reason: "wrong basket"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp ReviewResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Proposal.Status != substrate.StatusRejected {
		t.Errorf("expected rejected status, got %s", resp.Proposal.Status)
	}
	if engine.lastReason != "wrong basket" {
		t.Errorf("reason not passed through, got %q", engine.lastReason)
	}
}

func TestRejectProposalRequiresReason(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/reject", "ws-1", ReviewRequest{})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing reason, got %d", rec.Code)
	}
	stored := engine.proposals["ws-1/prop-1"]
	if stored.Status != substrate.StatusProposed {
		t.Errorf("proposal mutated by failed rejection: %s", stored.Status)
	}
}

func TestProposalMethodNotAllowed(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	if rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1", "ws-1", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST on proposal: expected 405, got %d", rec.Code)
	}
	if rec := doRequest(t, mux, http.MethodGet, "/api/proposals/prop-1/approve", "ws-1", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET on approve: expected 405, got %d", rec.Code)
	}
	if rec := doRequest(t, mux, http.MethodDelete, "/api/proposals", "ws-1", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("DELETE on list: expected 405, got %d", rec.Code)
	}
}

func TestProposalUnknownAction(t *testing.T) {
	engine := newFakeEngine()
	engine.put(proposedProposal("prop-1", "ws-1", "basket-a"))
	mux := newTestServer(engine)

	rec := doRequest(t, mux, http.MethodPost, "/api/proposals/prop-1/escalate", "ws-1", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown action, got %d", rec.Code)
	}
}
