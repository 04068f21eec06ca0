package governance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// EngineConfig tunes governance decisions.
type EngineConfig struct {
	// AutoApproveThreshold is the minimum confidence for agent-origin
	// auto-approval.
	AutoApproveThreshold float64

	// ConflictWindow bounds executed-proposal conflict detection.
	ConflictWindow time.Duration
}

// DefaultEngineConfig returns the standard governance tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		AutoApproveThreshold: 0.7,
		ConflictWindow:       DefaultConflictWindow,
	}
}

// Engine is the governance decision point. Every proposal flows through
// Submit; approvals and rejections flow through Approve and Reject.
// Decision and execution for a workspace are serialized under a
// per-workspace lock, so two interleaved approvals can never both
// execute against a stale view of substrate.
type Engine struct {
	proposals ProposalStore
	units     UnitStore
	validator *Validator
	detector  *Detector
	executor  *Executor
	emitter   *substrate.Emitter
	graph     GraphPublisher
	config    EngineConfig
	logger    *slog.Logger

	// locks holds one *sync.Mutex per workspace ID.
	locks sync.Map
}

// NewEngine wires the governance engine. A nil emitter disables event
// emission; decisions are unaffected.
func NewEngine(proposals ProposalStore, units UnitStore, captures CaptureStore, emitter *substrate.Emitter, config EngineConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if config.AutoApproveThreshold <= 0 {
		config.AutoApproveThreshold = DefaultEngineConfig().AutoApproveThreshold
	}
	return &Engine{
		proposals: proposals,
		units:     units,
		validator: NewValidator(units, nil),
		detector:  NewDetector(proposals, config.ConflictWindow),
		executor:  NewExecutor(units, captures, logger),
		emitter:   emitter,
		config:    config,
		logger:    logger,
	}
}

// GraphPublisher publishes executed governance outcomes to the
// knowledge graph. Satisfied by *graph.Publisher.
type GraphPublisher interface {
	PublishProposal(ctx context.Context, p *substrate.Proposal) error
	PublishUnit(ctx context.Context, u *substrate.SubstrateUnit) error
}

// SetGraphPublisher enables graph publishing for executed proposals.
// Publish failures are logged, never surfaced; the graph is a derived
// read model, not part of the execution transaction.
func (e *Engine) SetGraphPublisher(g GraphPublisher) {
	e.graph = g
}

func (e *Engine) workspaceLock(workspaceID string) *sync.Mutex {
	mu, _ := e.locks.LoadOrStore(workspaceID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// Submit validates an incoming operation batch, persists it as a
// proposed proposal, and applies the auto-approval policy. The returned
// proposal reflects the final state: proposed (awaiting review),
// executed (auto-approved and applied), or approved (auto-approved but
// execution failed; execute retries later).
func (e *Engine) Submit(ctx context.Context, sub *substrate.ProposalSubmission) (*substrate.Proposal, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}

	mu := e.workspaceLock(sub.WorkspaceID)
	mu.Lock()
	defer mu.Unlock()

	p := substrate.NewProposal(sub.WorkspaceID, sub.BasketID, sub.Origin, sub.Ops)
	if sub.ProposalID != "" {
		p.ID = sub.ProposalID
	}
	p.Kind = sub.Kind
	p.Provenance = sub.Provenance

	stageConfidence := sub.StageConfidence
	if sub.Origin == substrate.OriginHuman {
		stageConfidence = 1.0
	}

	report, err := e.validator.Validate(ctx, sub.Ops, ValidationContext{
		WorkspaceID:     sub.WorkspaceID,
		BasketID:        sub.BasketID,
		Origin:          sub.Origin,
		StageConfidence: stageConfidence,
	})
	if err != nil {
		return nil, fmt.Errorf("validate proposal: %w", err)
	}

	conflicts, err := e.detector.Detect(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("detect conflicts: %w", err)
	}
	for _, c := range conflicts {
		report.Warnings = append(report.Warnings, c.Warning())
	}
	CapConfidence(report)

	p.ValidatorReport = report
	p.BlastRadius = report.BlastRadius

	if err := e.proposals.Create(ctx, p); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			// Resubmission of a batch whose proposal already exists
			// (redelivered submission message with a fixed proposal ID).
			// The original proposal, whatever its state, is the answer.
			existing, getErr := e.proposals.Get(ctx, sub.WorkspaceID, p.ID)
			if getErr != nil {
				return nil, fmt.Errorf("resolve existing proposal: %w", getErr)
			}
			e.logger.Info("submission resolved to existing proposal",
				"proposal_id", existing.ID, "status", existing.Status)
			return existing, nil
		}
		return nil, fmt.Errorf("persist proposal: %w", err)
	}
	e.emitCreated(ctx, p)

	reason, eligible := e.autoApprovalDecision(p)
	if !eligible {
		e.logger.Info("proposal held for review",
			"proposal_id", p.ID,
			"workspace_id", p.WorkspaceID,
			"confidence", report.Confidence,
			"reason", reason)
		return p, nil
	}

	now := time.Now().UTC()
	if err := p.Transition(substrate.StatusApproved); err != nil {
		return nil, err
	}
	p.AutoApproved = true
	p.ReviewNotes = reason
	p.ReviewedAt = &now
	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("persist auto-approval: %w", err)
	}
	e.emitAutoApproved(ctx, p)

	if err := e.executeLocked(ctx, p); err != nil {
		// Execution failure leaves the proposal approved; a later
		// execute retry picks it up. Submit itself succeeded.
		e.logger.Warn("auto-approved proposal failed to execute",
			"proposal_id", p.ID, "error", err)
		return p, nil
	}
	return p, nil
}

// autoApprovalDecision applies the policy: agent-origin proposals
// auto-approve iff confidence meets the threshold, the blast radius is
// not global, and no warning is critical. Human-origin proposals always
// wait for an explicit decision.
func (e *Engine) autoApprovalDecision(p *substrate.Proposal) (string, bool) {
	report := p.ValidatorReport
	if p.Origin != substrate.OriginAgent {
		return "human-origin proposals require explicit review", false
	}
	if report.HasCritical() {
		return "critical warnings present", false
	}
	if report.BlastRadius == substrate.BlastGlobal {
		return "global blast radius requires review", false
	}
	if report.Confidence < e.config.AutoApproveThreshold {
		return fmt.Sprintf("confidence %.2f below threshold %.2f",
			report.Confidence, e.config.AutoApproveThreshold), false
	}
	return fmt.Sprintf("auto-approved: confidence %.2f, %s blast radius, no critical warnings",
		report.Confidence, report.BlastRadius), true
}

// Approve transitions a proposed proposal to approved and executes it.
// If execution fails the proposal stays approved and the error is
// returned alongside it; calling ExecuteApproved later retries.
func (e *Engine) Approve(ctx context.Context, workspaceID, proposalID, notes string) (*substrate.Proposal, error) {
	mu := e.workspaceLock(workspaceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := e.proposals.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if err := p.Transition(substrate.StatusApproved); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p.ReviewNotes = notes
	p.ReviewedAt = &now
	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("persist approval: %w", err)
	}

	if err := e.executeLocked(ctx, p); err != nil {
		return p, err
	}
	return p, nil
}

// Reject transitions a proposed proposal to rejected. A reason is
// required; rejections mutate nothing and are terminal.
func (e *Engine) Reject(ctx context.Context, workspaceID, proposalID, reason string) (*substrate.Proposal, error) {
	if reason == "" {
		return nil, &substrate.ValidationError{Field: "reason", Message: "rejection reason is required"}
	}

	mu := e.workspaceLock(workspaceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := e.proposals.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if err := p.Transition(substrate.StatusRejected); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p.ReviewNotes = reason
	p.ReviewedAt = &now
	if err := e.proposals.Update(ctx, p); err != nil {
		return nil, fmt.Errorf("persist rejection: %w", err)
	}
	e.emitRejected(ctx, p)
	return p, nil
}

// ExecuteApproved retries execution of an approved proposal. Executed
// proposals return their stored result unchanged, so the call is safe
// to repeat.
func (e *Engine) ExecuteApproved(ctx context.Context, workspaceID, proposalID string) (*substrate.ExecutionResult, error) {
	mu := e.workspaceLock(workspaceID)
	mu.Lock()
	defer mu.Unlock()

	p, err := e.proposals.Get(ctx, workspaceID, proposalID)
	if err != nil {
		return nil, err
	}
	if p.Status == substrate.StatusExecuted {
		return p.ExecutionResult, nil
	}
	if p.Status != substrate.StatusApproved {
		return nil, &substrate.InvalidStateTransitionError{
			ProposalID: p.ID,
			From:       p.Status,
			To:         substrate.StatusExecuted,
		}
	}
	if err := e.executeLocked(ctx, p); err != nil {
		return nil, err
	}
	return p.ExecutionResult, nil
}

// executeLocked applies an approved proposal and records the result.
// Callers hold the workspace lock.
func (e *Engine) executeLocked(ctx context.Context, p *substrate.Proposal) error {
	result, err := e.executor.Execute(ctx, p)
	if err != nil {
		return err
	}

	if err := p.Transition(substrate.StatusExecuted); err != nil {
		return err
	}
	p.ExecutionResult = result
	executedAt := result.ExecutedAt
	p.ExecutedAt = &executedAt
	if err := e.proposals.Update(ctx, p); err != nil {
		return fmt.Errorf("persist execution result: %w", err)
	}
	e.emitExecuted(ctx, p)
	e.publishGraph(ctx, p)
	return nil
}

// publishGraph pushes the executed proposal and its touched units to
// the knowledge graph.
func (e *Engine) publishGraph(ctx context.Context, p *substrate.Proposal) {
	if e.graph == nil {
		return
	}
	if err := e.graph.PublishProposal(ctx, p); err != nil {
		e.logger.Warn("Graph publish failed for proposal",
			"proposal_id", p.ID, "error", err)
	}
	if p.ExecutionResult == nil {
		return
	}
	unitIDs := append([]string{}, p.ExecutionResult.CreatedUnitIDs...)
	unitIDs = append(unitIDs, p.ExecutionResult.UpdatedUnitIDs...)
	for _, unitID := range unitIDs {
		unit, err := e.units.Get(ctx, p.WorkspaceID, unitID)
		if err != nil {
			e.logger.Warn("Graph publish skipped unit",
				"unit_id", unitID, "error", err)
			continue
		}
		if err := e.graph.PublishUnit(ctx, unit); err != nil {
			e.logger.Warn("Graph publish failed for unit",
				"unit_id", unitID, "error", err)
		}
	}
}

// Get returns a proposal, workspace-scoped.
func (e *Engine) Get(ctx context.Context, workspaceID, proposalID string) (*substrate.Proposal, error) {
	return e.proposals.Get(ctx, workspaceID, proposalID)
}

// List returns the workspace's proposals, optionally filtered by basket.
func (e *Engine) List(ctx context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error) {
	if basketID != "" {
		return e.proposals.ListByBasket(ctx, workspaceID, basketID)
	}
	return e.proposals.ListByWorkspace(ctx, workspaceID)
}

func (e *Engine) emitCreated(ctx context.Context, p *substrate.Proposal) {
	if e.emitter == nil {
		return
	}
	e.emitter.ProposalCreatedAt(ctx, substrate.ProposalCreatedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		BasketID:    p.BasketID,
		Origin:      p.Origin,
		Confidence:  p.ValidatorReport.Confidence,
		BlastRadius: p.BlastRadius,
		OpCount:     len(p.Ops),
	})
}

func (e *Engine) emitAutoApproved(ctx context.Context, p *substrate.Proposal) {
	if e.emitter == nil {
		return
	}
	e.emitter.ProposalAutoApprovedAt(ctx, substrate.ProposalAutoApprovedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		Reason:      p.ReviewNotes,
	})
}

func (e *Engine) emitExecuted(ctx context.Context, p *substrate.Proposal) {
	if e.emitter == nil {
		return
	}
	event := substrate.ProposalExecutedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
	}
	if p.ExecutionResult != nil {
		event.CreatedUnits = len(p.ExecutionResult.CreatedUnitIDs)
		event.UpdatedUnits = len(p.ExecutionResult.UpdatedUnitIDs)
	}
	e.emitter.ProposalExecutedAt(ctx, event)
}

func (e *Engine) emitRejected(ctx context.Context, p *substrate.Proposal) {
	if e.emitter == nil {
		return
	}
	e.emitter.ProposalRejectedAt(ctx, substrate.ProposalRejectedEvent{
		ProposalID:  p.ID,
		WorkspaceID: p.WorkspaceID,
		Reason:      p.ReviewNotes,
	})
}
