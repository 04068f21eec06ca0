package governance

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/substrate/substrate"
)

// Executor applies an approved proposal's operations to substrate
// storage. Execution is all-or-nothing: a failure mid-batch rolls back
// every change already applied, in reverse order, and the proposal
// stays approved so only the execute step is retried.
type Executor struct {
	units    UnitStore
	captures CaptureStore
	logger   *slog.Logger
}

// NewExecutor creates an executor over the given stores.
func NewExecutor(units UnitStore, captures CaptureStore, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{units: units, captures: captures, logger: logger}
}

// change is one applied mutation plus how to undo it.
type change struct {
	undo func(ctx context.Context) error
}

// Execute applies the proposal's operations in order. Every loaded unit
// is checked against the proposal's workspace before any write; a
// mismatch aborts with a WorkspaceIsolationError and nothing applied
// past that point survives.
func (e *Executor) Execute(ctx context.Context, p *substrate.Proposal) (*substrate.ExecutionResult, error) {
	result := &substrate.ExecutionResult{ExecutedAt: time.Now().UTC()}
	var applied []change

	for _, op := range p.Ops {
		ch, err := e.apply(ctx, p, op, result)
		if err != nil {
			e.rollback(ctx, p.ID, applied)
			if substrate.IsWorkspaceIsolation(err) {
				e.logger.Error("workspace isolation violation during execution",
					"proposal_id", p.ID,
					"workspace_id", p.WorkspaceID,
					"op", string(op.Type),
					"error", err)
				return nil, err
			}
			return nil, &substrate.ExecutionFailureError{
				ProposalID: p.ID,
				Op:         op.Type,
				Err:        err,
			}
		}
		if ch != nil {
			applied = append(applied, *ch)
		}
	}

	return result, nil
}

func (e *Executor) apply(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	switch op.Type {
	case substrate.OpCreateBlock:
		return e.createUnit(ctx, p, op, substrate.UnitTypeBlock, result)
	case substrate.OpCreateContextItem:
		return e.createUnit(ctx, p, op, substrate.UnitTypeContextItem, result)
	case substrate.OpCreateRelationship:
		return e.createRelationship(ctx, p, op, result)
	case substrate.OpReviseBlock:
		return e.reviseBlock(ctx, p, op, result)
	case substrate.OpArchiveBlock:
		return e.archiveBlock(ctx, p, op, result)
	case substrate.OpMergeContextItems:
		return e.mergeContextItems(ctx, p, op, result)
	case substrate.OpPromoteScope:
		return e.promoteScope(ctx, p, op, result)
	case substrate.OpRedactCapture:
		return e.redactCapture(ctx, p, op, result)
	default:
		return nil, fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (e *Executor) createUnit(ctx context.Context, p *substrate.Proposal, op substrate.Operation, unitType substrate.UnitType, result *substrate.ExecutionResult) (*change, error) {
	basketID := op.Data.BasketID
	if basketID == "" {
		basketID = p.BasketID
	}
	now := time.Now().UTC()
	unit := &substrate.SubstrateUnit{
		ID:          substrate.NewUnitID(),
		WorkspaceID: p.WorkspaceID,
		BasketID:    basketID,
		Type:        unitType,
		State:       substrate.UnitStateActive,
		Scope:       substrate.ScopeBasket,
		Title:       op.Data.Title,
		Body:        op.Data.Body,
		Provenance:  p.Provenance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.units.Create(ctx, unit); err != nil {
		return nil, fmt.Errorf("create %s: %w", unitType, err)
	}
	result.CreatedUnitIDs = append(result.CreatedUnitIDs, unit.ID)
	return &change{undo: func(ctx context.Context) error {
		return e.units.Delete(ctx, unit.ID)
	}}, nil
}

func (e *Executor) createRelationship(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	// Both endpoints must exist in the proposal's workspace.
	for _, endpoint := range []string{op.Data.FromID, op.Data.ToID} {
		if endpoint == "" {
			return nil, fmt.Errorf("relationship endpoint missing")
		}
		if _, err := e.loadUnit(ctx, p.WorkspaceID, endpoint); err != nil {
			return nil, err
		}
	}

	now := time.Now().UTC()
	unit := &substrate.SubstrateUnit{
		ID:          substrate.NewUnitID(),
		WorkspaceID: p.WorkspaceID,
		BasketID:    firstNonEmpty(op.Data.BasketID, p.BasketID),
		Type:        substrate.UnitTypeRelationship,
		State:       substrate.UnitStateActive,
		Scope:       substrate.ScopeBasket,
		FromID:      op.Data.FromID,
		ToID:        op.Data.ToID,
		Relation:    op.Data.Relation,
		Provenance:  p.Provenance,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.units.Create(ctx, unit); err != nil {
		return nil, fmt.Errorf("create relationship: %w", err)
	}
	result.CreatedUnitIDs = append(result.CreatedUnitIDs, unit.ID)
	return &change{undo: func(ctx context.Context) error {
		return e.units.Delete(ctx, unit.ID)
	}}, nil
}

func (e *Executor) reviseBlock(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	unit, err := e.loadUnit(ctx, p.WorkspaceID, op.Data.TargetID)
	if err != nil {
		return nil, err
	}
	prev := *unit

	if op.Data.Title != "" {
		unit.Title = op.Data.Title
	}
	unit.Body = op.Data.Body
	unit.Provenance = appendProvenance(unit.Provenance, p.Provenance)
	unit.UpdatedAt = time.Now().UTC()

	if err := e.units.Update(ctx, unit); err != nil {
		return nil, fmt.Errorf("revise block %s: %w", unit.ID, err)
	}
	result.UpdatedUnitIDs = append(result.UpdatedUnitIDs, unit.ID)
	return &change{undo: func(ctx context.Context) error {
		restored := prev
		return e.units.Update(ctx, &restored)
	}}, nil
}

func (e *Executor) archiveBlock(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	unit, err := e.loadUnit(ctx, p.WorkspaceID, op.Data.TargetID)
	if err != nil {
		return nil, err
	}
	prev := *unit

	unit.State = substrate.UnitStateArchived
	unit.UpdatedAt = time.Now().UTC()

	if err := e.units.Update(ctx, unit); err != nil {
		return nil, fmt.Errorf("archive block %s: %w", unit.ID, err)
	}
	result.UpdatedUnitIDs = append(result.UpdatedUnitIDs, unit.ID)
	return &change{undo: func(ctx context.Context) error {
		restored := prev
		return e.units.Update(ctx, &restored)
	}}, nil
}

func (e *Executor) mergeContextItems(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	target, err := e.loadUnit(ctx, p.WorkspaceID, op.Data.TargetID)
	if err != nil {
		return nil, err
	}
	prevTarget := *target

	// Load every source first so isolation failures surface before any
	// write happens.
	sources := make([]*substrate.SubstrateUnit, 0, len(op.Data.SourceIDs))
	prevSources := make([]substrate.SubstrateUnit, 0, len(op.Data.SourceIDs))
	for _, id := range op.Data.SourceIDs {
		src, err := e.loadUnit(ctx, p.WorkspaceID, id)
		if err != nil {
			return nil, err
		}
		sources = append(sources, src)
		prevSources = append(prevSources, *src)
	}

	now := time.Now().UTC()
	for _, src := range sources {
		target.Provenance = appendProvenance(target.Provenance, src.Provenance)
	}
	target.Provenance = appendProvenance(target.Provenance, p.Provenance)
	target.UpdatedAt = now

	var updated []*substrate.SubstrateUnit
	undo := func(ctx context.Context) error {
		var firstErr error
		for i := len(updated) - 1; i >= 0; i-- {
			var restored substrate.SubstrateUnit
			if updated[i].ID == prevTarget.ID {
				restored = prevTarget
			} else {
				for _, ps := range prevSources {
					if ps.ID == updated[i].ID {
						restored = ps
						break
					}
				}
			}
			if err := e.units.Update(ctx, &restored); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}

	if err := e.units.Update(ctx, target); err != nil {
		return nil, fmt.Errorf("merge into %s: %w", target.ID, err)
	}
	updated = append(updated, target)
	result.UpdatedUnitIDs = append(result.UpdatedUnitIDs, target.ID)

	for _, src := range sources {
		src.State = substrate.UnitStateArchived
		src.UpdatedAt = now
		if err := e.units.Update(ctx, src); err != nil {
			if undoErr := undo(ctx); undoErr != nil {
				e.logger.Error("rollback failed during merge undo",
					"proposal_id", p.ID, "error", undoErr)
			}
			return nil, fmt.Errorf("archive merge source %s: %w", src.ID, err)
		}
		updated = append(updated, src)
		result.UpdatedUnitIDs = append(result.UpdatedUnitIDs, src.ID)
	}

	return &change{undo: undo}, nil
}

func (e *Executor) promoteScope(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	unit, err := e.loadUnit(ctx, p.WorkspaceID, op.Data.TargetID)
	if err != nil {
		return nil, err
	}
	prev := *unit

	scope := op.Data.Scope
	if scope == "" {
		scope = substrate.ScopeWorkspace
	}
	unit.Scope = scope
	unit.UpdatedAt = time.Now().UTC()

	if err := e.units.Update(ctx, unit); err != nil {
		return nil, fmt.Errorf("promote scope of %s: %w", unit.ID, err)
	}
	result.UpdatedUnitIDs = append(result.UpdatedUnitIDs, unit.ID)
	return &change{undo: func(ctx context.Context) error {
		restored := prev
		return e.units.Update(ctx, &restored)
	}}, nil
}

func (e *Executor) redactCapture(ctx context.Context, p *substrate.Proposal, op substrate.Operation, result *substrate.ExecutionResult) (*change, error) {
	prev, err := e.captures.Redact(ctx, p.WorkspaceID, op.Data.CaptureID)
	if err != nil {
		return nil, fmt.Errorf("redact capture %s: %w", op.Data.CaptureID, err)
	}
	result.RedactedCaptures = append(result.RedactedCaptures, op.Data.CaptureID)
	if prev == nil || prev.RedactedAt != nil {
		// Already redacted before this proposal; nothing to restore.
		return nil, nil
	}
	return &change{undo: func(ctx context.Context) error {
		return e.captures.Restore(ctx, prev)
	}}, nil
}

// loadUnit fetches a unit and verifies it belongs to the workspace. The
// store already scopes reads, but the executor re-checks so a store bug
// can never leak a cross-workspace write.
func (e *Executor) loadUnit(ctx context.Context, workspaceID, id string) (*substrate.SubstrateUnit, error) {
	if id == "" {
		return nil, fmt.Errorf("operation target missing")
	}
	unit, err := e.units.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, fmt.Errorf("load unit %s: %w", id, err)
	}
	if unit.WorkspaceID != workspaceID {
		return nil, &substrate.WorkspaceIsolationError{
			WorkspaceID:       workspaceID,
			EntityID:          id,
			EntityWorkspaceID: unit.WorkspaceID,
		}
	}
	return unit, nil
}

// rollback undoes applied changes in reverse order. Undo failures are
// logged and skipped; stopping early would strand even more state.
func (e *Executor) rollback(ctx context.Context, proposalID string, applied []change) {
	for i := len(applied) - 1; i >= 0; i-- {
		if err := applied[i].undo(ctx); err != nil {
			e.logger.Error("rollback step failed",
				"proposal_id", proposalID, "error", err)
		}
	}
}

func appendProvenance(existing, more []string) []string {
	seen := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		seen[id] = struct{}{}
	}
	for _, id := range more {
		if _, ok := seen[id]; !ok {
			existing = append(existing, id)
			seen[id] = struct{}{}
		}
	}
	return existing
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
