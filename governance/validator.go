package governance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// criticalConfidenceCeiling is the hard bound a report's confidence
// stays under whenever any critical warning is present. The 0.3 limit
// is an invariant of the report contract, not a tunable heuristic; the
// cap sits below it so jitter in policy scores can never graze it.
const criticalConfidenceCeiling = 0.2

// ValidationContext carries what the validator needs beyond the ops.
type ValidationContext struct {
	WorkspaceID string
	BasketID    string
	Origin      substrate.Origin

	// StageConfidence is the minimum certainty reported by the pipeline
	// stages that produced the batch. Human-origin batches use 1.0.
	StageConfidence float64
}

// ConfidencePolicy computes a report's confidence score. The exact
// formula is a plug-in; the validator enforces the critical-warning
// ceiling regardless of what a policy returns.
type ConfidencePolicy interface {
	Score(ops []substrate.Operation, vctx ValidationContext, warnings []substrate.Warning) float64
}

// AgreementPolicy is the default confidence policy: stage-agent
// certainty damped by cross-operation disagreement and non-critical
// warnings.
type AgreementPolicy struct{}

// Score implements ConfidencePolicy.
func (AgreementPolicy) Score(ops []substrate.Operation, vctx ValidationContext, warnings []substrate.Warning) float64 {
	score := vctx.StageConfidence

	// Ops spread across multiple baskets signal weaker agreement about
	// where the knowledge belongs.
	baskets := map[string]struct{}{}
	for _, op := range ops {
		if op.Data.BasketID != "" {
			baskets[op.Data.BasketID] = struct{}{}
		}
	}
	if len(baskets) > 1 {
		score *= 0.9
	}

	for _, w := range warnings {
		switch w.Severity {
		case substrate.SeverityWarning:
			score *= 0.9
		case substrate.SeverityInfo:
			score *= 0.97
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Validator evaluates operation batches into validator reports.
type Validator struct {
	units  UnitStore
	policy ConfidencePolicy
}

// NewValidator creates a validator. A nil policy selects AgreementPolicy.
func NewValidator(units UnitStore, policy ConfidencePolicy) *Validator {
	if policy == nil {
		policy = AgreementPolicy{}
	}
	return &Validator{units: units, policy: policy}
}

// Validate evaluates a batch of proposed operations, producing the
// confidence score, warnings, blast-radius classification and impact
// summary attached to the proposal. Reports are derived, never edited.
func (v *Validator) Validate(ctx context.Context, ops []substrate.Operation, vctx ValidationContext) (*substrate.ValidatorReport, error) {
	var warnings []substrate.Warning
	baskets := map[string]struct{}{}
	hasMerge := false
	hasDestructive := false
	global := false

	if len(ops) == 0 {
		warnings = append(warnings, substrate.Warning{
			Code:     "empty_ops",
			Severity: substrate.SeverityCritical,
			Message:  "proposal contains no operations",
		})
	}

	for i, op := range ops {
		if !op.Type.IsValid() {
			warnings = append(warnings, substrate.Warning{
				Code:     "unknown_op_type",
				Severity: substrate.SeverityCritical,
				Message:  fmt.Sprintf("op %d has unknown type %q", i, op.Type),
			})
			continue
		}

		if op.Data.BasketID != "" {
			baskets[op.Data.BasketID] = struct{}{}
		} else {
			baskets[vctx.BasketID] = struct{}{}
		}
		if op.IsDestructive() {
			hasDestructive = true
		}

		switch op.Type {
		case substrate.OpMergeContextItems:
			hasMerge = true
			if len(op.Data.SourceIDs) == 0 || op.Data.TargetID == "" {
				warnings = append(warnings, substrate.Warning{
					Code:     "incomplete_merge",
					Severity: substrate.SeverityCritical,
					Message:  fmt.Sprintf("op %d merge needs a target and at least one source", i),
					TargetID: op.Data.TargetID,
				})
			}

		case substrate.OpPromoteScope:
			if op.Data.Scope == substrate.ScopeWorkspace {
				global = true
			}
			for _, pattern := range op.Data.ScopePatterns {
				if !doublestar.ValidatePattern(pattern) {
					warnings = append(warnings, substrate.Warning{
						Code:     "invalid_scope_pattern",
						Severity: substrate.SeverityCritical,
						Message:  fmt.Sprintf("op %d has invalid scope pattern %q", i, pattern),
						TargetID: op.Data.TargetID,
					})
				}
			}

		case substrate.OpArchiveBlock:
			w, isGlobal := v.checkDestructive(ctx, vctx.WorkspaceID, op.Data.TargetID, "archive")
			warnings = append(warnings, w...)
			global = global || isGlobal

		case substrate.OpRedactCapture:
			warnings = append(warnings, substrate.Warning{
				Code:     "redaction",
				Severity: substrate.SeverityWarning,
				Message:  fmt.Sprintf("op %d permanently clears capture content", i),
				TargetID: op.Data.CaptureID,
			})
			// Redaction reaches every unit derived from the capture.
			global = true
		}

		// Target existence for ops that revise existing substrate. A
		// resolved target also contributes its basket to the spread:
		// revising a unit in another basket reaches beyond the
		// submission's own.
		for _, target := range op.WriteTargets() {
			if op.Type == substrate.OpRedactCapture {
				continue // capture targets are checked at execution
			}
			if v.units == nil {
				continue
			}
			unit, err := v.units.Get(ctx, vctx.WorkspaceID, target)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					warnings = append(warnings, substrate.Warning{
						Code:     "missing_target",
						Severity: substrate.SeverityCritical,
						Message:  fmt.Sprintf("op %d targets unknown substrate %s", i, target),
						TargetID: target,
					})
					continue
				}
				return nil, fmt.Errorf("resolve op target %s: %w", target, err)
			}
			if unit.BasketID != "" {
				baskets[unit.BasketID] = struct{}{}
			}
		}
	}

	if vctx.StageConfidence < 0.5 && vctx.Origin == substrate.OriginAgent {
		warnings = append(warnings, substrate.Warning{
			Code:     "low_stage_confidence",
			Severity: substrate.SeverityWarning,
			Message:  fmt.Sprintf("stage confidence %.2f is below 0.5", vctx.StageConfidence),
		})
	}

	radius := classifyBlastRadius(baskets, hasMerge, hasDestructive, global)

	report := &substrate.ValidatorReport{
		Warnings:      warnings,
		BlastRadius:   radius,
		OpsSummary:    summarizeOps(ops),
		ImpactSummary: impactSummary(ops, radius, len(baskets)),
	}
	report.Confidence = v.policy.Score(ops, vctx, warnings)
	CapConfidence(report)

	return report, nil
}

// checkDestructive inspects a destructive op's target. An archive of a
// unit still referenced by documents is Global: the deletion is visible
// beyond its basket.
func (v *Validator) checkDestructive(ctx context.Context, workspaceID, targetID, verb string) ([]substrate.Warning, bool) {
	warnings := []substrate.Warning{{
		Code:     "destructive_op",
		Severity: substrate.SeverityWarning,
		Message:  fmt.Sprintf("%s removes substrate from active use", verb),
		TargetID: targetID,
	}}

	if v.units == nil || targetID == "" {
		return warnings, false
	}
	unit, err := v.units.Get(ctx, workspaceID, targetID)
	if err != nil {
		return warnings, false // Missing targets are flagged separately
	}
	if len(unit.DocumentRefs) > 0 {
		warnings = append(warnings, substrate.Warning{
			Code:     "referenced_by_documents",
			Severity: substrate.SeverityWarning,
			Message: fmt.Sprintf("target is referenced by %d document(s)",
				len(unit.DocumentRefs)),
			TargetID: targetID,
		})
		return warnings, true
	}
	return warnings, false
}

// CapConfidence enforces the critical-warning invariant on a report:
// whenever any critical warning is present, confidence stays below 0.3.
// Called again after conflict warnings are attached.
func CapConfidence(report *substrate.ValidatorReport) {
	if report.HasCritical() && report.Confidence > criticalConfidenceCeiling {
		report.Confidence = criticalConfidenceCeiling
	}
}

// classifyBlastRadius maps batch traits to a radius. Local is reserved
// for single-basket batches with no archive or redact ops; destructive
// batches that don't hit a Global criterion classify Scoped.
func classifyBlastRadius(baskets map[string]struct{}, hasMerge, hasDestructive, global bool) substrate.BlastRadius {
	if global {
		return substrate.BlastGlobal
	}
	if hasMerge || hasDestructive || len(baskets) > 1 {
		return substrate.BlastScoped
	}
	return substrate.BlastLocal
}

func summarizeOps(ops []substrate.Operation) map[substrate.OpType]int {
	if len(ops) == 0 {
		return nil
	}
	summary := make(map[substrate.OpType]int)
	for _, op := range ops {
		summary[op.Type]++
	}
	return summary
}

func impactSummary(ops []substrate.Operation, radius substrate.BlastRadius, basketCount int) string {
	if len(ops) == 0 {
		return "no operations"
	}

	counts := summarizeOps(ops)
	parts := make([]string, 0, len(counts))
	for opType, n := range counts {
		parts = append(parts, fmt.Sprintf("%d %s", n, opType))
	}
	sort.Strings(parts)

	return fmt.Sprintf("%s across %d basket(s), %s blast radius",
		strings.Join(parts, ", "), basketCount, radius)
}
