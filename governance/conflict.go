package governance

import (
	"context"
	"fmt"
	"time"

	"github.com/c360studio/substrate/substrate"
)

// DefaultConflictWindow bounds how far back executed proposals are
// considered when checking a candidate for overlapping writes.
const DefaultConflictWindow = 5 * time.Minute

// Detector finds write conflicts between a candidate proposal and
// other recent proposals in the same workspace. Detection runs before
// the candidate is persisted, so conflicts become critical warnings on
// the proposal itself rather than execution-time surprises.
type Detector struct {
	proposals ProposalStore
	window    time.Duration
}

// NewDetector creates a conflict detector. A non-positive window falls
// back to DefaultConflictWindow.
func NewDetector(proposals ProposalStore, window time.Duration) *Detector {
	if window <= 0 {
		window = DefaultConflictWindow
	}
	return &Detector{proposals: proposals, window: window}
}

// Detect returns the conflicts between the candidate and other pending
// or recently executed proposals in the candidate's workspace. The
// candidate itself is excluded, as are proposals outside the trailing
// window once they reach a terminal state.
func (d *Detector) Detect(ctx context.Context, candidate *substrate.Proposal) ([]substrate.Conflict, error) {
	others, err := d.proposals.ListByWorkspace(ctx, candidate.WorkspaceID)
	if err != nil {
		return nil, fmt.Errorf("list proposals for conflict check: %w", err)
	}

	candidateWrites := writeIndex(candidate.Ops)
	cutoff := time.Now().Add(-d.window)

	var conflicts []substrate.Conflict
	for _, other := range others {
		if other.ID == candidate.ID {
			continue
		}
		if !d.contends(other, cutoff) {
			continue
		}
		conflicts = append(conflicts, overlap(candidate, candidateWrites, other)...)
	}
	return conflicts, nil
}

// contends reports whether another proposal can still collide with new
// writes. Proposed and approved proposals are live by definition;
// executed ones only within the trailing window. Rejected proposals
// never contend.
func (d *Detector) contends(p *substrate.Proposal, cutoff time.Time) bool {
	switch p.Status {
	case substrate.StatusProposed, substrate.StatusApproved:
		return true
	case substrate.StatusExecuted:
		return p.ExecutedAt != nil && p.ExecutedAt.After(cutoff)
	default:
		return false
	}
}

// writeIndex maps each write target to the op types that touch it.
func writeIndex(ops []substrate.Operation) map[string][]substrate.OpType {
	idx := make(map[string][]substrate.OpType)
	for _, op := range ops {
		for _, target := range op.WriteTargets() {
			idx[target] = append(idx[target], op.Type)
		}
	}
	return idx
}

func overlap(candidate *substrate.Proposal, candidateWrites map[string][]substrate.OpType, other *substrate.Proposal) []substrate.Conflict {
	var conflicts []substrate.Conflict
	for target, otherTypes := range writeIndex(other.Ops) {
		mine, ok := candidateWrites[target]
		if !ok {
			continue
		}
		kind := substrate.ConflictOverlappingWrite
		if archiveVsRevise(mine, otherTypes) {
			kind = substrate.ConflictArchiveVsRevise
		}
		conflicts = append(conflicts, substrate.Conflict{
			TargetID:        target,
			OtherProposalID: other.ID,
			Kind:            kind,
		})
	}
	return conflicts
}

// archiveVsRevise reports whether one side archives a target the other
// side revises, in either direction.
func archiveVsRevise(a, b []substrate.OpType) bool {
	return (hasType(a, substrate.OpArchiveBlock) && hasType(b, substrate.OpReviseBlock)) ||
		(hasType(b, substrate.OpArchiveBlock) && hasType(a, substrate.OpReviseBlock))
}

func hasType(types []substrate.OpType, want substrate.OpType) bool {
	for _, t := range types {
		if t == want {
			return true
		}
	}
	return false
}
