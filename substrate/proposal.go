package substrate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status represents the governance state of a proposal.
type Status string

const (
	// StatusProposed indicates the proposal awaits a governance decision.
	StatusProposed Status = "proposed"
	// StatusApproved indicates the proposal was approved but its
	// operations have not (yet) been applied.
	StatusApproved Status = "approved"
	// StatusExecuted indicates the operations were applied exactly once.
	StatusExecuted Status = "executed"
	// StatusRejected indicates the proposal was rejected; no substrate
	// mutation occurred.
	StatusRejected Status = "rejected"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsValid returns true if the status is a known governance state.
func (s Status) IsValid() bool {
	switch s {
	case StatusProposed, StatusApproved, StatusExecuted, StatusRejected:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for states no transition may leave.
func (s Status) IsTerminal() bool {
	return s == StatusExecuted || s == StatusRejected
}

// CanTransitionTo returns true if the status can transition to target.
func (s Status) CanTransitionTo(target Status) bool {
	switch s {
	case StatusProposed:
		return target == StatusApproved || target == StatusRejected
	case StatusApproved:
		return target == StatusExecuted
	case StatusExecuted, StatusRejected:
		return false // Terminal states
	default:
		return false
	}
}

// Origin identifies who produced a proposal.
type Origin string

const (
	OriginAgent Origin = "agent"
	OriginHuman Origin = "human"
)

// Severity grades a validator warning.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Warning is a single validator or conflict finding attached to a report.
type Warning struct {
	// Code is a stable machine-readable identifier (e.g. "conflict_detected").
	Code string `json:"code"`

	Severity Severity `json:"severity"`
	Message  string   `json:"message"`

	// TargetID is the substrate or capture ID the warning concerns.
	TargetID string `json:"target_id,omitempty"`
}

// BlastRadius classifies how widely a proposal's operations reach.
type BlastRadius string

const (
	// BlastLocal: all ops scoped to one basket, nothing destructive.
	BlastLocal BlastRadius = "local"
	// BlastScoped: multiple baskets in one workspace, merges, or
	// destructive ops that don't reach a Global criterion.
	BlastScoped BlastRadius = "scoped"
	// BlastGlobal: destructive ops on document-referenced substrate, or
	// workspace-level scope promotion.
	BlastGlobal BlastRadius = "global"
)

// ValidatorReport is derived by the validator; it is never hand-edited.
type ValidatorReport struct {
	// Confidence in [0,1]. Always below 0.3 when any critical warning
	// is present.
	Confidence float64 `json:"confidence"`

	Warnings    []Warning   `json:"warnings,omitempty"`
	BlastRadius BlastRadius `json:"blast_radius"`

	// ImpactSummary is a short human-readable description of what the
	// batch touches.
	ImpactSummary string `json:"impact_summary,omitempty"`

	// OpsSummary counts operations per type.
	OpsSummary map[OpType]int `json:"ops_summary,omitempty"`
}

// HasCritical returns true if any warning has critical severity.
func (r *ValidatorReport) HasCritical() bool {
	for _, w := range r.Warnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// ExecutionResult records what an executed proposal changed. Stored on
// the proposal so repeated execute calls can return the original result.
type ExecutionResult struct {
	CreatedUnitIDs  []string  `json:"created_unit_ids,omitempty"`
	UpdatedUnitIDs  []string  `json:"updated_unit_ids,omitempty"`
	RedactedCaptures []string `json:"redacted_captures,omitempty"`
	ExecutedAt      time.Time `json:"executed_at"`
}

// Proposal is a batch of operations awaiting or having received a
// governance decision.
type Proposal struct {
	// ID uniquely identifies this proposal (format: prop-{uuid}).
	ID string `json:"id"`

	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	// Kind labels what produced the batch (e.g. "extraction").
	Kind   string `json:"kind,omitempty"`
	Origin Origin `json:"origin"`
	Status Status `json:"status"`

	Ops []Operation `json:"ops"`

	ValidatorReport *ValidatorReport `json:"validator_report,omitempty"`
	BlastRadius     BlastRadius      `json:"blast_radius,omitempty"`

	AutoApproved bool   `json:"auto_approved"`
	ReviewNotes  string `json:"review_notes,omitempty"`

	// Provenance lists the capture IDs the operations were derived from.
	Provenance []string `json:"provenance,omitempty"`

	// ExecutionResult is set iff Status is executed.
	ExecutionResult *ExecutionResult `json:"execution_result,omitempty"`

	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
}

// NewProposal creates a proposal in the proposed state.
func NewProposal(workspaceID, basketID string, origin Origin, ops []Operation) *Proposal {
	return &Proposal{
		ID:          fmt.Sprintf("prop-%s", uuid.New().String()),
		WorkspaceID: workspaceID,
		BasketID:    basketID,
		Origin:      origin,
		Status:      StatusProposed,
		Ops:         ops,
		CreatedAt:   time.Now().UTC(),
	}
}

// Transition moves the proposal to target or fails with
// InvalidStateTransitionError, leaving the proposal unchanged.
func (p *Proposal) Transition(target Status) error {
	if !p.Status.CanTransitionTo(target) {
		return &InvalidStateTransitionError{
			ProposalID: p.ID,
			From:       p.Status,
			To:         target,
		}
	}
	p.Status = target
	return nil
}

// Conflict describes an overlap between a candidate proposal's writes and
// another pending or recently executed proposal in the same workspace.
type Conflict struct {
	// TargetID is the substrate or capture ID both proposals touch.
	TargetID string `json:"target_id"`

	// OtherProposalID is the proposal the candidate overlaps with.
	OtherProposalID string `json:"other_proposal_id"`

	// Kind distinguishes plain overlapping writes from the
	// archive-versus-revise case.
	Kind ConflictKind `json:"kind"`
}

// ConflictKind classifies a detected conflict.
type ConflictKind string

const (
	ConflictOverlappingWrite ConflictKind = "overlapping_write"
	ConflictArchiveVsRevise  ConflictKind = "archive_vs_revise"
)

// Warning converts a conflict into the critical warning attached to the
// candidate's validator report.
func (c Conflict) Warning() Warning {
	return Warning{
		Code:     "conflict_detected",
		Severity: SeverityCritical,
		Message: fmt.Sprintf("%s conflict with proposal %s on %s",
			c.Kind, c.OtherProposalID, c.TargetID),
		TargetID: c.TargetID,
	}
}
