// Typed NATS subject definitions for substrate domain events.
//
// Every governance and pipeline state transition is emitted on its own
// subject under "substrate.events.<domain>.<action>", enabling type-safe
// subscribe and subject-based routing. Delivery is fire-and-forget; the
// core never blocks on subscribers.
package substrate

import (
	"time"

	"github.com/c360studio/semstreams/natsclient"
)

// Capture lifecycle events

// CaptureQueuedEvent is published when a capture enters the work queue.
type CaptureQueuedEvent struct {
	CaptureID   string    `json:"capture_id"`
	WorkspaceID string    `json:"workspace_id"`
	BasketID    string    `json:"basket_id"`
	Deduplicated bool     `json:"deduplicated,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

// StageCompletedEvent is published after each pipeline stage finishes
// for a capture.
type StageCompletedEvent struct {
	CaptureID   string    `json:"capture_id"`
	WorkspaceID string    `json:"workspace_id"`
	Stage       string    `json:"stage"`
	OpCount     int       `json:"op_count"`
	Confidence  float64   `json:"confidence"`
	Timestamp   time.Time `json:"timestamp"`
}

// DeadLetterEvent is published when a capture exhausts its retry budget
// and needs manual intervention. The queue entry stays queryable.
type DeadLetterEvent struct {
	CaptureID   string    `json:"capture_id"`
	WorkspaceID string    `json:"workspace_id"`
	FailedStage string    `json:"failed_stage"`
	Attempts    int       `json:"attempts"`
	LastError   string    `json:"last_error"`
	Timestamp   time.Time `json:"timestamp"`
}

// Proposal lifecycle events

// ProposalCreatedEvent is published when a proposal enters the proposed
// state with its validator report attached.
type ProposalCreatedEvent struct {
	ProposalID  string      `json:"proposal_id"`
	WorkspaceID string      `json:"workspace_id"`
	BasketID    string      `json:"basket_id"`
	Origin      Origin      `json:"origin"`
	Confidence  float64     `json:"confidence"`
	BlastRadius BlastRadius `json:"blast_radius"`
	OpCount     int         `json:"op_count"`
	Timestamp   time.Time   `json:"timestamp"`
}

// ProposalAutoApprovedEvent is published when the auto-approval policy
// approves a proposal without human review.
type ProposalAutoApprovedEvent struct {
	ProposalID  string    `json:"proposal_id"`
	WorkspaceID string    `json:"workspace_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// ProposalExecutedEvent is published when a proposal's operations have
// been applied to substrate storage.
type ProposalExecutedEvent struct {
	ProposalID   string    `json:"proposal_id"`
	WorkspaceID  string    `json:"workspace_id"`
	CreatedUnits int       `json:"created_units"`
	UpdatedUnits int       `json:"updated_units"`
	Timestamp    time.Time `json:"timestamp"`
}

// ProposalRejectedEvent is published when a proposal is rejected. No
// substrate mutation occurred.
type ProposalRejectedEvent struct {
	ProposalID  string    `json:"proposal_id"`
	WorkspaceID string    `json:"workspace_id"`
	Reason      string    `json:"reason"`
	Timestamp   time.Time `json:"timestamp"`
}

// Typed subject definitions for substrate domain events.
var (
	CaptureQueued = natsclient.NewSubject[CaptureQueuedEvent](
		"substrate.events.capture.queued")
	StageCompleted = natsclient.NewSubject[StageCompletedEvent](
		"substrate.events.pipeline.stage_completed")
	DeadLetter = natsclient.NewSubject[DeadLetterEvent](
		"substrate.events.pipeline.dead_letter")

	ProposalCreated = natsclient.NewSubject[ProposalCreatedEvent](
		"substrate.events.proposal.created")
	ProposalAutoApproved = natsclient.NewSubject[ProposalAutoApprovedEvent](
		"substrate.events.proposal.auto_approved")
	ProposalExecuted = natsclient.NewSubject[ProposalExecutedEvent](
		"substrate.events.proposal.executed")
	ProposalRejected = natsclient.NewSubject[ProposalRejectedEvent](
		"substrate.events.proposal.rejected")
)
