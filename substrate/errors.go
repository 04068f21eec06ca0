package substrate

import (
	"errors"
	"fmt"
)

// InvalidStateTransitionError indicates an attempted transition the
// governance state machine does not permit. The proposal is left
// unchanged; these never partially apply.
type InvalidStateTransitionError struct {
	ProposalID string
	From       Status
	To         Status
}

func (e *InvalidStateTransitionError) Error() string {
	return fmt.Sprintf("invalid state transition for proposal %s: %s -> %s",
		e.ProposalID, e.From, e.To)
}

// IsInvalidTransition returns true if err is an InvalidStateTransitionError.
func IsInvalidTransition(err error) bool {
	var t *InvalidStateTransitionError
	return errors.As(err, &t)
}

// WorkspaceIsolationError indicates an attempted cross-workspace read or
// write. Always fatal, never recovered, logged as security-relevant.
type WorkspaceIsolationError struct {
	WorkspaceID string
	EntityID    string
	EntityWorkspaceID string
}

func (e *WorkspaceIsolationError) Error() string {
	return fmt.Sprintf("workspace isolation violation: entity %s belongs to workspace %s, not %s",
		e.EntityID, e.EntityWorkspaceID, e.WorkspaceID)
}

// IsWorkspaceIsolation returns true if err is a WorkspaceIsolationError.
func IsWorkspaceIsolation(err error) bool {
	var t *WorkspaceIsolationError
	return errors.As(err, &t)
}

// ValidationFailureError indicates a stage agent could not produce a
// usable operation batch. The capture is marked failed and retried per
// the queue backoff policy.
type ValidationFailureError struct {
	Stage  string
	Reason string
}

func (e *ValidationFailureError) Error() string {
	return fmt.Sprintf("validation failure at stage %s: %s", e.Stage, e.Reason)
}

// ExecutionFailureError indicates operations partially failed to apply.
// The executor rolls back; the proposal remains approved and only the
// execute step is eligible for retry.
type ExecutionFailureError struct {
	ProposalID string
	Op         OpType
	Err        error
}

func (e *ExecutionFailureError) Error() string {
	return fmt.Sprintf("execution failure for proposal %s at op %s: %v",
		e.ProposalID, e.Op, e.Err)
}

func (e *ExecutionFailureError) Unwrap() error {
	return e.Err
}

// IsExecutionFailure returns true if err is an ExecutionFailureError.
func IsExecutionFailure(err error) bool {
	var t *ExecutionFailureError
	return errors.As(err, &t)
}
