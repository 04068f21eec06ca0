package substrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatus_IsValid(t *testing.T) {
	valid := []Status{StatusProposed, StatusApproved, StatusExecuted, StatusRejected}
	for _, s := range valid {
		assert.True(t, s.IsValid(), "status %s should be valid", s)
	}
	assert.False(t, Status("pending").IsValid())
	assert.False(t, Status("").IsValid())
}

func TestStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusProposed, StatusApproved, true},
		{StatusProposed, StatusRejected, true},
		{StatusProposed, StatusExecuted, false},
		{StatusApproved, StatusExecuted, true},
		{StatusApproved, StatusRejected, false},
		{StatusApproved, StatusProposed, false},
		{StatusExecuted, StatusApproved, false},
		{StatusExecuted, StatusRejected, false},
		{StatusRejected, StatusApproved, false},
		{StatusRejected, StatusExecuted, false},
	}

	for _, tt := range tests {
		got := tt.from.CanTransitionTo(tt.to)
		assert.Equal(t, tt.allowed, got, "%s -> %s", tt.from, tt.to)
	}
}

func TestStatus_TerminalStatesHaveNoExits(t *testing.T) {
	all := []Status{StatusProposed, StatusApproved, StatusExecuted, StatusRejected}
	for _, terminal := range []Status{StatusExecuted, StatusRejected} {
		require.True(t, terminal.IsTerminal())
		for _, target := range all {
			assert.False(t, terminal.CanTransitionTo(target),
				"terminal state %s must not transition to %s", terminal, target)
		}
	}
}

func TestProposal_Transition(t *testing.T) {
	p := NewProposal("ws-1", "basket-1", OriginAgent, []Operation{
		{Type: OpCreateBlock, Data: OperationData{BasketID: "basket-1", Body: "x"}},
	})
	require.Equal(t, StatusProposed, p.Status)

	require.NoError(t, p.Transition(StatusApproved))
	require.NoError(t, p.Transition(StatusExecuted))

	err := p.Transition(StatusApproved)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, StatusExecuted, p.Status, "failed transition must not change state")
}

func TestProposal_TransitionRejectedIsTerminal(t *testing.T) {
	p := NewProposal("ws-1", "basket-1", OriginHuman, nil)
	require.NoError(t, p.Transition(StatusRejected))

	err := p.Transition(StatusApproved)
	require.Error(t, err)
	assert.True(t, IsInvalidTransition(err))
	assert.Equal(t, StatusRejected, p.Status)
}

func TestValidatorReport_HasCritical(t *testing.T) {
	r := &ValidatorReport{Warnings: []Warning{
		{Code: "low_confidence", Severity: SeverityInfo},
		{Code: "archive_op", Severity: SeverityWarning},
	}}
	assert.False(t, r.HasCritical())

	r.Warnings = append(r.Warnings, Warning{Code: "conflict_detected", Severity: SeverityCritical})
	assert.True(t, r.HasCritical())
}

func TestConflict_Warning(t *testing.T) {
	c := Conflict{
		TargetID:        "unit-9",
		OtherProposalID: "prop-2",
		Kind:            ConflictArchiveVsRevise,
	}

	w := c.Warning()
	assert.Equal(t, "conflict_detected", w.Code)
	assert.Equal(t, SeverityCritical, w.Severity)
	assert.Equal(t, "unit-9", w.TargetID)
	assert.Contains(t, w.Message, "prop-2")
}
