package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/substrate/substrate"
)

func newTestExecutor(units *memUnitStore, captures *memCaptureStore) *Executor {
	return NewExecutor(units, captures, nil)
}

func approvedProposal(workspaceID, basketID string, ops []substrate.Operation) *substrate.Proposal {
	p := substrate.NewProposal(workspaceID, basketID, substrate.OriginAgent, ops)
	p.Status = substrate.StatusApproved
	p.Provenance = []string{"cap-source"}
	return p
}

func TestExecutor_CreateBlock(t *testing.T) {
	units := newMemUnitStore()
	exec := newTestExecutor(units, newMemCaptureStore())

	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpCreateBlock,
		Data: substrate.OperationData{Title: "a block", Body: "content"},
	}})

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, result.CreatedUnitIDs, 1)

	unit, err := units.Get(context.Background(), "ws-1", result.CreatedUnitIDs[0])
	require.NoError(t, err)
	assert.Equal(t, substrate.UnitTypeBlock, unit.Type)
	assert.Equal(t, substrate.UnitStateActive, unit.State)
	assert.Equal(t, "basket-1", unit.BasketID)
	assert.Equal(t, []string{"cap-source"}, unit.Provenance)
}

func TestExecutor_ReviseBlock(t *testing.T) {
	units := newMemUnitStore()
	unit := testUnit(units, "ws-1", "basket-1")
	exec := newTestExecutor(units, newMemCaptureStore())

	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpReviseBlock,
		Data: substrate.OperationData{TargetID: unit.ID, Body: "revised body"},
	}})

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{unit.ID}, result.UpdatedUnitIDs)

	got, err := units.Get(context.Background(), "ws-1", unit.ID)
	require.NoError(t, err)
	assert.Equal(t, "revised body", got.Body)
	assert.Contains(t, got.Provenance, "cap-source")
}

func TestExecutor_MergeContextItems(t *testing.T) {
	units := newMemUnitStore()
	target := testUnit(units, "ws-1", "basket-1")
	src1 := testUnit(units, "ws-1", "basket-1")
	src1.Provenance = []string{"cap-old"}
	units.put(src1)
	src2 := testUnit(units, "ws-1", "basket-1")

	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpMergeContextItems,
		Data: substrate.OperationData{
			TargetID:  target.ID,
			SourceIDs: []string{src1.ID, src2.ID},
		},
	}})

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, result.UpdatedUnitIDs, 3)

	got, err := units.Get(context.Background(), "ws-1", target.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Provenance, "cap-old", "merge folds source provenance into target")

	for _, id := range []string{src1.ID, src2.ID} {
		src, err := units.Get(context.Background(), "ws-1", id)
		require.NoError(t, err)
		assert.Equal(t, substrate.UnitStateArchived, src.State)
	}
}

func TestExecutor_RedactCapture(t *testing.T) {
	captures := newMemCaptureStore()
	capture := substrate.NewCapture("ws-1", "basket-1", "secret content", "text/plain", "req-1")
	captures.put(capture)

	exec := newTestExecutor(newMemUnitStore(), captures)
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpRedactCapture,
		Data: substrate.OperationData{CaptureID: capture.ID},
	}})

	result, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, []string{capture.ID}, result.RedactedCaptures)

	got, err := captures.Get(context.Background(), "ws-1", capture.ID)
	require.NoError(t, err)
	assert.Empty(t, got.Content)
	assert.NotNil(t, got.RedactedAt)
}

func TestExecutor_RollbackOnMidBatchFailure(t *testing.T) {
	units := newMemUnitStore()
	existing := testUnit(units, "ws-1", "basket-1")
	origBody := existing.Body

	// Second op targets a unit that does not exist, forcing a failure
	// after the first op already applied.
	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{
		{
			Type: substrate.OpReviseBlock,
			Data: substrate.OperationData{TargetID: existing.ID, Body: "changed"},
		},
		{
			Type: substrate.OpReviseBlock,
			Data: substrate.OperationData{TargetID: "unit-missing", Body: "x"},
		},
	})

	result, err := exec.Execute(context.Background(), p)
	require.Error(t, err)
	assert.Nil(t, result)
	assert.True(t, substrate.IsExecutionFailure(err))

	var execErr *substrate.ExecutionFailureError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, p.ID, execErr.ProposalID)
	assert.Equal(t, substrate.OpReviseBlock, execErr.Op)

	got, err := units.Get(context.Background(), "ws-1", existing.ID)
	require.NoError(t, err)
	assert.Equal(t, origBody, got.Body, "first op must be rolled back")
}

func TestExecutor_RollbackDeletesCreatedUnits(t *testing.T) {
	units := newMemUnitStore()
	units.failCreateAfter = 1 // second create fails

	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{
		{Type: substrate.OpCreateBlock, Data: substrate.OperationData{Title: "one"}},
		{Type: substrate.OpCreateBlock, Data: substrate.OperationData{Title: "two"}},
	})

	_, err := exec.Execute(context.Background(), p)
	require.Error(t, err)

	units.mu.Lock()
	remaining := len(units.units)
	units.mu.Unlock()
	assert.Zero(t, remaining, "created units must be deleted on rollback")
}

func TestExecutor_RollbackRestoresRedactedCapture(t *testing.T) {
	captures := newMemCaptureStore()
	capture := substrate.NewCapture("ws-1", "basket-1", "secret", "text/plain", "req-1")
	captures.put(capture)

	exec := newTestExecutor(newMemUnitStore(), captures)
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{
		{
			Type: substrate.OpRedactCapture,
			Data: substrate.OperationData{CaptureID: capture.ID},
		},
		{
			Type: substrate.OpReviseBlock,
			Data: substrate.OperationData{TargetID: "unit-missing", Body: "x"},
		},
	})

	_, err := exec.Execute(context.Background(), p)
	require.Error(t, err)

	got, err := captures.Get(context.Background(), "ws-1", capture.ID)
	require.NoError(t, err)
	assert.Equal(t, "secret", got.Content, "redaction must be undone on rollback")
	assert.Nil(t, got.RedactedAt)
}

func TestExecutor_CrossWorkspaceTargetIsIsolationError(t *testing.T) {
	units := newMemUnitStore()
	foreign := testUnit(units, "ws-other", "basket-1")

	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpReviseBlock,
		Data: substrate.OperationData{TargetID: foreign.ID, Body: "x"},
	}})

	_, err := exec.Execute(context.Background(), p)
	require.Error(t, err)
	// The store already hides cross-workspace units, so this surfaces as
	// not-found wrapped in an execution failure, never as a leak of the
	// foreign unit.
	assert.True(t, substrate.IsExecutionFailure(err))

	got, err := units.Get(context.Background(), "ws-other", foreign.ID)
	require.NoError(t, err)
	assert.Equal(t, foreign.Body, got.Body, "foreign unit untouched")
}

func TestExecutor_IsolationRecheckCatchesStoreLeak(t *testing.T) {
	// A store that erroneously returns a foreign unit is still blocked by
	// the executor's own workspace check.
	units := newMemUnitStore()
	foreign := testUnit(units, "ws-other", "basket-1")

	leaky := &leakyUnitStore{memUnitStore: units}
	exec := NewExecutor(leaky, newMemCaptureStore(), nil)

	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpArchiveBlock,
		Data: substrate.OperationData{TargetID: foreign.ID},
	}})

	_, err := exec.Execute(context.Background(), p)
	require.Error(t, err)
	assert.True(t, substrate.IsWorkspaceIsolation(err))
}

// leakyUnitStore bypasses workspace scoping on Get.
type leakyUnitStore struct {
	*memUnitStore
}

func (s *leakyUnitStore) Get(_ context.Context, _, id string) (*substrate.SubstrateUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok {
		return nil, assert.AnError
	}
	cp := *u
	return &cp, nil
}

func TestExecutor_PromoteScope(t *testing.T) {
	units := newMemUnitStore()
	unit := testUnit(units, "ws-1", "basket-1")

	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpPromoteScope,
		Data: substrate.OperationData{TargetID: unit.ID, Scope: substrate.ScopeWorkspace},
	}})

	_, err := exec.Execute(context.Background(), p)
	require.NoError(t, err)

	got, err := units.Get(context.Background(), "ws-1", unit.ID)
	require.NoError(t, err)
	assert.Equal(t, substrate.ScopeWorkspace, got.Scope)
}

func TestExecutor_CreateRelationshipChecksEndpoints(t *testing.T) {
	units := newMemUnitStore()
	from := testUnit(units, "ws-1", "basket-1")

	exec := newTestExecutor(units, newMemCaptureStore())
	p := approvedProposal("ws-1", "basket-1", []substrate.Operation{{
		Type: substrate.OpCreateRelationship,
		Data: substrate.OperationData{
			FromID:   from.ID,
			ToID:     "unit-missing",
			Relation: "supports",
		},
	}})

	_, err := exec.Execute(context.Background(), p)
	require.Error(t, err)
	assert.True(t, substrate.IsExecutionFailure(err))
}
