package governance

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/substrate/substrate"
)

func TestValidator_EmptyOpsIsCritical(t *testing.T) {
	v := NewValidator(newMemUnitStore(), nil)

	report, err := v.Validate(context.Background(), nil, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.95,
	})
	require.NoError(t, err)

	assert.True(t, report.HasCritical())
	assert.Less(t, report.Confidence, 0.3,
		"critical warnings must pin confidence below 0.3")
}

func TestValidator_CriticalCapsConfidence(t *testing.T) {
	units := newMemUnitStore()
	v := NewValidator(units, nil)

	// High stage confidence, but the target does not exist.
	ops := []substrate.Operation{{
		Type: substrate.OpReviseBlock,
		Data: substrate.OperationData{TargetID: "unit-missing", Body: "new body"},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.99,
	})
	require.NoError(t, err)

	require.True(t, report.HasCritical())
	assert.Less(t, report.Confidence, 0.3)

	found := false
	for _, w := range report.Warnings {
		if w.Code == "missing_target" {
			found = true
			assert.Equal(t, substrate.SeverityCritical, w.Severity)
			assert.Equal(t, "unit-missing", w.TargetID)
		}
	}
	assert.True(t, found, "expected a missing_target warning")
}

func TestValidator_CleanBatchKeepsStageConfidence(t *testing.T) {
	units := newMemUnitStore()
	v := NewValidator(units, nil)

	ops := []substrate.Operation{{
		Type: substrate.OpCreateBlock,
		Data: substrate.OperationData{BasketID: "basket-1", Title: "t", Body: "b"},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.9,
	})
	require.NoError(t, err)

	assert.False(t, report.HasCritical())
	assert.InDelta(t, 0.9, report.Confidence, 0.001)
	assert.Equal(t, substrate.BlastLocal, report.BlastRadius)
	assert.Equal(t, 1, report.OpsSummary[substrate.OpCreateBlock])
	assert.NotEmpty(t, report.ImpactSummary)
}

func TestValidator_DestructiveOpWarns(t *testing.T) {
	units := newMemUnitStore()
	unit := testUnit(units, "ws-1", "basket-1")
	v := NewValidator(units, nil)

	ops := []substrate.Operation{{
		Type: substrate.OpArchiveBlock,
		Data: substrate.OperationData{TargetID: unit.ID},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.9,
	})
	require.NoError(t, err)

	assert.False(t, report.HasCritical())
	// Destructive warning dampens but does not pin.
	assert.Less(t, report.Confidence, 0.9)
	assert.GreaterOrEqual(t, report.Confidence, 0.3)
	assert.Equal(t, substrate.BlastScoped, report.BlastRadius,
		"archive ops never classify Local even within one basket")
}

func TestValidator_CrossBasketReviseIsScoped(t *testing.T) {
	units := newMemUnitStore()
	other := testUnit(units, "ws-1", "basket-other")

	v := NewValidator(units, nil)
	ops := []substrate.Operation{{
		Type: substrate.OpReviseBlock,
		Data: substrate.OperationData{TargetID: other.ID, Body: "revision"},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.9,
	})
	require.NoError(t, err)

	assert.False(t, report.HasCritical())
	assert.Equal(t, substrate.BlastScoped, report.BlastRadius,
		"a target in another basket widens the spread past Local")
}

func TestValidator_ArchiveOfReferencedUnitIsGlobal(t *testing.T) {
	units := newMemUnitStore()
	unit := testUnit(units, "ws-1", "basket-1")
	unit.DocumentRefs = []string{"doc-1", "doc-2"}
	units.put(unit)

	v := NewValidator(units, nil)
	ops := []substrate.Operation{{
		Type: substrate.OpArchiveBlock,
		Data: substrate.OperationData{TargetID: unit.ID},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.95,
	})
	require.NoError(t, err)

	assert.Equal(t, substrate.BlastGlobal, report.BlastRadius)
}

func TestValidator_RedactionIsGlobal(t *testing.T) {
	v := NewValidator(newMemUnitStore(), nil)

	ops := []substrate.Operation{{
		Type: substrate.OpRedactCapture,
		Data: substrate.OperationData{CaptureID: "cap-1"},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginHuman,
		StageConfidence: 1.0,
	})
	require.NoError(t, err)

	assert.Equal(t, substrate.BlastGlobal, report.BlastRadius)
}

func TestValidator_MergeIsScoped(t *testing.T) {
	units := newMemUnitStore()
	target := testUnit(units, "ws-1", "basket-1")
	src := testUnit(units, "ws-1", "basket-1")

	v := NewValidator(units, nil)
	ops := []substrate.Operation{{
		Type: substrate.OpMergeContextItems,
		Data: substrate.OperationData{TargetID: target.ID, SourceIDs: []string{src.ID}},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.9,
	})
	require.NoError(t, err)

	assert.False(t, report.HasCritical())
	assert.Equal(t, substrate.BlastScoped, report.BlastRadius)
}

func TestValidator_InvalidScopePatternIsCritical(t *testing.T) {
	units := newMemUnitStore()
	unit := testUnit(units, "ws-1", "basket-1")

	v := NewValidator(units, nil)
	ops := []substrate.Operation{{
		Type: substrate.OpPromoteScope,
		Data: substrate.OperationData{
			TargetID:      unit.ID,
			Scope:         substrate.ScopeWorkspace,
			ScopePatterns: []string{"blocks/[invalid"},
		},
	}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 0.9,
	})
	require.NoError(t, err)

	assert.True(t, report.HasCritical())
	assert.Less(t, report.Confidence, 0.3)
	assert.Equal(t, substrate.BlastGlobal, report.BlastRadius,
		"workspace promotion reaches beyond its basket")
}

func TestValidator_UnknownOpTypeIsCritical(t *testing.T) {
	v := NewValidator(newMemUnitStore(), nil)

	ops := []substrate.Operation{{Type: substrate.OpType("DropEverything")}}
	report, err := v.Validate(context.Background(), ops, ValidationContext{
		WorkspaceID:     "ws-1",
		BasketID:        "basket-1",
		Origin:          substrate.OriginAgent,
		StageConfidence: 1.0,
	})
	require.NoError(t, err)

	assert.True(t, report.HasCritical())
	assert.Less(t, report.Confidence, 0.3)
}

func TestCapConfidence_Idempotent(t *testing.T) {
	report := &substrate.ValidatorReport{
		Confidence: 0.95,
		Warnings: []substrate.Warning{
			{Code: "x", Severity: substrate.SeverityCritical},
		},
	}
	CapConfidence(report)
	first := report.Confidence
	CapConfidence(report)

	assert.Less(t, first, 0.3)
	assert.Equal(t, first, report.Confidence)
}
