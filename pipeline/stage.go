// Package pipeline defines the ordered capability stages that turn raw
// captures into proposed operations. Stages propose; they never write
// substrate storage.
package pipeline

import (
	"context"

	"github.com/c360studio/substrate/substrate"
)

// StageName identifies one ordered pipeline stage.
type StageName string

const (
	// StageCapture (P0) verifies and frames the raw capture.
	StageCapture StageName = "P0_CAPTURE"
	// StageSubstrate (P1) extracts substrate units from the capture.
	StageSubstrate StageName = "P1_SUBSTRATE"
	// StageGraph (P2) links extracted units into relationships.
	StageGraph StageName = "P2_GRAPH"
	// StageReflection (P3) computes reflections over the new state.
	StageReflection StageName = "P3_REFLECTION"
)

// Sequence returns the fixed processing order. Presentation (P4) is
// deliberately absent: narrative composition is triggered only by user
// action, never by the automated pipeline.
func Sequence() []StageName {
	return []StageName{StageCapture, StageSubstrate, StageGraph, StageReflection}
}

// Input carries what a stage needs to run.
type Input struct {
	Capture *substrate.Capture

	// PriorOps are the operations proposed by earlier stages for the
	// same capture.
	PriorOps []substrate.Operation

	TraceID string
}

// Result is a stage's proposed contribution.
type Result struct {
	Ops []substrate.Operation

	// Confidence is the stage agent's certainty in [0,1].
	Confidence float64
}

// Stage is one polymorphic pipeline capability. The orchestrator is
// agnostic to stage internals; only this contract is fixed.
type Stage interface {
	Name() StageName
	Run(ctx context.Context, in Input) (*Result, error)
}
