package pipeline

import (
	"context"
	"fmt"

	"github.com/c360studio/substrate/agent"
	"github.com/c360studio/substrate/substrate"
)

// Invoker is the slice of the agent client the stages need. Satisfied
// by *agent.Client.
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) (*agent.Response, error)
}

// agentStage delegates a pipeline stage to an external agent capability.
// All four stages share this shape; the agent behind the subject differs.
type agentStage struct {
	name    StageName
	invoker Invoker
}

// Name returns the stage name.
func (s *agentStage) Name() StageName {
	return s.name
}

// Run invokes the stage agent and returns its proposed operations.
func (s *agentStage) Run(ctx context.Context, in Input) (*Result, error) {
	if in.Capture == nil {
		return nil, &substrate.ValidationFailureError{
			Stage:  string(s.name),
			Reason: "no capture to process",
		}
	}

	resp, err := s.invoker.Invoke(ctx, agent.Request{
		Stage:       string(s.name),
		WorkspaceID: in.Capture.WorkspaceID,
		BasketID:    in.Capture.BasketID,
		CaptureID:   in.Capture.ID,
		Content:     in.Capture.Content,
		ContentType: in.Capture.ContentType,
		PriorOps:    in.PriorOps,
		TraceID:     in.TraceID,
	})
	if err != nil {
		if agent.IsFatal(err) {
			return nil, &substrate.ValidationFailureError{
				Stage:  string(s.name),
				Reason: err.Error(),
			}
		}
		return nil, fmt.Errorf("invoke %s agent: %w", s.name, err)
	}

	for i, op := range resp.Ops {
		if !op.Type.IsValid() {
			return nil, &substrate.ValidationFailureError{
				Stage:  string(s.name),
				Reason: fmt.Sprintf("op %d has unknown type %q", i, op.Type),
			}
		}
	}

	return &Result{Ops: resp.Ops, Confidence: resp.Confidence}, nil
}

// NewStages builds the four ordered stages backed by the given agent
// invoker. The returned slice order matches Sequence().
func NewStages(invoker Invoker) []Stage {
	stages := make([]Stage, 0, len(Sequence()))
	for _, name := range Sequence() {
		stages = append(stages, &agentStage{name: name, invoker: invoker})
	}
	return stages
}
