package substrate

import (
	"encoding/json"
	"fmt"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
)

func init() {
	// Register CaptureQueuedTrigger for message deserialization
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "substrate",
		Category:    "capture-queued",
		Version:     "v1",
		Description: "Capture queue trigger for pipeline processing",
		Factory:     func() any { return &CaptureQueuedTrigger{} },
	})

	// Register ProposalSubmission for message deserialization
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "substrate",
		Category:    "proposal-submission",
		Version:     "v1",
		Description: "Operation batch submitted to governance",
		Factory:     func() any { return &ProposalSubmission{} },
	})
}

// ValidationError describes an invalid payload field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// CaptureQueuedTrigger is published to the queue stream when a capture is
// enqueued for pipeline processing.
type CaptureQueuedTrigger struct {
	CaptureID   string `json:"capture_id"`
	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	// TraceID correlates this trigger with other messages in the same
	// request flow.
	TraceID string `json:"trace_id,omitempty"`
}

// CaptureQueuedType is the message type for capture queue triggers.
var CaptureQueuedType = message.Type{
	Domain:   "substrate",
	Category: "capture-queued",
	Version:  "v1",
}

// Schema returns the message type for this payload.
func (p *CaptureQueuedTrigger) Schema() message.Type {
	return CaptureQueuedType
}

// Validate validates the payload.
func (p *CaptureQueuedTrigger) Validate() error {
	if p.CaptureID == "" {
		return &ValidationError{Field: "capture_id", Message: "is required"}
	}
	if p.WorkspaceID == "" {
		return &ValidationError{Field: "workspace_id", Message: "is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *CaptureQueuedTrigger) MarshalJSON() ([]byte, error) {
	type Alias CaptureQueuedTrigger
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *CaptureQueuedTrigger) UnmarshalJSON(data []byte) error {
	type Alias CaptureQueuedTrigger
	return json.Unmarshal(data, (*Alias)(p))
}

// ProposalSubmission is the batch of operations the pipeline hands to
// governance after the final stage completes. Stages propose; they never
// write substrate directly, so this payload is the only thing crossing
// the pipeline/governance boundary.
type ProposalSubmission struct {
	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	// ProposalID optionally fixes the ID of the resulting proposal.
	// Submitters that may deliver the same batch more than once (for
	// example on redelivery of the message carrying it) set this to a
	// value derived from their work item, making resubmission a no-op.
	ProposalID string `json:"proposal_id,omitempty"`

	// Kind labels what produced the batch (e.g. "extraction").
	Kind   string `json:"kind,omitempty"`
	Origin Origin `json:"origin"`

	Ops []Operation `json:"ops"`

	// StageConfidence is the minimum certainty reported across the
	// stages that produced the batch.
	StageConfidence float64 `json:"stage_confidence"`

	// Provenance lists the capture IDs the operations derive from.
	Provenance []string `json:"provenance,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

// ProposalSubmissionType is the message type for proposal submissions.
var ProposalSubmissionType = message.Type{
	Domain:   "substrate",
	Category: "proposal-submission",
	Version:  "v1",
}

// Schema returns the message type for this payload.
func (p *ProposalSubmission) Schema() message.Type {
	return ProposalSubmissionType
}

// Validate validates the payload.
func (p *ProposalSubmission) Validate() error {
	if p.WorkspaceID == "" {
		return &ValidationError{Field: "workspace_id", Message: "is required"}
	}
	if p.BasketID == "" {
		return &ValidationError{Field: "basket_id", Message: "is required"}
	}
	if len(p.Ops) == 0 {
		return &ValidationError{Field: "ops", Message: "must not be empty"}
	}
	if p.Origin != OriginAgent && p.Origin != OriginHuman {
		return &ValidationError{Field: "origin", Message: "must be agent or human"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (p *ProposalSubmission) MarshalJSON() ([]byte, error) {
	type Alias ProposalSubmission
	return json.Marshal((*Alias)(p))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (p *ProposalSubmission) UnmarshalJSON(data []byte) error {
	type Alias ProposalSubmission
	return json.Unmarshal(data, (*Alias)(p))
}

// ParsePayload parses a NATS message carrying a BaseMessage-wrapped
// payload, falling back to raw JSON for messages published without the
// envelope.
func ParsePayload[T any](data []byte) (*T, error) {
	var envelope struct {
		Payload json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && len(envelope.Payload) > 0 {
		var result T
		if err := json.Unmarshal(envelope.Payload, &result); err != nil {
			return nil, fmt.Errorf("unmarshal payload into %T: %w", result, err)
		}
		return &result, nil
	}

	// Raw JSON fallback
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal message into %T: %w", result, err)
	}
	return &result, nil
}
