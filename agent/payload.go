package agent

import (
	"encoding/json"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/substrate/substrate"
)

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "agent",
		Category:    "run-request",
		Version:     "v1",
		Description: "Stage-agent invocation request",
		Factory:     func() any { return &Request{} },
	})
}

// Request is the payload published to a stage agent. The agent's
// extraction behavior is an external capability; only this contract is
// fixed.
type Request struct {
	// RequestID correlates the request with its KV response entry.
	RequestID string `json:"request_id"`

	// Stage names the pipeline stage being invoked (e.g. "P1_SUBSTRATE").
	Stage string `json:"stage"`

	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	CaptureID   string `json:"capture_id"`
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`

	// PriorOps are the operations proposed by earlier stages, so the
	// linking and reflection stages can build on them.
	PriorOps []substrate.Operation `json:"prior_ops,omitempty"`

	TraceID string `json:"trace_id,omitempty"`
}

// RequestType is the message type for agent run requests.
var RequestType = message.Type{
	Domain:   "agent",
	Category: "run-request",
	Version:  "v1",
}

// Schema returns the message type for this payload.
func (r *Request) Schema() message.Type {
	return RequestType
}

// Validate validates the payload.
func (r *Request) Validate() error {
	if r.RequestID == "" {
		return &substrate.ValidationError{Field: "request_id", Message: "is required"}
	}
	if r.Stage == "" {
		return &substrate.ValidationError{Field: "stage", Message: "is required"}
	}
	if r.WorkspaceID == "" {
		return &substrate.ValidationError{Field: "workspace_id", Message: "is required"}
	}
	return nil
}

// MarshalJSON marshals the payload to JSON.
func (r *Request) MarshalJSON() ([]byte, error) {
	type Alias Request
	return json.Marshal((*Alias)(r))
}

// UnmarshalJSON unmarshals the payload from JSON.
func (r *Request) UnmarshalJSON(data []byte) error {
	type Alias Request
	return json.Unmarshal(data, (*Alias)(r))
}

// Response is the agent's reply, written to the response KV bucket
// under the request ID.
type Response struct {
	RequestID string `json:"request_id"`

	// Ops are the proposed operations. They are never applied directly;
	// the pipeline hands them to governance.
	Ops []substrate.Operation `json:"ops,omitempty"`

	// Confidence is the agent's certainty in [0,1].
	Confidence float64 `json:"confidence"`

	// Error is set when the agent could not produce a usable result.
	Error string `json:"error,omitempty"`
}
