package substrate

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
)

func init() {
	_ = component.RegisterPayload(&component.PayloadRegistration{
		Domain:      "substrate",
		Category:    "event",
		Version:     "v1",
		Description: "Substrate state transition event envelope",
		Factory:     func() any { return &EventEnvelope{} },
	})
}

// EventEnvelope is the wire form of every emitted state-transition event.
// Downstream delivery consumes these; the core never blocks on it.
type EventEnvelope struct {
	// Type is the event subject (e.g. "substrate.events.proposal.executed").
	Type string `json:"type"`

	WorkspaceID string `json:"workspace_id"`

	// EntityID is the capture, proposal or unit the event concerns.
	EntityID string `json:"entity_id"`

	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// EventEnvelopeType is the message type for event envelopes.
var EventEnvelopeType = message.Type{
	Domain:   "substrate",
	Category: "event",
	Version:  "v1",
}

// Schema returns the message type for this payload.
func (e *EventEnvelope) Schema() message.Type {
	return EventEnvelopeType
}

// Validate validates the envelope.
func (e *EventEnvelope) Validate() error {
	if e.Type == "" {
		return &ValidationError{Field: "type", Message: "is required"}
	}
	if e.WorkspaceID == "" {
		return &ValidationError{Field: "workspace_id", Message: "is required"}
	}
	return nil
}

// MarshalJSON marshals the envelope to JSON.
func (e *EventEnvelope) MarshalJSON() ([]byte, error) {
	type Alias EventEnvelope
	return json.Marshal((*Alias)(e))
}

// UnmarshalJSON unmarshals the envelope from JSON.
func (e *EventEnvelope) UnmarshalJSON(data []byte) error {
	type Alias EventEnvelope
	return json.Unmarshal(data, (*Alias)(e))
}

// Emitter publishes state-transition events to their typed subjects.
// A nil NATS client degrades gracefully: events are dropped, the caller
// is never blocked or failed. Emission is fire-and-forget with
// at-least-once semantics assumed downstream.
type Emitter struct {
	nc     *natsclient.Client
	source string
	logger *slog.Logger
}

// NewEmitter creates an event emitter. source names the publishing
// component in the BaseMessage envelope.
func NewEmitter(nc *natsclient.Client, source string, logger *slog.Logger) *Emitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{nc: nc, source: source, logger: logger}
}

// Emit publishes one event on the given subject pattern. Failures are
// logged, never returned: delivery is a boundary concern, not core logic.
func (e *Emitter) Emit(ctx context.Context, subject, workspaceID, entityID string, event any) {
	if e.nc == nil {
		return // Graceful degradation without NATS
	}

	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Warn("Failed to marshal event", "subject", subject, "error", err)
		return
	}

	envelope := EventEnvelope{
		Type:        subject,
		WorkspaceID: workspaceID,
		EntityID:    entityID,
		Payload:     payload,
		Timestamp:   time.Now().UTC(),
	}

	baseMsg := message.NewBaseMessage(EventEnvelopeType, &envelope, e.source)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		e.logger.Warn("Failed to marshal event envelope", "subject", subject, "error", err)
		return
	}

	if err := e.nc.PublishToStream(ctx, subject, data); err != nil {
		e.logger.Warn("Failed to publish event",
			"subject", subject,
			"entity_id", entityID,
			"error", err)
	}
}

// CaptureQueuedAt emits a capture queued event.
func (e *Emitter) CaptureQueuedAt(ctx context.Context, ev CaptureQueuedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, CaptureQueued.Pattern, ev.WorkspaceID, ev.CaptureID, ev)
}

// StageCompletedAt emits a stage completion event.
func (e *Emitter) StageCompletedAt(ctx context.Context, ev StageCompletedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, StageCompleted.Pattern, ev.WorkspaceID, ev.CaptureID, ev)
}

// DeadLetterAt emits a dead-letter event for a capture whose retry
// budget is exhausted.
func (e *Emitter) DeadLetterAt(ctx context.Context, ev DeadLetterEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, DeadLetter.Pattern, ev.WorkspaceID, ev.CaptureID, ev)
}

// ProposalCreatedAt emits a proposal created event.
func (e *Emitter) ProposalCreatedAt(ctx context.Context, ev ProposalCreatedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, ProposalCreated.Pattern, ev.WorkspaceID, ev.ProposalID, ev)
}

// ProposalAutoApprovedAt emits an auto-approval event.
func (e *Emitter) ProposalAutoApprovedAt(ctx context.Context, ev ProposalAutoApprovedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, ProposalAutoApproved.Pattern, ev.WorkspaceID, ev.ProposalID, ev)
}

// ProposalExecutedAt emits a proposal executed event.
func (e *Emitter) ProposalExecutedAt(ctx context.Context, ev ProposalExecutedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, ProposalExecuted.Pattern, ev.WorkspaceID, ev.ProposalID, ev)
}

// ProposalRejectedAt emits a proposal rejected event.
func (e *Emitter) ProposalRejectedAt(ctx context.Context, ev ProposalRejectedEvent) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	e.Emit(ctx, ProposalRejected.Pattern, ev.WorkspaceID, ev.ProposalID, ev)
}
