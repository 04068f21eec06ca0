// Package substrate defines the core domain model for the substrate
// governance pipeline: immutable captures, substrate units derived from
// them, and the operation vocabulary that is the only legal way to
// mutate substrate state.
package substrate

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Capture is an immutable raw input. Captures are created once by the
// ingestion boundary and never updated, with a single governed exception:
// a RedactCapture operation may clear the content for compliance.
type Capture struct {
	// ID uniquely identifies this capture (format: cap-{uuid}).
	ID string `json:"id"`

	// WorkspaceID is the tenant isolation boundary.
	WorkspaceID string `json:"workspace_id"`

	// BasketID scopes the capture within the workspace.
	BasketID string `json:"basket_id"`

	// Content is the raw captured text.
	Content string `json:"content"`

	// ContentType describes the submitted content (e.g. "text/plain",
	// "text/html"). HTML content is normalized to markdown at ingestion.
	ContentType string `json:"content_type"`

	// RequestID is the client-supplied idempotency token. Duplicate
	// submissions with the same token return the original capture.
	RequestID string `json:"request_id"`

	// SourceTitle is extracted from HTML captures during normalization.
	SourceTitle string `json:"source_title,omitempty"`

	CreatedAt time.Time `json:"created_at"`

	// RedactedAt is set when a RedactCapture operation cleared the content.
	RedactedAt *time.Time `json:"redacted_at,omitempty"`
}

// NewCapture creates a capture with a generated ID.
func NewCapture(workspaceID, basketID, content, contentType, requestID string) *Capture {
	return &Capture{
		ID:          fmt.Sprintf("cap-%s", uuid.New().String()),
		WorkspaceID: workspaceID,
		BasketID:    basketID,
		Content:     content,
		ContentType: contentType,
		RequestID:   requestID,
		CreatedAt:   time.Now().UTC(),
	}
}

// UnitType identifies the kind of substrate unit. Unit types are peers:
// no type has privileged structure over another.
type UnitType string

const (
	UnitTypeBlock        UnitType = "block"
	UnitTypeContextItem  UnitType = "context_item"
	UnitTypeRelationship UnitType = "relationship"
	UnitTypeReflection   UnitType = "reflection"
)

// IsValid returns true if the unit type is known.
func (t UnitType) IsValid() bool {
	switch t {
	case UnitTypeBlock, UnitTypeContextItem, UnitTypeRelationship, UnitTypeReflection:
		return true
	default:
		return false
	}
}

// UnitState is the lifecycle state of a substrate unit.
type UnitState string

const (
	UnitStateActive   UnitState = "active"
	UnitStateArchived UnitState = "archived"
	UnitStateRedacted UnitState = "redacted"
)

// UnitScope is the visibility scope of a substrate unit.
type UnitScope string

const (
	ScopeBasket    UnitScope = "basket"
	ScopeWorkspace UnitScope = "workspace"
)

// SubstrateUnit is a structured knowledge entity derived from captures.
// Units are only ever created or mutated by executing an approved
// proposal; nothing else writes them.
type SubstrateUnit struct {
	// ID uniquely identifies this unit (format: unit-{uuid}).
	ID string `json:"id"`

	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	Type  UnitType  `json:"type"`
	State UnitState `json:"state"`
	Scope UnitScope `json:"scope"`

	// Title is a short human-readable label.
	Title string `json:"title,omitempty"`

	// Body is the unit content. For relationships this is empty and the
	// FromID/ToID/Relation fields carry the payload.
	Body string `json:"body,omitempty"`

	// FromID, ToID and Relation are set for relationship units.
	FromID   string `json:"from_id,omitempty"`
	ToID     string `json:"to_id,omitempty"`
	Relation string `json:"relation,omitempty"`

	// Provenance lists the capture IDs this unit was derived from.
	Provenance []string `json:"provenance,omitempty"`

	// DocumentRefs lists IDs of documents referencing this unit.
	// Maintained by the presentation layer; read here to classify the
	// blast radius of archive and redact operations.
	DocumentRefs []string `json:"document_refs,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUnitID generates a substrate unit ID.
func NewUnitID() string {
	return fmt.Sprintf("unit-%s", uuid.New().String())
}

// OpType identifies an operation in the mutation vocabulary.
type OpType string

const (
	OpCreateBlock       OpType = "CreateBlock"
	OpReviseBlock       OpType = "ReviseBlock"
	OpArchiveBlock      OpType = "ArchiveBlock"
	OpCreateContextItem OpType = "CreateContextItem"
	OpMergeContextItems OpType = "MergeContextItems"
	OpCreateRelationship OpType = "CreateRelationship"
	OpPromoteScope      OpType = "PromoteScope"
	OpRedactCapture     OpType = "RedactCapture"
)

// IsValid returns true if the operation type is part of the vocabulary.
func (t OpType) IsValid() bool {
	switch t {
	case OpCreateBlock, OpReviseBlock, OpArchiveBlock,
		OpCreateContextItem, OpMergeContextItems, OpCreateRelationship,
		OpPromoteScope, OpRedactCapture:
		return true
	default:
		return false
	}
}

// Operation is one element of a proposal's mutation batch. Operations are
// the only vocabulary for altering substrate; no other write path exists.
type Operation struct {
	Type OpType        `json:"type"`
	Data OperationData `json:"data"`
}

// OperationData carries the per-type operation payload. One flat struct
// instead of a type switch over raw JSON keeps validation and conflict
// detection simple; unused fields are omitted on the wire.
type OperationData struct {
	// TargetID is the unit being revised, archived or promoted.
	TargetID string `json:"target_id,omitempty"`

	// BasketID scopes creation operations.
	BasketID string `json:"basket_id,omitempty"`

	Title string `json:"title,omitempty"`
	Body  string `json:"body,omitempty"`

	// FromID, ToID and Relation describe a CreateRelationship.
	FromID   string `json:"from_id,omitempty"`
	ToID     string `json:"to_id,omitempty"`
	Relation string `json:"relation,omitempty"`

	// SourceIDs are the context items folded into TargetID by a merge.
	SourceIDs []string `json:"source_ids,omitempty"`

	// Scope is the promotion target for PromoteScope.
	Scope UnitScope `json:"scope,omitempty"`

	// ScopePatterns are glob patterns selecting units for PromoteScope.
	ScopePatterns []string `json:"scope_patterns,omitempty"`

	// CaptureID is the capture cleared by RedactCapture.
	CaptureID string `json:"capture_id,omitempty"`
}

// WriteTargets returns the IDs an operation writes. Creation operations
// have no pre-existing targets; their IDs are assigned at execution.
func (o Operation) WriteTargets() []string {
	switch o.Type {
	case OpReviseBlock, OpArchiveBlock, OpPromoteScope:
		if o.Data.TargetID == "" {
			return nil
		}
		return []string{o.Data.TargetID}
	case OpMergeContextItems:
		targets := make([]string, 0, len(o.Data.SourceIDs)+1)
		if o.Data.TargetID != "" {
			targets = append(targets, o.Data.TargetID)
		}
		return append(targets, o.Data.SourceIDs...)
	case OpRedactCapture:
		if o.Data.CaptureID == "" {
			return nil
		}
		return []string{o.Data.CaptureID}
	default:
		return nil
	}
}

// IsDestructive returns true for operations that archive or redact.
func (o Operation) IsDestructive() bool {
	return o.Type == OpArchiveBlock || o.Type == OpRedactCapture
}
