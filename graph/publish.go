// Package graph provides utilities for publishing substrate entities to
// the knowledge graph.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"

	"github.com/c360studio/substrate/substrate"
	vocab "github.com/c360studio/substrate/vocabulary/substrate"
)

// GraphIngestSubject is the subject for graph ingestion.
const GraphIngestSubject = "graph.ingest.entity"

// tripleSource identifies this pipeline in published triples.
const tripleSource = "substrate.governance"

// EntityIngestMessage is the message format for graph ingestion.
// Matches the format consumed by downstream graph components.
type EntityIngestMessage struct {
	ID        string           `json:"id"`
	Triples   []message.Triple `json:"triples"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// Publisher publishes executed governance outcomes to the knowledge
// graph. A nil NATS client disables publishing.
type Publisher struct {
	nc     *natsclient.Client
	logger *slog.Logger
}

// NewPublisher creates a graph publisher.
func NewPublisher(nc *natsclient.Client, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, logger: logger}
}

// PublishProposal publishes an executed proposal entity to the graph.
func (p *Publisher) PublishProposal(ctx context.Context, prop *substrate.Proposal) error {
	if p == nil || p.nc == nil {
		return nil
	}
	now := time.Now()
	entityID := ProposalEntityID(prop.WorkspaceID, prop.ID)
	return p.publish(ctx, entityID, proposalTriples(prop, now), now)
}

// proposalTriples builds the triple set describing a proposal entity.
func proposalTriples(prop *substrate.Proposal, now time.Time) []message.Triple {
	entityID := ProposalEntityID(prop.WorkspaceID, prop.ID)
	triples := []message.Triple{
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalStatus,
			Object:     string(prop.Status),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalOrigin,
			Object:     string(prop.Origin),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalBasket,
			Object:     prop.BasketID,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalAutoApproved,
			Object:     prop.AutoApproved,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalOpCount,
			Object:     len(prop.Ops),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalCreatedAt,
			Object:     prop.CreatedAt.Format(time.RFC3339),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
	}

	if prop.Kind != "" {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalKind,
			Object:     prop.Kind,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	if prop.ValidatorReport != nil {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalConfidence,
			Object:     prop.ValidatorReport.Confidence,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalBlastRadius,
			Object:     string(prop.BlastRadius),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	if prop.ExecutedAt != nil {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateProposalExecutedAt,
			Object:     prop.ExecutedAt.Format(time.RFC3339),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	if prop.ExecutionResult != nil {
		for _, unitID := range prop.ExecutionResult.CreatedUnitIDs {
			triples = append(triples, message.Triple{
				Subject:    entityID,
				Predicate:  vocab.PredicateProposalCreatedUnit,
				Object:     UnitEntityID(prop.WorkspaceID, unitID),
				Source:     tripleSource,
				Timestamp:  now,
				Confidence: 1.0,
			})
		}
	}
	return triples
}

// PublishUnit publishes a substrate unit entity to the graph.
func (p *Publisher) PublishUnit(ctx context.Context, unit *substrate.SubstrateUnit) error {
	if p == nil || p.nc == nil {
		return nil
	}
	now := time.Now()
	entityID := UnitEntityID(unit.WorkspaceID, unit.ID)
	return p.publish(ctx, entityID, unitTriples(unit, now), now)
}

// unitTriples builds the triple set describing a substrate unit entity.
func unitTriples(unit *substrate.SubstrateUnit, now time.Time) []message.Triple {
	entityID := UnitEntityID(unit.WorkspaceID, unit.ID)
	triples := []message.Triple{
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitType,
			Object:     string(unit.Type),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitState,
			Object:     string(unit.State),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitScope,
			Object:     string(unit.Scope),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitBasket,
			Object:     unit.BasketID,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
		{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitUpdatedAt,
			Object:     unit.UpdatedAt.Format(time.RFC3339),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		},
	}

	if unit.Title != "" {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitTitle,
			Object:     unit.Title,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	for _, captureID := range unit.Provenance {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateUnitProvenance,
			Object:     captureID,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	if unit.Type == substrate.UnitTypeRelationship {
		triples = append(triples, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateRelationFrom,
			Object:     UnitEntityID(unit.WorkspaceID, unit.FromID),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateRelationTo,
			Object:     UnitEntityID(unit.WorkspaceID, unit.ToID),
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		}, message.Triple{
			Subject:    entityID,
			Predicate:  vocab.PredicateRelationKind,
			Object:     unit.Relation,
			Source:     tripleSource,
			Timestamp:  now,
			Confidence: 1.0,
		})
	}
	return triples
}

func (p *Publisher) publish(ctx context.Context, entityID string, triples []message.Triple, now time.Time) error {
	msg := EntityIngestMessage{
		ID:        entityID,
		Triples:   triples,
		UpdatedAt: now,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal graph entity: %w", err)
	}
	if err := p.nc.PublishToStream(ctx, GraphIngestSubject, data); err != nil {
		return fmt.Errorf("publish graph entity: %w", err)
	}
	return nil
}

// UnitEntityID generates a consistent entity ID for a substrate unit.
// Format: substrate.<workspace>.unit.<id>
func UnitEntityID(workspaceID, unitID string) string {
	return fmt.Sprintf("substrate.%s.unit.%s", workspaceID, unitID)
}

// ProposalEntityID generates a consistent entity ID for a proposal.
// Format: substrate.<workspace>.proposal.<id>
func ProposalEntityID(workspaceID, proposalID string) string {
	return fmt.Sprintf("substrate.%s.proposal.%s", workspaceID, proposalID)
}
