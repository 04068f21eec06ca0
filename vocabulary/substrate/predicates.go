package substrate

import "github.com/c360studio/semstreams/vocabulary"

// Namespace for substrate predicates.
const Namespace = "https://substrate.dev/vocabulary/substrate#"

// PROV-O IRI constants for temporal predicates.
const (
	// ProvGeneratedAtTime indicates when an entity was generated.
	ProvGeneratedAtTime = "http://www.w3.org/ns/prov#generatedAtTime"

	// ProvWasDerivedFrom links a unit to the captures it came from.
	ProvWasDerivedFrom = "http://www.w3.org/ns/prov#wasDerivedFrom"
)

// Substrate unit predicates.
const (
	// PredicateUnitType is the unit kind.
	// Values: block, context_item, relationship, reflection
	PredicateUnitType = "substrate.unit.type"

	// PredicateUnitState is the lifecycle state.
	// Values: active, archived, redacted
	PredicateUnitState = "substrate.unit.state"

	// PredicateUnitScope is the visibility scope.
	// Values: basket, workspace
	PredicateUnitScope = "substrate.unit.scope"

	// PredicateUnitTitle is the unit's human-readable label.
	PredicateUnitTitle = "substrate.unit.title"

	// PredicateUnitBasket is the basket the unit belongs to.
	PredicateUnitBasket = "substrate.unit.basket"

	// PredicateUnitProvenance links a unit to a source capture.
	PredicateUnitProvenance = "substrate.unit.provenance"

	// PredicateUnitUpdatedAt is the RFC3339 timestamp of the last mutation.
	PredicateUnitUpdatedAt = "substrate.unit.updated_at"
)

// Relationship unit predicates.
const (
	// PredicateRelationFrom is the source unit of a relationship.
	PredicateRelationFrom = "substrate.relationship.from"

	// PredicateRelationTo is the target unit of a relationship.
	PredicateRelationTo = "substrate.relationship.to"

	// PredicateRelationKind is the relationship label.
	PredicateRelationKind = "substrate.relationship.kind"
)

// Governance proposal predicates.
const (
	// PredicateProposalStatus is the governance status.
	// Values: proposed, approved, executed, rejected
	PredicateProposalStatus = "substrate.proposal.status"

	// PredicateProposalOrigin records who authored the proposal.
	// Values: agent, human
	PredicateProposalOrigin = "substrate.proposal.origin"

	// PredicateProposalKind classifies the proposal (e.g. "extraction").
	PredicateProposalKind = "substrate.proposal.kind"

	// PredicateProposalConfidence is the validator confidence score.
	PredicateProposalConfidence = "substrate.proposal.confidence"

	// PredicateProposalBlastRadius is the validator impact class.
	// Values: local, scoped, global
	PredicateProposalBlastRadius = "substrate.proposal.blast_radius"

	// PredicateProposalAutoApproved records whether the proposal skipped
	// human review.
	PredicateProposalAutoApproved = "substrate.proposal.auto_approved"

	// PredicateProposalBasket is the basket the proposal targets.
	PredicateProposalBasket = "substrate.proposal.basket"

	// PredicateProposalOpCount is the number of operations in the batch.
	PredicateProposalOpCount = "substrate.proposal.op_count"

	// PredicateProposalCreatedAt is the RFC3339 creation timestamp.
	PredicateProposalCreatedAt = "substrate.proposal.created_at"

	// PredicateProposalExecutedAt is the RFC3339 execution timestamp.
	PredicateProposalExecutedAt = "substrate.proposal.executed_at"

	// PredicateProposalCreatedUnit links an executed proposal to a unit
	// it created.
	PredicateProposalCreatedUnit = "substrate.proposal.created_unit"
)

func init() {
	// Register unit predicates
	vocabulary.Register(PredicateUnitType,
		vocabulary.WithDescription("Substrate unit kind"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"unitType"))

	vocabulary.Register(PredicateUnitState,
		vocabulary.WithDescription("Unit lifecycle state"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"unitState"))

	vocabulary.Register(PredicateUnitScope,
		vocabulary.WithDescription("Unit visibility scope"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"unitScope"))

	vocabulary.Register(PredicateUnitTitle,
		vocabulary.WithDescription("Unit title"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"title"))

	vocabulary.Register(PredicateUnitBasket,
		vocabulary.WithDescription("Basket the unit belongs to"),
		vocabulary.WithDataType("string"))

	vocabulary.Register(PredicateUnitProvenance,
		vocabulary.WithDescription("Source capture of the unit"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(ProvWasDerivedFrom))

	vocabulary.Register(PredicateUnitUpdatedAt,
		vocabulary.WithDescription("Last mutation timestamp (RFC3339)"),
		vocabulary.WithDataType("datetime"))

	// Register relationship predicates
	vocabulary.Register(PredicateRelationFrom,
		vocabulary.WithDescription("Relationship source unit"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(Namespace+"relationFrom"))

	vocabulary.Register(PredicateRelationTo,
		vocabulary.WithDescription("Relationship target unit"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(Namespace+"relationTo"))

	vocabulary.Register(PredicateRelationKind,
		vocabulary.WithDescription("Relationship label"),
		vocabulary.WithDataType("string"))

	// Register proposal predicates
	vocabulary.Register(PredicateProposalStatus,
		vocabulary.WithDescription("Governance status"),
		vocabulary.WithDataType("string"),
		vocabulary.WithIRI(Namespace+"proposalStatus"))

	vocabulary.Register(PredicateProposalOrigin,
		vocabulary.WithDescription("Proposal author class"),
		vocabulary.WithDataType("string"))

	vocabulary.Register(PredicateProposalKind,
		vocabulary.WithDescription("Proposal classification"),
		vocabulary.WithDataType("string"))

	vocabulary.Register(PredicateProposalConfidence,
		vocabulary.WithDescription("Validator confidence score"),
		vocabulary.WithDataType("float"))

	vocabulary.Register(PredicateProposalBlastRadius,
		vocabulary.WithDescription("Validator impact class"),
		vocabulary.WithDataType("string"))

	vocabulary.Register(PredicateProposalAutoApproved,
		vocabulary.WithDescription("Whether the proposal skipped human review"),
		vocabulary.WithDataType("bool"))

	vocabulary.Register(PredicateProposalBasket,
		vocabulary.WithDescription("Basket the proposal targets"),
		vocabulary.WithDataType("string"))

	vocabulary.Register(PredicateProposalOpCount,
		vocabulary.WithDescription("Number of operations in the batch"),
		vocabulary.WithDataType("int"))

	vocabulary.Register(PredicateProposalCreatedAt,
		vocabulary.WithDescription("Creation timestamp (RFC3339)"),
		vocabulary.WithDataType("datetime"),
		vocabulary.WithIRI(ProvGeneratedAtTime))

	vocabulary.Register(PredicateProposalExecutedAt,
		vocabulary.WithDescription("Execution timestamp (RFC3339)"),
		vocabulary.WithDataType("datetime"))

	vocabulary.Register(PredicateProposalCreatedUnit,
		vocabulary.WithDescription("Unit created by the proposal"),
		vocabulary.WithDataType("entity_id"),
		vocabulary.WithIRI(Namespace+"createdUnit"))
}
