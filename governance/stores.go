// Package governance implements the proposal state machine that gates
// all substrate mutation: validation, conflict detection, auto-approval
// policy and idempotent execution. The engine's execute step is the
// single writer path for substrate storage.
package governance

import (
	"context"

	"github.com/c360studio/substrate/substrate"
)

// ProposalStore is the slice of proposal storage the engine and
// conflict detector need. Satisfied by *storage.ProposalStore.
type ProposalStore interface {
	Create(ctx context.Context, p *substrate.Proposal) error
	Get(ctx context.Context, workspaceID, id string) (*substrate.Proposal, error)
	Update(ctx context.Context, p *substrate.Proposal) error
	ListByWorkspace(ctx context.Context, workspaceID string) ([]*substrate.Proposal, error)
	ListByBasket(ctx context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error)
}

// UnitStore is the slice of unit storage the validator and executor
// need. Satisfied by *storage.UnitStore.
type UnitStore interface {
	Create(ctx context.Context, u *substrate.SubstrateUnit) error
	Get(ctx context.Context, workspaceID, id string) (*substrate.SubstrateUnit, error)
	Update(ctx context.Context, u *substrate.SubstrateUnit) error
	Delete(ctx context.Context, id string) error
	ListByBasket(ctx context.Context, workspaceID, basketID string) ([]*substrate.SubstrateUnit, error)
}

// CaptureStore is the slice of capture storage the executor needs for
// redaction. Satisfied by *storage.CaptureStore.
type CaptureStore interface {
	Get(ctx context.Context, workspaceID, id string) (*substrate.Capture, error)
	Redact(ctx context.Context, workspaceID, id string) (*substrate.Capture, error)
	Restore(ctx context.Context, c *substrate.Capture) error
}
