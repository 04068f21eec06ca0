package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/c360studio/substrate/substrate"
	"github.com/nats-io/nats.go/jetstream"
)

// ProposalStore stores governance proposals.
type ProposalStore struct {
	proposals jetstream.KeyValue
}

// NewProposalStore creates a proposal store, creating the KV bucket if
// it doesn't exist.
func NewProposalStore(ctx context.Context, js jetstream.JetStream) (*ProposalStore, error) {
	proposals, err := getOrCreateBucket(ctx, js, BucketProposals)
	if err != nil {
		return nil, fmt.Errorf("create proposals bucket: %w", err)
	}
	return &ProposalStore{proposals: proposals}, nil
}

// Create stores a new proposal. First write wins; a taken ID answers
// ErrAlreadyExists so callers can resolve the original.
func (s *ProposalStore) Create(ctx context.Context, p *substrate.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if _, err := s.proposals.Create(ctx, p.ID, data); err != nil {
		if isKeyExists(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store proposal: %w", err)
	}
	return nil
}

// Get retrieves a proposal by ID, scoped to the given workspace.
// A proposal in another workspace answers ErrNotFound, never a
// permission error.
func (s *ProposalStore) Get(ctx context.Context, workspaceID, id string) (*substrate.Proposal, error) {
	entry, err := s.proposals.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	var p substrate.Proposal
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("unmarshal proposal: %w", err)
	}
	if p.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}

	return &p, nil
}

// Update overwrites an existing proposal.
func (s *ProposalStore) Update(ctx context.Context, p *substrate.Proposal) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal proposal: %w", err)
	}
	if _, err := s.proposals.Put(ctx, p.ID, data); err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	return nil
}

// ListByWorkspace returns all proposals in a workspace.
func (s *ProposalStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*substrate.Proposal, error) {
	return s.list(ctx, workspaceID, "")
}

// ListByBasket returns all proposals for a basket within a workspace.
func (s *ProposalStore) ListByBasket(ctx context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error) {
	return s.list(ctx, workspaceID, basketID)
}

func (s *ProposalStore) list(ctx context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error) {
	keys, err := s.proposals.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list proposal keys: %w", err)
	}

	proposals := make([]*substrate.Proposal, 0, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.proposals.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var p substrate.Proposal
		if err := json.Unmarshal(entry.Value(), &p); err != nil {
			continue
		}
		if p.WorkspaceID != workspaceID {
			continue
		}
		if basketID != "" && p.BasketID != basketID {
			continue
		}
		proposals = append(proposals, &p)
	}

	return proposals, nil
}
