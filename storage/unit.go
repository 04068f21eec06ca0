package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/c360studio/substrate/substrate"
	"github.com/nats-io/nats.go/jetstream"
)

// UnitStore stores substrate units. Units are only written through the
// governance executor; nothing else holds a reference to this store's
// mutating methods.
type UnitStore struct {
	units jetstream.KeyValue
}

// NewUnitStore creates a unit store, creating the KV bucket if it
// doesn't exist.
func NewUnitStore(ctx context.Context, js jetstream.JetStream) (*UnitStore, error) {
	units, err := getOrCreateBucket(ctx, js, BucketUnits)
	if err != nil {
		return nil, fmt.Errorf("create units bucket: %w", err)
	}
	return &UnitStore{units: units}, nil
}

// Create stores a new unit. First write wins; creating an existing ID
// is an error.
func (s *UnitStore) Create(ctx context.Context, u *substrate.SubstrateUnit) error {
	if u.ID == "" {
		u.ID = substrate.NewUnitID()
	}
	now := time.Now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.State == "" {
		u.State = substrate.UnitStateActive
	}
	if u.Scope == "" {
		u.Scope = substrate.ScopeBasket
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal unit: %w", err)
	}
	if _, err := s.units.Create(ctx, u.ID, data); err != nil {
		return fmt.Errorf("store unit: %w", err)
	}
	return nil
}

// Get retrieves a unit by ID, scoped to the given workspace.
func (s *UnitStore) Get(ctx context.Context, workspaceID, id string) (*substrate.SubstrateUnit, error) {
	entry, err := s.units.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get unit: %w", err)
	}

	var u substrate.SubstrateUnit
	if err := json.Unmarshal(entry.Value(), &u); err != nil {
		return nil, fmt.Errorf("unmarshal unit: %w", err)
	}
	if u.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}

	return &u, nil
}

// Update overwrites an existing unit.
func (s *UnitStore) Update(ctx context.Context, u *substrate.SubstrateUnit) error {
	u.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal unit: %w", err)
	}
	if _, err := s.units.Put(ctx, u.ID, data); err != nil {
		return fmt.Errorf("update unit: %w", err)
	}
	return nil
}

// Delete removes a unit. Used only by the executor's rollback of
// creations that were part of a failed batch.
func (s *UnitStore) Delete(ctx context.Context, id string) error {
	if err := s.units.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete unit: %w", err)
	}
	return nil
}

// ListByWorkspace returns all units in a workspace.
func (s *UnitStore) ListByWorkspace(ctx context.Context, workspaceID string) ([]*substrate.SubstrateUnit, error) {
	return s.list(ctx, workspaceID, "")
}

// ListByBasket returns all units in a basket within a workspace.
func (s *UnitStore) ListByBasket(ctx context.Context, workspaceID, basketID string) ([]*substrate.SubstrateUnit, error) {
	return s.list(ctx, workspaceID, basketID)
}

func (s *UnitStore) list(ctx context.Context, workspaceID, basketID string) ([]*substrate.SubstrateUnit, error) {
	keys, err := s.units.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list unit keys: %w", err)
	}

	units := make([]*substrate.SubstrateUnit, 0, len(keys))
	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.units.Get(ctx, key)
		if err != nil {
			continue // Skip entries that fail to load
		}
		var u substrate.SubstrateUnit
		if err := json.Unmarshal(entry.Value(), &u); err != nil {
			continue
		}
		if u.WorkspaceID != workspaceID {
			continue
		}
		if basketID != "" && u.BasketID != basketID {
			continue
		}
		units = append(units, &u)
	}

	return units, nil
}
