package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// In-memory store fakes. Each mirrors the workspace scoping of the KV
// implementations: a cross-workspace Get is indistinguishable from a
// missing key.

type memProposalStore struct {
	mu        sync.Mutex
	proposals map[string]*substrate.Proposal

	failUpdate error
}

func newMemProposalStore() *memProposalStore {
	return &memProposalStore{proposals: make(map[string]*substrate.Proposal)}
}

func (s *memProposalStore) Create(_ context.Context, p *substrate.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.proposals[p.ID]; ok {
		return storage.ErrAlreadyExists
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *memProposalStore) Get(_ context.Context, workspaceID, id string) (*substrate.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.proposals[id]
	if !ok || p.WorkspaceID != workspaceID {
		return nil, storage.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memProposalStore) Update(_ context.Context, p *substrate.Proposal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdate != nil {
		return s.failUpdate
	}
	cp := *p
	s.proposals[p.ID] = &cp
	return nil
}

func (s *memProposalStore) ListByWorkspace(_ context.Context, workspaceID string) ([]*substrate.Proposal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*substrate.Proposal
	for _, p := range s.proposals {
		if p.WorkspaceID == workspaceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memProposalStore) ListByBasket(_ context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error) {
	all, _ := s.ListByWorkspace(nil, workspaceID)
	var out []*substrate.Proposal
	for _, p := range all {
		if p.BasketID == basketID {
			out = append(out, p)
		}
	}
	return out, nil
}

type memUnitStore struct {
	mu    sync.Mutex
	units map[string]*substrate.SubstrateUnit

	// failUpdateID makes Update fail for one unit, for rollback tests.
	failUpdateID string
	// failCreateAfter makes Create fail once n creates have succeeded.
	failCreateAfter int
	creates         int
}

func newMemUnitStore() *memUnitStore {
	return &memUnitStore{units: make(map[string]*substrate.SubstrateUnit), failCreateAfter: -1}
}

func (s *memUnitStore) put(u *substrate.SubstrateUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.units[u.ID] = &cp
}

func (s *memUnitStore) Create(_ context.Context, u *substrate.SubstrateUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failCreateAfter >= 0 && s.creates >= s.failCreateAfter {
		return fmt.Errorf("simulated create failure")
	}
	s.creates++
	cp := *u
	s.units[u.ID] = &cp
	return nil
}

func (s *memUnitStore) Get(_ context.Context, workspaceID, id string) (*substrate.SubstrateUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.units[id]
	if !ok || u.WorkspaceID != workspaceID {
		return nil, storage.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *memUnitStore) Update(_ context.Context, u *substrate.SubstrateUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == s.failUpdateID {
		return fmt.Errorf("simulated update failure")
	}
	cp := *u
	s.units[u.ID] = &cp
	return nil
}

func (s *memUnitStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.units, id)
	return nil
}

func (s *memUnitStore) ListByBasket(_ context.Context, workspaceID, basketID string) ([]*substrate.SubstrateUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*substrate.SubstrateUnit
	for _, u := range s.units {
		if u.WorkspaceID == workspaceID && u.BasketID == basketID {
			cp := *u
			out = append(out, &cp)
		}
	}
	return out, nil
}

type memCaptureStore struct {
	mu       sync.Mutex
	captures map[string]*substrate.Capture
}

func newMemCaptureStore() *memCaptureStore {
	return &memCaptureStore{captures: make(map[string]*substrate.Capture)}
}

func (s *memCaptureStore) put(c *substrate.Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.captures[c.ID] = &cp
}

func (s *memCaptureStore) Get(_ context.Context, workspaceID, id string) (*substrate.Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.captures[id]
	if !ok || c.WorkspaceID != workspaceID {
		return nil, storage.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *memCaptureStore) Redact(ctx context.Context, workspaceID, id string) (*substrate.Capture, error) {
	c, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if c.RedactedAt != nil {
		return c, nil
	}
	prev := *c
	now := time.Now().UTC()
	c.Content = ""
	c.SourceTitle = ""
	c.RedactedAt = &now
	s.put(c)
	return &prev, nil
}

func (s *memCaptureStore) Restore(_ context.Context, c *substrate.Capture) error {
	s.put(c)
	return nil
}

// testUnit creates an active block in the store and returns it.
func testUnit(store *memUnitStore, workspaceID, basketID string) *substrate.SubstrateUnit {
	u := &substrate.SubstrateUnit{
		ID:          substrate.NewUnitID(),
		WorkspaceID: workspaceID,
		BasketID:    basketID,
		Type:        substrate.UnitTypeBlock,
		State:       substrate.UnitStateActive,
		Scope:       substrate.ScopeBasket,
		Title:       "test block",
		Body:        "body",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	store.put(u)
	return u
}
