// Package storage provides entity storage for the substrate governance
// pipeline using NATS KV. Every read and write is workspace-scoped; no
// code path here crosses a workspace boundary.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/substrate/substrate"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names for each entity type.
const (
	BucketCaptures        = "SUBSTRATE_CAPTURES"
	BucketCaptureRequests = "SUBSTRATE_CAPTURE_REQUESTS"
	BucketUnits           = "SUBSTRATE_UNITS"
	BucketProposals       = "SUBSTRATE_PROPOSALS"
	BucketQueue           = "SUBSTRATE_QUEUE"
)

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	// Bucket doesn't exist, create it
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("Substrate %s storage", strings.ToLower(name)),
		History:     5, // Keep last 5 revisions
	})
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "key not found")
}

// isKeyExists checks if an error indicates a first-write-wins collision.
func isKeyExists(err error) bool {
	if errors.Is(err, jetstream.ErrKeyExists) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "key exists")
}

// CaptureStore stores immutable captures and the request-id index that
// makes ingestion idempotent.
type CaptureStore struct {
	captures jetstream.KeyValue
	requests jetstream.KeyValue
}

// NewCaptureStore creates a capture store, creating the KV buckets if
// they don't exist.
func NewCaptureStore(ctx context.Context, js jetstream.JetStream) (*CaptureStore, error) {
	captures, err := getOrCreateBucket(ctx, js, BucketCaptures)
	if err != nil {
		return nil, fmt.Errorf("create captures bucket: %w", err)
	}

	requests, err := getOrCreateBucket(ctx, js, BucketCaptureRequests)
	if err != nil {
		return nil, fmt.Errorf("create capture requests bucket: %w", err)
	}

	return &CaptureStore{captures: captures, requests: requests}, nil
}

// RequestKey derives the KV key for a client idempotency token. Tokens
// are caller-supplied free text, so they are hashed into the KV key
// alphabet rather than used directly.
func RequestKey(workspaceID, basketID, requestID string) string {
	sum := sha256.Sum256([]byte(workspaceID + "\x00" + basketID + "\x00" + requestID))
	return hex.EncodeToString(sum[:])
}

// Create stores a capture, deduplicating on (workspace, basket,
// request_id). The first writer wins; later submissions with the same
// token get the original capture back with created=false.
//
// The capture row goes in before the request index is reserved. A
// failed index write must never leave a reservation pointing at a
// capture that was never stored, or the token could not be retried.
func (s *CaptureStore) Create(ctx context.Context, c *substrate.Capture) (*substrate.Capture, bool, error) {
	key := RequestKey(c.WorkspaceID, c.BasketID, c.RequestID)

	existing, err := s.resolveRequest(ctx, c.WorkspaceID, key)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return nil, false, fmt.Errorf("marshal capture: %w", err)
	}
	if _, err := s.captures.Create(ctx, c.ID, data); err != nil {
		return nil, false, fmt.Errorf("store capture: %w", err)
	}

	if _, err := s.requests.Create(ctx, key, []byte(c.ID)); err != nil {
		// This submission's row is unreachable without the index entry;
		// remove it so a retry starts clean.
		_ = s.captures.Delete(ctx, c.ID)
		if !isKeyExists(err) {
			return nil, false, fmt.Errorf("reserve request key: %w", err)
		}
		// Lost the race to a concurrent submission with the same token.
		winner, err := s.resolveRequest(ctx, c.WorkspaceID, key)
		if err != nil {
			return nil, false, err
		}
		return winner, false, nil
	}

	return c, true, nil
}

// resolveRequest loads the capture a request-index entry points at.
// ErrNotFound means the token is unused.
func (s *CaptureStore) resolveRequest(ctx context.Context, workspaceID, key string) (*substrate.Capture, error) {
	entry, err := s.requests.Get(ctx, key)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("resolve request key: %w", err)
	}
	c, err := s.Get(ctx, workspaceID, string(entry.Value()))
	if err != nil {
		return nil, fmt.Errorf("load original capture: %w", err)
	}
	return c, nil
}

// Get retrieves a capture by ID, scoped to the given workspace.
func (s *CaptureStore) Get(ctx context.Context, workspaceID, id string) (*substrate.Capture, error) {
	entry, err := s.captures.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get capture: %w", err)
	}

	var c substrate.Capture
	if err := json.Unmarshal(entry.Value(), &c); err != nil {
		return nil, fmt.Errorf("unmarshal capture: %w", err)
	}
	if c.WorkspaceID != workspaceID {
		return nil, ErrNotFound
	}

	return &c, nil
}

// Redact clears a capture's content. This is the single governed
// exception to capture immutability and is only reachable through
// proposal execution.
func (s *CaptureStore) Redact(ctx context.Context, workspaceID, id string) (*substrate.Capture, error) {
	c, err := s.Get(ctx, workspaceID, id)
	if err != nil {
		return nil, err
	}
	if c.RedactedAt != nil {
		return c, nil // Already redacted
	}

	prev := *c
	now := time.Now().UTC()
	c.Content = ""
	c.SourceTitle = ""
	c.RedactedAt = &now

	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal capture: %w", err)
	}
	if _, err := s.captures.Put(ctx, c.ID, data); err != nil {
		return nil, fmt.Errorf("redact capture: %w", err)
	}

	return &prev, nil
}

// Restore writes back a previously read capture value. Used only by the
// executor's rollback path.
func (s *CaptureStore) Restore(ctx context.Context, c *substrate.Capture) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal capture: %w", err)
	}
	if _, err := s.captures.Put(ctx, c.ID, data); err != nil {
		return fmt.Errorf("restore capture: %w", err)
	}
	return nil
}
