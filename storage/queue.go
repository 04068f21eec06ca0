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

// ProcessingState is the lifecycle state of a queue entry.
type ProcessingState string

const (
	StateQueued     ProcessingState = "queued"
	StateInProgress ProcessingState = "in_progress"
	StateFailed     ProcessingState = "failed"
	StateCompleted  ProcessingState = "completed"
	// StateDead marks entries whose retry budget is exhausted. Dead
	// entries stay queryable for manual intervention; they are never
	// silently dropped.
	StateDead ProcessingState = "dead"
)

// IsValid returns true if the state is a known processing state.
func (s ProcessingState) IsValid() bool {
	switch s {
	case StateQueued, StateInProgress, StateFailed, StateCompleted, StateDead:
		return true
	default:
		return false
	}
}

// QueueEntry tracks one capture's progress through the pipeline stages.
// Keyed by capture ID, so re-enqueuing is naturally a no-op.
type QueueEntry struct {
	CaptureID   string `json:"capture_id"`
	WorkspaceID string `json:"workspace_id"`
	BasketID    string `json:"basket_id"`

	State    ProcessingState `json:"state"`
	Attempts int             `json:"attempts"`

	// FailedStage names the stage that halted progression, if any.
	FailedStage string `json:"failed_stage,omitempty"`
	LastError   string `json:"last_error,omitempty"`

	// StageCompletions records when each stage finished, keyed by stage
	// name. Redeliveries resume from the first incomplete stage.
	StageCompletions map[string]time.Time `json:"stage_completions,omitempty"`

	// Ops accumulates the operations proposed by completed stages.
	Ops []substrate.Operation `json:"ops,omitempty"`

	// MinConfidence is the lowest stage-reported certainty so far.
	MinConfidence float64 `json:"min_confidence"`

	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// StageDone returns true if the named stage already completed.
func (e *QueueEntry) StageDone(stage string) bool {
	_, ok := e.StageCompletions[stage]
	return ok
}

// MarkStageDone records a stage completion timestamp.
func (e *QueueEntry) MarkStageDone(stage string, at time.Time) {
	if e.StageCompletions == nil {
		e.StageCompletions = make(map[string]time.Time)
	}
	e.StageCompletions[stage] = at
}

// QueueStore stores pipeline queue entries.
type QueueStore struct {
	queue jetstream.KeyValue
}

// NewQueueStore creates a queue store, creating the KV bucket if it
// doesn't exist.
func NewQueueStore(ctx context.Context, js jetstream.JetStream) (*QueueStore, error) {
	queue, err := getOrCreateBucket(ctx, js, BucketQueue)
	if err != nil {
		return nil, fmt.Errorf("create queue bucket: %w", err)
	}
	return &QueueStore{queue: queue}, nil
}

// Enqueue creates a queue entry for a capture. Keyed by capture ID:
// enqueueing an already-queued or already-processed capture is a no-op
// and returns created=false.
func (s *QueueStore) Enqueue(ctx context.Context, captureID, workspaceID, basketID string) (bool, error) {
	now := time.Now().UTC()
	entry := QueueEntry{
		CaptureID:     captureID,
		WorkspaceID:   workspaceID,
		BasketID:      basketID,
		State:         StateQueued,
		MinConfidence: 1.0,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	data, err := json.Marshal(&entry)
	if err != nil {
		return false, fmt.Errorf("marshal queue entry: %w", err)
	}

	if _, err := s.queue.Create(ctx, captureID, data); err != nil {
		if isKeyExists(err) {
			return false, nil
		}
		return false, fmt.Errorf("enqueue capture: %w", err)
	}
	return true, nil
}

// Get retrieves a queue entry by capture ID.
func (s *QueueStore) Get(ctx context.Context, captureID string) (*QueueEntry, error) {
	entry, err := s.queue.Get(ctx, captureID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get queue entry: %w", err)
	}

	var e QueueEntry
	if err := json.Unmarshal(entry.Value(), &e); err != nil {
		return nil, fmt.Errorf("unmarshal queue entry: %w", err)
	}
	return &e, nil
}

// Update overwrites a queue entry.
func (s *QueueStore) Update(ctx context.Context, e *QueueEntry) error {
	e.UpdatedAt = time.Now().UTC()

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	if _, err := s.queue.Put(ctx, e.CaptureID, data); err != nil {
		return fmt.Errorf("update queue entry: %w", err)
	}
	return nil
}

// Stats counts queue entries per processing state for the queue health
// boundary.
func (s *QueueStore) Stats(ctx context.Context) (map[ProcessingState]int, error) {
	stats := map[ProcessingState]int{}

	keys, err := s.queue.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return stats, nil
		}
		return nil, fmt.Errorf("list queue keys: %w", err)
	}

	for _, key := range keys {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		entry, err := s.queue.Get(ctx, key)
		if err != nil {
			continue
		}
		var e QueueEntry
		if err := json.Unmarshal(entry.Value(), &e); err != nil {
			continue
		}
		stats[e.State]++
	}

	return stats, nil
}
