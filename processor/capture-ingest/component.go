// Package captureingest provides the HTTP ingestion boundary for raw
// captures. Submissions are idempotent on a client request ID, HTML is
// normalized to markdown, and every accepted capture is enqueued for
// pipeline processing exactly once.
package captureingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"

	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// captureStore is the slice of capture storage this component needs.
// Satisfied by *storage.CaptureStore.
type captureStore interface {
	Create(ctx context.Context, c *substrate.Capture) (*substrate.Capture, bool, error)
	Get(ctx context.Context, workspaceID, id string) (*substrate.Capture, error)
}

// queueStore is the slice of queue storage this component needs.
// Satisfied by *storage.QueueStore.
type queueStore interface {
	Enqueue(ctx context.Context, captureID, workspaceID, basketID string) (bool, error)
}

// streamPublisher is the slice of the NATS client this component needs
// for trigger publication. Satisfied by *natsclient.Client.
type streamPublisher interface {
	PublishToStream(ctx context.Context, subject string, data []byte) error
}

// Component implements the capture-ingest processor.
type Component struct {
	name      string
	config    Config
	publisher streamPublisher
	logger    *slog.Logger

	captures  captureStore
	queue     queueStore
	converter *Converter
	emitter   *substrate.Emitter

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	capturesAccepted   atomic.Int64
	capturesDeduped    atomic.Int64
	capturesNormalized atomic.Int64
}

// NewComponent creates a new capture-ingest processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.MaxContentBytes == 0 {
		config.MaxContentBytes = defaults.MaxContentBytes
	}
	if config.QueueSubject == "" {
		config.QueueSubject = defaults.QueueSubject
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	if deps.NATSClient == nil {
		return nil, fmt.Errorf("NATS client required")
	}
	js, err := deps.NATSClient.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	ctx := context.Background()
	captures, err := storage.NewCaptureStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create capture store: %w", err)
	}
	queue, err := storage.NewQueueStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create queue store: %w", err)
	}

	return &Component{
		name:      "capture-ingest",
		config:    config,
		publisher: deps.NATSClient,
		logger:    deps.GetLogger(),
		captures:  captures,
		queue:     queue,
		converter: NewConverter(),
		emitter:   substrate.NewEmitter(deps.NATSClient, "capture-ingest", deps.GetLogger()),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized capture-ingest",
		"max_content_bytes", c.config.MaxContentBytes,
		"queue_subject", c.config.QueueSubject)
	return nil
}

// Start begins serving the component.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	c.running = true
	c.startTime = time.Now()

	_, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	c.logger.Info("capture-ingest started")
	return nil
}

// Stop gracefully stops the component.
func (c *Component) Stop(_ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.logger.Info("capture-ingest stopped")
	return nil
}

// submitCapture runs the ingestion path: normalize, persist
// idempotently, enqueue, publish the queue trigger. Duplicate request
// IDs return the original capture without re-enqueueing.
func (c *Component) submitCapture(ctx context.Context, workspaceID, basketID, content, contentType, requestID string) (*substrate.Capture, bool, error) {
	capture := substrate.NewCapture(workspaceID, basketID, content, contentType, requestID)

	if isHTML(contentType) {
		result, err := c.converter.Convert(content)
		if err != nil {
			c.logger.Warn("HTML normalization failed, storing raw content",
				"workspace_id", workspaceID, "error", err)
		} else {
			capture.Content = result.Markdown
			capture.ContentType = "text/markdown"
			capture.SourceTitle = result.Title
			c.capturesNormalized.Add(1)
		}
	}

	stored, created, err := c.captures.Create(ctx, capture)
	if err != nil {
		return nil, false, fmt.Errorf("store capture: %w", err)
	}
	if !created {
		c.capturesDeduped.Add(1)
		c.logger.Debug("Duplicate capture submission",
			"capture_id", stored.ID, "request_id", requestID)
	} else {
		c.capturesAccepted.Add(1)
	}

	// Enqueue and publish run on duplicates too. Both are idempotent,
	// and the trigger is the only thing that wakes the processor: if a
	// prior attempt lost the publish, the client's retry is what
	// republishes it. A failed publish therefore surfaces as an error
	// rather than stranding the queued entry.
	if _, err := c.queue.Enqueue(ctx, stored.ID, workspaceID, basketID); err != nil {
		return nil, false, fmt.Errorf("enqueue capture: %w", err)
	}
	if err := c.publishQueueTrigger(ctx, stored); err != nil {
		return nil, false, fmt.Errorf("publish queue trigger: %w", err)
	}

	if created {
		c.emitter.CaptureQueuedAt(ctx, substrate.CaptureQueuedEvent{
			CaptureID:   stored.ID,
			WorkspaceID: workspaceID,
			BasketID:    basketID,
		})
	}

	return stored, created, nil
}

// publishQueueTrigger publishes the capture-queued trigger consumed by
// the queue processor.
func (c *Component) publishQueueTrigger(ctx context.Context, capture *substrate.Capture) error {
	if c.publisher == nil {
		return nil
	}
	trigger := substrate.CaptureQueuedTrigger{
		CaptureID:   capture.ID,
		WorkspaceID: capture.WorkspaceID,
		BasketID:    capture.BasketID,
	}
	baseMsg := message.NewBaseMessage(substrate.CaptureQueuedType, &trigger, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}
	if err := c.publisher.PublishToStream(ctx, c.config.QueueSubject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.config.QueueSubject, err)
	}
	return nil
}

func isHTML(contentType string) bool {
	return contentType == "text/html" ||
		contentType == "application/xhtml+xml"
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "capture-ingest",
		Type:        "processor",
		Description: "HTTP ingestion boundary for raw captures",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list. Ingestion is HTTP-only.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts describes the queue trigger output.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "queue-trigger",
			Direction:   component.DirectionOutput,
			Description: "Capture queued triggers for the pipeline",
			Config: component.NATSPort{
				Subject: c.config.QueueSubject,
			},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return captureIngestSchema
}

// Health returns the current health status.
func (c *Component) Health() component.HealthStatus {
	c.mu.RLock()
	running := c.running
	startTime := c.startTime
	c.mu.RUnlock()

	status := "stopped"
	if running {
		status = "running"
	}
	return component.HealthStatus{
		Healthy:   running,
		LastCheck: time.Now(),
		Uptime:    time.Since(startTime),
		Status:    status,
	}
}

// DataFlow returns current data flow metrics.
func (c *Component) DataFlow() component.FlowMetrics {
	return component.FlowMetrics{}
}
