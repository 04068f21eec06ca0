// Package queueprocessor drives queued captures through the ordered
// pipeline stages. Each capture's stage progress is tracked durably, so
// redeliveries resume from the first incomplete stage instead of
// re-running finished ones. Completed pipelines publish a proposal
// submission; this processor never writes substrate storage.
package queueprocessor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/substrate/agent"
	"github.com/c360studio/substrate/pipeline"
	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// queueStore is the slice of queue storage this component needs.
// Satisfied by *storage.QueueStore.
type queueStore interface {
	Get(ctx context.Context, captureID string) (*storage.QueueEntry, error)
	Update(ctx context.Context, e *storage.QueueEntry) error
	Stats(ctx context.Context) (map[storage.ProcessingState]int, error)
}

// captureStore is the slice of capture storage this component needs.
// Satisfied by *storage.CaptureStore.
type captureStore interface {
	Get(ctx context.Context, workspaceID, id string) (*substrate.Capture, error)
}

// Component implements the queue-processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	queue    queueStore
	captures captureStore
	stages   []pipeline.Stage
	emitter  *substrate.Emitter

	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Semaphore bounding concurrent captures
	semaphore chan struct{}

	// Metrics
	triggersReceived atomic.Int64
	pipelinesDone    atomic.Int64
	stagesFailed     atomic.Int64
	deadLettered     atomic.Int64
}

// NewComponent creates a new queue-processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
	if config.StreamName == "" {
		config.StreamName = defaults.StreamName
	}
	if config.ConsumerName == "" {
		config.ConsumerName = defaults.ConsumerName
	}
	if config.TriggerSubject == "" {
		config.TriggerSubject = defaults.TriggerSubject
	}
	if config.SubmitSubject == "" {
		config.SubmitSubject = defaults.SubmitSubject
	}
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = defaults.MaxConcurrent
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffBase == 0 {
		config.BackoffBase = defaults.BackoffBase
	}
	if config.BackoffMultiplier == 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.MaxBackoff == 0 {
		config.MaxBackoff = defaults.MaxBackoff
	}
	if config.StageTimeout == 0 {
		config.StageTimeout = defaults.StageTimeout
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
	queue, err := storage.NewQueueStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create queue store: %w", err)
	}
	captures, err := storage.NewCaptureStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create capture store: %w", err)
	}

	agentClient := agent.NewClient(deps.NATSClient,
		agent.WithInvokeTimeout(config.GetStageTimeout()),
		agent.WithLogger(deps.GetLogger()),
	)

	return &Component{
		name:       "queue-processor",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     deps.GetLogger(),
		queue:      queue,
		captures:   captures,
		stages:     pipeline.NewStages(agentClient),
		emitter:    substrate.NewEmitter(deps.NATSClient, "queue-processor", deps.GetLogger()),
		semaphore:  make(chan struct{}, config.MaxConcurrent),
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized queue-processor",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"max_concurrent", c.config.MaxConcurrent,
		"max_attempts", c.config.MaxAttempts)
	return nil
}

// Start begins consuming capture queue triggers.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("component already running")
	}
	if c.natsClient == nil {
		c.mu.Unlock()
		return fmt.Errorf("NATS client required")
	}

	c.running = true
	c.startTime = time.Now()

	subCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	js, err := c.natsClient.JetStream()
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get jetstream: %w", err)
	}

	stream, err := js.Stream(subCtx, c.config.StreamName)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("get stream %s: %w", c.config.StreamName, err)
	}

	consumerConfig := jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.TriggerSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		// Allow the full pipeline to run before redelivery.
		AckWait:    4*c.config.GetStageTimeout() + time.Minute,
		MaxDeliver: -1, // Retry budget enforced by the queue entry, not the consumer
	}

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, consumerConfig)
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("queue-processor started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.TriggerSubject)
	return nil
}

func (c *Component) rollbackStart(cancel context.CancelFunc) {
	c.mu.Lock()
	c.running = false
	c.cancel = nil
	c.mu.Unlock()
	cancel()
}

// Stop gracefully stops the component.
func (c *Component) Stop(timeout time.Duration) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	// Wait for in-flight captures to drain.
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if len(c.semaphore) == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	c.logger.Info("queue-processor stopped")
	return nil
}

// consumeLoop continuously consumes triggers from the durable consumer.
func (c *Component) consumeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		msgs, err := c.consumer.Fetch(1, jetstream.FetchMaxWait(5*time.Second))
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Debug("Fetch timeout or error", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleTrigger(ctx, msg)
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleTrigger processes one capture-queued trigger under the
// concurrency semaphore.
func (c *Component) handleTrigger(ctx context.Context, msg jetstream.Msg) {
	c.triggersReceived.Add(1)

	trigger, err := substrate.ParsePayload[substrate.CaptureQueuedTrigger](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse queue trigger", "error", err)
		// Malformed triggers can never succeed; drop them.
		if err := msg.Ack(); err != nil {
			c.logger.Warn("Failed to ack malformed trigger", "error", err)
		}
		return
	}

	select {
	case c.semaphore <- struct{}{}:
	case <-ctx.Done():
		return
	}
	defer func() { <-c.semaphore }()

	c.processCapture(ctx, msg, trigger)
}

// processCapture runs the pipeline for one capture and acks or naks the
// trigger based on the outcome.
func (c *Component) processCapture(ctx context.Context, msg jetstream.Msg, trigger *substrate.CaptureQueuedTrigger) {
	entry, err := c.queue.Get(ctx, trigger.CaptureID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.logger.Warn("Trigger for unknown queue entry", "capture_id", trigger.CaptureID)
			c.ack(msg)
			return
		}
		c.logger.Error("Failed to load queue entry", "capture_id", trigger.CaptureID, "error", err)
		c.nak(msg, c.config.BackoffBase)
		return
	}

	switch entry.State {
	case storage.StateCompleted, storage.StateDead:
		// Redelivery of finished work.
		c.ack(msg)
		return
	case storage.StateFailed:
		if entry.NextRetryAt != nil && time.Now().Before(*entry.NextRetryAt) {
			c.nak(msg, time.Until(*entry.NextRetryAt))
			return
		}
	}

	entry.State = storage.StateInProgress
	if err := c.queue.Update(ctx, entry); err != nil {
		c.logger.Error("Failed to mark entry in progress", "capture_id", entry.CaptureID, "error", err)
		c.nak(msg, c.config.BackoffBase)
		return
	}

	capture, err := c.captures.Get(ctx, entry.WorkspaceID, entry.CaptureID)
	if err != nil {
		c.failStage(ctx, msg, entry, "load_capture", err)
		return
	}

	if failedStage, err := c.runStages(ctx, entry, capture, trigger.TraceID); err != nil {
		c.failStage(ctx, msg, entry, failedStage, err)
		return
	}

	if err := c.submitProposal(ctx, entry); err != nil {
		c.failStage(ctx, msg, entry, "submit_proposal", err)
		return
	}

	entry.State = storage.StateCompleted
	entry.FailedStage = ""
	entry.LastError = ""
	entry.NextRetryAt = nil
	if err := c.queue.Update(ctx, entry); err != nil {
		c.logger.Error("Failed to mark entry completed", "capture_id", entry.CaptureID, "error", err)
	}

	c.pipelinesDone.Add(1)
	capturesProcessed.Inc()
	c.ack(msg)
}

// runStages executes the pipeline stages in order, skipping stages that
// already completed in a prior attempt. Returns the failed stage name
// on error.
func (c *Component) runStages(ctx context.Context, entry *storage.QueueEntry, capture *substrate.Capture, traceID string) (string, error) {
	for _, stage := range c.stages {
		name := string(stage.Name())
		if entry.StageDone(name) {
			continue
		}

		stageCtx, cancel := context.WithTimeout(ctx, c.config.GetStageTimeout())
		started := time.Now()
		result, err := stage.Run(stageCtx, pipeline.Input{
			Capture:  capture,
			PriorOps: entry.Ops,
			TraceID:  traceID,
		})
		cancel()
		stageDuration.WithLabelValues(name).Observe(time.Since(started).Seconds())

		if err != nil {
			return name, err
		}

		entry.Ops = append(entry.Ops, result.Ops...)
		if result.Confidence < entry.MinConfidence {
			entry.MinConfidence = result.Confidence
		}
		entry.MarkStageDone(name, time.Now().UTC())
		if err := c.queue.Update(ctx, entry); err != nil {
			return name, fmt.Errorf("record stage completion: %w", err)
		}

		c.emitter.StageCompletedAt(ctx, substrate.StageCompletedEvent{
			CaptureID:   entry.CaptureID,
			WorkspaceID: entry.WorkspaceID,
			Stage:       name,
			OpCount:     len(result.Ops),
			Confidence:  result.Confidence,
		})
	}
	return "", nil
}

// failStage records a stage failure, applying the backoff policy or
// dead-lettering when the attempt ceiling is reached.
func (c *Component) failStage(ctx context.Context, msg jetstream.Msg, entry *storage.QueueEntry, stage string, cause error) {
	c.stagesFailed.Add(1)
	stageFailures.WithLabelValues(stage).Inc()

	entry.Attempts++
	entry.FailedStage = stage
	entry.LastError = cause.Error()

	if entry.Attempts >= c.config.MaxAttempts {
		entry.State = storage.StateDead
		entry.NextRetryAt = nil
		if err := c.queue.Update(ctx, entry); err != nil {
			c.logger.Error("Failed to mark entry dead", "capture_id", entry.CaptureID, "error", err)
		}

		c.deadLettered.Add(1)
		deadLetters.Inc()
		c.logger.Error("Capture dead-lettered",
			"capture_id", entry.CaptureID,
			"workspace_id", entry.WorkspaceID,
			"failed_stage", stage,
			"attempts", entry.Attempts,
			"error", cause)

		c.emitter.DeadLetterAt(ctx, substrate.DeadLetterEvent{
			CaptureID:   entry.CaptureID,
			WorkspaceID: entry.WorkspaceID,
			FailedStage: stage,
			Attempts:    entry.Attempts,
			LastError:   entry.LastError,
		})

		// Dead entries stay queryable but the trigger is finished.
		c.ack(msg)
		return
	}

	delay := c.backoff(entry.Attempts)
	retryAt := time.Now().Add(delay)
	entry.State = storage.StateFailed
	entry.NextRetryAt = &retryAt
	if err := c.queue.Update(ctx, entry); err != nil {
		c.logger.Error("Failed to record stage failure", "capture_id", entry.CaptureID, "error", err)
	}

	c.logger.Warn("Stage failed, retrying",
		"capture_id", entry.CaptureID,
		"stage", stage,
		"attempt", entry.Attempts,
		"retry_in", delay,
		"error", cause)

	c.nak(msg, delay)
}

// submitProposal publishes the accumulated operations as a proposal
// submission for the governance engine.
func (c *Component) submitProposal(ctx context.Context, entry *storage.QueueEntry) error {
	if len(entry.Ops) == 0 {
		// Nothing extracted; the pipeline completed with no proposal.
		c.logger.Info("Pipeline produced no operations", "capture_id", entry.CaptureID)
		return nil
	}

	submission := buildSubmission(entry)

	if c.natsClient == nil {
		return nil
	}

	baseMsg := message.NewBaseMessage(substrate.ProposalSubmissionType, &submission, c.name)
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return fmt.Errorf("marshal submission: %w", err)
	}
	if err := c.natsClient.PublishToStream(ctx, c.config.SubmitSubject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", c.config.SubmitSubject, err)
	}
	return nil
}

// buildSubmission assembles the governance submission for a completed
// pipeline. The proposal ID is derived from the capture, so a trigger
// redelivered after the publish carries the same ID and the engine
// resolves it to the proposal the first delivery created.
func buildSubmission(entry *storage.QueueEntry) substrate.ProposalSubmission {
	return substrate.ProposalSubmission{
		WorkspaceID:     entry.WorkspaceID,
		BasketID:        entry.BasketID,
		ProposalID:      "prop-" + strings.TrimPrefix(entry.CaptureID, "cap-"),
		Kind:            "extraction",
		Origin:          substrate.OriginAgent,
		Ops:             entry.Ops,
		StageConfidence: entry.MinConfidence,
		Provenance:      []string{entry.CaptureID},
	}
}

// backoff computes the retry delay for the given attempt with ±25% jitter.
func (c *Component) backoff(attempt int) time.Duration {
	delay := float64(c.config.BackoffBase)
	for i := 1; i < attempt; i++ {
		delay *= c.config.BackoffMultiplier
	}
	if max := float64(c.config.MaxBackoff); delay > max {
		delay = max
	}

	jitter := 0.75 + rand.Float64()*0.5
	return time.Duration(delay * jitter)
}

func (c *Component) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ack message", "error", err)
	}
}

func (c *Component) nak(msg jetstream.Msg, delay time.Duration) {
	if err := msg.NakWithDelay(delay); err != nil {
		c.logger.Warn("Failed to nak message", "error", err)
	}
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "queue-processor",
		Type:        "processor",
		Description: "Drives queued captures through the pipeline stages",
		Version:     "0.1.0",
	}
}

// InputPorts describes the queue trigger input.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "queue-trigger",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Capture queued triggers",
			Config: component.NATSPort{
				Subject: c.config.TriggerSubject,
			},
		},
	}
}

// OutputPorts describes the proposal submission output.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "proposal-submission",
			Direction:   component.DirectionOutput,
			Description: "Proposal submissions from completed pipelines",
			Config: component.NATSPort{
				Subject: c.config.SubmitSubject,
			},
		},
	}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return queueProcessorSchema
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
	return component.FlowMetrics{
		MessagesPerSecond: 0,
		BytesPerSecond:    0,
		ErrorRate:         0,
	}
}
