// Package governanceengine consumes proposal submissions and runs them
// through the governance engine: validation, conflict detection,
// auto-approval policy and, when policy permits, execution.
package governanceengine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360studio/substrate/governance"
	"github.com/c360studio/substrate/graph"
	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// submitter is the slice of the governance engine this component needs.
// Satisfied by *governance.Engine.
type submitter interface {
	Submit(ctx context.Context, sub *substrate.ProposalSubmission) (*substrate.Proposal, error)
}

// Component implements the governance-engine processor.
type Component struct {
	name       string
	config     Config
	natsClient *natsclient.Client
	logger     *slog.Logger

	engine submitter

	consumer jetstream.Consumer

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	submissionsReceived atomic.Int64
	proposalsCreated    atomic.Int64
	submissionsRejected atomic.Int64
}

// NewComponent creates a new governance-engine processor.
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
	if config.SubmitSubject == "" {
		config.SubmitSubject = defaults.SubmitSubject
	}
	if config.AutoApproveThreshold == 0 {
		config.AutoApproveThreshold = defaults.AutoApproveThreshold
	}
	if config.ConflictWindow == 0 {
		config.ConflictWindow = defaults.ConflictWindow
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
	proposals, err := storage.NewProposalStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create proposal store: %w", err)
	}
	units, err := storage.NewUnitStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create unit store: %w", err)
	}
	captures, err := storage.NewCaptureStore(ctx, js)
	if err != nil {
		return nil, fmt.Errorf("create capture store: %w", err)
	}

	logger := deps.GetLogger()
	emitter := substrate.NewEmitter(deps.NATSClient, "governance-engine", logger)
	engine := governance.NewEngine(proposals, units, captures, emitter, governance.EngineConfig{
		AutoApproveThreshold: config.AutoApproveThreshold,
		ConflictWindow:       config.ConflictWindow,
	}, logger)
	engine.SetGraphPublisher(graph.NewPublisher(deps.NATSClient, logger))

	return &Component{
		name:       "governance-engine",
		config:     config,
		natsClient: deps.NATSClient,
		logger:     logger,
		engine:     engine,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized governance-engine",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"auto_approve_threshold", c.config.AutoApproveThreshold,
		"conflict_window", c.config.ConflictWindow)
	return nil
}

// Start begins consuming proposal submissions.
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

	consumer, err := stream.CreateOrUpdateConsumer(subCtx, jetstream.ConsumerConfig{
		Durable:       c.config.ConsumerName,
		FilterSubject: c.config.SubmitSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       2 * time.Minute,
		MaxDeliver:    3,
	})
	if err != nil {
		c.rollbackStart(cancel)
		return fmt.Errorf("create consumer: %w", err)
	}
	c.consumer = consumer

	go c.consumeLoop(subCtx)

	c.logger.Info("governance-engine started",
		"stream", c.config.StreamName,
		"consumer", c.config.ConsumerName,
		"subject", c.config.SubmitSubject)
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
	c.logger.Info("governance-engine stopped")
	return nil
}

// consumeLoop continuously consumes submissions from the durable consumer.
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
			c.handleSubmission(ctx, msg)
		}

		if msgs.Error() != nil && !errors.Is(msgs.Error(), context.DeadlineExceeded) {
			c.logger.Warn("Message fetch error", "error", msgs.Error())
		}
	}
}

// handleSubmission runs one proposal submission through the engine.
// Invalid submissions are acked and dropped; transient store failures
// nak for redelivery.
func (c *Component) handleSubmission(ctx context.Context, msg jetstream.Msg) {
	c.submissionsReceived.Add(1)

	sub, err := substrate.ParsePayload[substrate.ProposalSubmission](msg.Data())
	if err != nil {
		c.logger.Error("Failed to parse proposal submission", "error", err)
		c.ack(msg)
		return
	}

	proposal, err := c.engine.Submit(ctx, sub)
	if err != nil {
		var vErr *substrate.ValidationError
		if errors.As(err, &vErr) {
			c.submissionsRejected.Add(1)
			c.logger.Warn("Invalid proposal submission dropped",
				"workspace_id", sub.WorkspaceID,
				"error", err)
			c.ack(msg)
			return
		}
		c.logger.Error("Proposal submission failed",
			"workspace_id", sub.WorkspaceID,
			"error", err)
		c.nak(msg)
		return
	}

	c.proposalsCreated.Add(1)
	c.logger.Info("Proposal processed",
		"proposal_id", proposal.ID,
		"workspace_id", proposal.WorkspaceID,
		"status", string(proposal.Status),
		"auto_approved", proposal.AutoApproved,
		"confidence", proposal.ValidatorReport.Confidence)
	c.ack(msg)
}

func (c *Component) ack(msg jetstream.Msg) {
	if err := msg.Ack(); err != nil {
		c.logger.Warn("Failed to ack message", "error", err)
	}
}

func (c *Component) nak(msg jetstream.Msg) {
	if err := msg.Nak(); err != nil {
		c.logger.Warn("Failed to nak message", "error", err)
	}
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "governance-engine",
		Type:        "processor",
		Description: "Validates, gates and executes proposal submissions",
		Version:     "0.1.0",
	}
}

// InputPorts describes the submission input.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{
		{
			Name:        "proposal-submission",
			Direction:   component.DirectionInput,
			Required:    true,
			Description: "Operation batches submitted for governance",
			Config: component.NATSPort{
				Subject: c.config.SubmitSubject,
			},
		},
	}
}

// OutputPorts returns an empty port list. Decisions surface as events.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return governanceEngineSchema
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
