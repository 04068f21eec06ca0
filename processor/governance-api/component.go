// Package governanceapi exposes the proposal review surface over HTTP.
// It covers listing and inspecting proposals, approving them for
// execution, rejecting them with a recorded reason, and retrying the
// execution of approved proposals whose first execution failed.
package governanceapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/c360studio/semstreams/component"

	"github.com/c360studio/substrate/governance"
	"github.com/c360studio/substrate/graph"
	"github.com/c360studio/substrate/storage"
	"github.com/c360studio/substrate/substrate"
)

// proposalService is the slice of the governance engine this component
// needs. Satisfied by *governance.Engine.
type proposalService interface {
	Get(ctx context.Context, workspaceID, proposalID string) (*substrate.Proposal, error)
	List(ctx context.Context, workspaceID, basketID string) ([]*substrate.Proposal, error)
	Approve(ctx context.Context, workspaceID, proposalID, notes string) (*substrate.Proposal, error)
	Reject(ctx context.Context, workspaceID, proposalID, reason string) (*substrate.Proposal, error)
	ExecuteApproved(ctx context.Context, workspaceID, proposalID string) (*substrate.ExecutionResult, error)
}

// Component implements the governance-api processor.
type Component struct {
	name   string
	config Config
	logger *slog.Logger

	engine proposalService

	// Lifecycle
	running   bool
	startTime time.Time
	mu        sync.RWMutex
	cancel    context.CancelFunc

	// Metrics
	approvals  atomic.Int64
	rejections atomic.Int64
	executions atomic.Int64
}

// NewComponent creates a new governance-api processor.
func NewComponent(rawConfig json.RawMessage, deps component.Dependencies) (component.Discoverable, error) {
	var config Config
	if err := json.Unmarshal(rawConfig, &config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	defaults := DefaultConfig()
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
	emitter := substrate.NewEmitter(deps.NATSClient, "governance-api", logger)
	engine := governance.NewEngine(proposals, units, captures, emitter, governance.EngineConfig{
		AutoApproveThreshold: config.AutoApproveThreshold,
		ConflictWindow:       config.ConflictWindow,
	}, logger)
	engine.SetGraphPublisher(graph.NewPublisher(deps.NATSClient, logger))

	return &Component{
		name:   "governance-api",
		config: config,
		logger: logger,
		engine: engine,
	}, nil
}

// Initialize prepares the component.
func (c *Component) Initialize() error {
	c.logger.Debug("Initialized governance-api",
		"auto_approve_threshold", c.config.AutoApproveThreshold)
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

	c.logger.Info("governance-api started")
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
	c.logger.Info("governance-api stopped")
	return nil
}

// Meta returns component metadata.
func (c *Component) Meta() component.Metadata {
	return component.Metadata{
		Name:        "governance-api",
		Type:        "processor",
		Description: "HTTP review surface for governance proposals",
		Version:     "0.1.0",
	}
}

// InputPorts returns an empty port list. The API is HTTP-only.
func (c *Component) InputPorts() []component.Port {
	return []component.Port{}
}

// OutputPorts returns an empty port list. Lifecycle events are emitted
// by the engine, not declared as flow ports.
func (c *Component) OutputPorts() []component.Port {
	return []component.Port{}
}

// ConfigSchema returns the configuration schema.
func (c *Component) ConfigSchema() component.ConfigSchema {
	return governanceAPISchema
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
