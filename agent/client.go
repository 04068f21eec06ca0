// Package agent provides the client for invoking stage agents over the
// message fabric. An agent is an opaque capability: requests go out on
// a per-stage subject, responses come back through a KV bucket keyed by
// request ID.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/c360studio/semstreams/message"
	"github.com/c360studio/semstreams/natsclient"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

// Defaults for client construction.
const (
	DefaultSubjectPrefix  = "agent.run"
	DefaultResponseBucket = "AGENT_RESPONSES"
	DefaultInvokeTimeout  = 120 * time.Second
)

// Client invokes stage agents and waits for their responses.
type Client struct {
	nc             *natsclient.Client
	subjectPrefix  string
	responseBucket string
	invokeTimeout  time.Duration
	retryConfig    RetryConfig
	logger         *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithSubjectPrefix sets the request subject prefix.
func WithSubjectPrefix(prefix string) ClientOption {
	return func(c *Client) { c.subjectPrefix = prefix }
}

// WithResponseBucket sets the KV bucket watched for responses.
func WithResponseBucket(bucket string) ClientOption {
	return func(c *Client) { c.responseBucket = bucket }
}

// WithInvokeTimeout sets the per-invocation timeout.
func WithInvokeTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.invokeTimeout = d }
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(c *Client) { c.retryConfig = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient creates an agent client.
func NewClient(nc *natsclient.Client, opts ...ClientOption) *Client {
	c := &Client{
		nc:             nc,
		subjectPrefix:  DefaultSubjectPrefix,
		responseBucket: DefaultResponseBucket,
		invokeTimeout:  DefaultInvokeTimeout,
		retryConfig:    DefaultRetryConfig(),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke runs one stage agent with retry for transient failures. A
// timeout is a stage failure, never a silent skip: the error propagates
// to the queue's backoff policy.
func (c *Client) Invoke(ctx context.Context, req Request) (*Response, error) {
	if c.nc == nil {
		return nil, NewFatalError(fmt.Errorf("NATS client required"))
	}
	if req.RequestID == "" {
		req.RequestID = uuid.New().String()
	}
	if err := req.Validate(); err != nil {
		return nil, NewFatalError(err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.invokeOnce(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		// Don't retry fatal errors
		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Agent invocation failed, retrying",
				"stage", req.Stage,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
				// Continue to retry
			}
		}

		// Fresh request ID per attempt so a late reply to a timed-out
		// attempt cannot satisfy a newer one.
		req.RequestID = uuid.New().String()
	}

	return nil, lastErr
}

// invokeOnce performs a single agent invocation.
func (c *Client) invokeOnce(ctx context.Context, req Request) (*Response, error) {
	invokeCtx, cancel := context.WithTimeout(ctx, c.invokeTimeout)
	defer cancel()

	baseMsg := message.NewBaseMessage(RequestType, &req, "substrate-pipeline")
	data, err := json.Marshal(baseMsg)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("marshal agent request: %w", err))
	}

	js, err := c.nc.JetStream()
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("get jetstream: %w", err))
	}

	subject := fmt.Sprintf("%s.%s", c.subjectPrefix, req.Stage)
	if _, err := js.Publish(invokeCtx, subject, data); err != nil {
		return nil, NewTransientError(fmt.Errorf("publish agent request: %w", err))
	}

	resp, err := c.waitForResponse(invokeCtx, js, req.RequestID)
	if err != nil {
		if invokeCtx.Err() != nil && ctx.Err() == nil {
			return nil, NewTransientError(fmt.Errorf("agent timeout on %s: %w", subject, err))
		}
		return nil, err
	}
	return resp, nil
}

// waitForResponse waits for the agent's reply in the response KV bucket
// using a watcher on the request key.
func (c *Client) waitForResponse(ctx context.Context, js jetstream.JetStream, reqID string) (*Response, error) {
	kv, err := js.KeyValue(ctx, c.responseBucket)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("get kv bucket %s: %w", c.responseBucket, err))
	}

	// First, check if the response already exists
	entry, err := kv.Get(ctx, reqID)
	if err == nil {
		return parseResponse(entry.Value())
	}
	if err != jetstream.ErrKeyNotFound {
		return nil, NewTransientError(fmt.Errorf("get response: %w", err))
	}

	watcher, err := kv.Watch(ctx, reqID)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("create kv watcher: %w", err))
	}
	defer watcher.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry := <-watcher.Updates():
			if entry == nil {
				// Initial nil signals watcher is ready, continue waiting
				continue
			}
			if entry.Operation() == jetstream.KeyValueDelete {
				return nil, NewTransientError(fmt.Errorf("agent response deleted before read"))
			}
			return parseResponse(entry.Value())
		}
	}
}

// parseResponse unmarshals and validates an agent response.
func parseResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, NewFatalError(fmt.Errorf("unmarshal agent response: %w", err))
	}
	if resp.Error != "" {
		// The agent looked at the input and could not produce a usable
		// result; retrying the same input won't help.
		return nil, NewFatalError(fmt.Errorf("agent error: %s", resp.Error))
	}
	if resp.Confidence < 0 || resp.Confidence > 1 {
		return nil, NewFatalError(fmt.Errorf("agent confidence %f out of range", resp.Confidence))
	}
	return &resp, nil
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple workers retry
// simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}
