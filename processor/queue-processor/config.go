package queueprocessor

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// queueProcessorSchema holds the configuration schema generated from Config.
var queueProcessorSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the queue-processor component.
type Config struct {
	// StreamName is the JetStream stream holding queue triggers.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:SUBSTRATE"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:queue-processor"`

	// TriggerSubject is the subject carrying capture-queued triggers.
	TriggerSubject string `json:"trigger_subject" schema:"type:string,description:Capture queue trigger subject,category:advanced,default:substrate.queue.capture"`

	// SubmitSubject is the subject completed pipelines publish proposal
	// submissions on.
	SubmitSubject string `json:"submit_subject" schema:"type:string,description:Proposal submission subject,category:advanced,default:substrate.proposal.submit"`

	// MaxConcurrent bounds parallel capture processing.
	MaxConcurrent int `json:"max_concurrent" schema:"type:int,description:Maximum concurrent captures,category:basic,default:4"`

	// MaxAttempts is the retry ceiling before an entry goes dead.
	MaxAttempts int `json:"max_attempts" schema:"type:int,description:Attempt ceiling before dead-letter,category:basic,default:4"`

	// BackoffBase is the first retry delay.
	BackoffBase time.Duration `json:"backoff_base" schema:"type:duration,description:Base retry backoff,category:advanced,default:2s"`

	// BackoffMultiplier grows the delay per attempt.
	BackoffMultiplier float64 `json:"backoff_multiplier" schema:"type:float,description:Backoff multiplier per attempt,category:advanced,default:2.0"`

	// MaxBackoff caps the retry delay.
	MaxBackoff time.Duration `json:"max_backoff" schema:"type:duration,description:Maximum retry backoff,category:advanced,default:60s"`

	// StageTimeout bounds a single stage invocation.
	StageTimeout time.Duration `json:"stage_timeout" schema:"type:duration,description:Per-stage timeout,category:advanced,default:120s"`

	// Ports declares optional port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:        "SUBSTRATE",
		ConsumerName:      "queue-processor",
		TriggerSubject:    "substrate.queue.capture",
		SubmitSubject:     "substrate.proposal.submit",
		MaxConcurrent:     4,
		MaxAttempts:       4,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        60 * time.Second,
		StageTimeout:      120 * time.Second,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.StreamName == "" {
		return fmt.Errorf("stream_name is required")
	}
	if c.ConsumerName == "" {
		return fmt.Errorf("consumer_name is required")
	}
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1")
	}
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be at least 1")
	}
	return nil
}

// GetStageTimeout returns the per-stage timeout.
func (c *Config) GetStageTimeout() time.Duration {
	if c.StageTimeout <= 0 {
		return 120 * time.Second
	}
	return c.StageTimeout
}
