package governanceengine

import (
	"fmt"
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// governanceEngineSchema holds the configuration schema generated from Config.
var governanceEngineSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the governance-engine component.
type Config struct {
	// StreamName is the JetStream stream holding proposal submissions.
	StreamName string `json:"stream_name" schema:"type:string,description:JetStream stream name,category:basic,default:SUBSTRATE"`

	// ConsumerName is the durable consumer name.
	ConsumerName string `json:"consumer_name" schema:"type:string,description:Durable consumer name,category:basic,default:governance-engine"`

	// SubmitSubject is the subject carrying proposal submissions.
	SubmitSubject string `json:"submit_subject" schema:"type:string,description:Proposal submission subject,category:advanced,default:substrate.proposal.submit"`

	// AutoApproveThreshold is the minimum confidence for auto-approval.
	AutoApproveThreshold float64 `json:"auto_approve_threshold" schema:"type:float,description:Minimum confidence for auto-approval,category:basic,default:0.7"`

	// ConflictWindow bounds executed-proposal conflict detection.
	ConflictWindow time.Duration `json:"conflict_window" schema:"type:duration,description:Trailing window for conflicts with executed proposals,category:advanced,default:5m"`

	// Ports declares optional port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		StreamName:           "SUBSTRATE",
		ConsumerName:         "governance-engine",
		SubmitSubject:        "substrate.proposal.submit",
		AutoApproveThreshold: 0.7,
		ConflictWindow:       5 * time.Minute,
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
	if c.AutoApproveThreshold < 0 || c.AutoApproveThreshold > 1 {
		return fmt.Errorf("auto_approve_threshold must be in [0,1]")
	}
	return nil
}
