package governanceapi

import (
	"reflect"
	"time"

	"github.com/c360studio/semstreams/component"
)

// governanceAPISchema holds the configuration schema generated from Config.
var governanceAPISchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the governance-api component.
type Config struct {
	// AutoApproveThreshold is the minimum confidence for auto-approval
	// of submissions created through this API's engine instance.
	AutoApproveThreshold float64 `json:"auto_approve_threshold" schema:"type:float,description:Minimum confidence for auto-approval,category:basic,default:0.7"`

	// ConflictWindow bounds executed-proposal conflict detection.
	ConflictWindow time.Duration `json:"conflict_window" schema:"type:duration,description:Trailing window for conflicts with executed proposals,category:advanced,default:5m"`

	// Ports declares optional HTTP port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		AutoApproveThreshold: 0.7,
		ConflictWindow:       5 * time.Minute,
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	return nil
}
