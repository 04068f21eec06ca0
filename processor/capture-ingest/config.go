package captureingest

import (
	"fmt"
	"reflect"

	"github.com/c360studio/semstreams/component"
)

// captureIngestSchema holds the configuration schema generated from Config.
var captureIngestSchema = component.GenerateConfigSchema(reflect.TypeOf(Config{}))

// Config holds configuration for the capture-ingest component.
type Config struct {
	// MaxContentBytes bounds the size of a single capture's content.
	MaxContentBytes int `json:"max_content_bytes" schema:"type:int,description:Maximum capture content size in bytes,category:basic,default:1048576"`

	// QueueSubject is the subject capture-queued triggers are published on.
	QueueSubject string `json:"queue_subject" schema:"type:string,description:Subject for capture queue triggers,category:advanced,default:substrate.queue.capture"`

	// Ports declares optional HTTP port configuration.
	Ports *component.PortConfig `json:"ports,omitempty" schema:"type:ports,description:Port configuration,category:basic"`
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxContentBytes: 1 << 20,
		QueueSubject:    "substrate.queue.capture",
	}
}

// Validate verifies the configuration is consistent.
func (c *Config) Validate() error {
	if c.MaxContentBytes < 0 {
		return fmt.Errorf("max_content_bytes cannot be negative")
	}
	return nil
}
