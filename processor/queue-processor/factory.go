package queueprocessor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the queue-processor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "queue-processor",
		Factory:     NewComponent,
		Schema:      queueProcessorSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "substrate",
		Description: "Drives queued captures through the pipeline stages",
		Version:     "0.1.0",
	})
}
