package governanceengine

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the governance-engine component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "governance-engine",
		Factory:     NewComponent,
		Schema:      governanceEngineSchema,
		Type:        "processor",
		Protocol:    "nats",
		Domain:      "substrate",
		Description: "Validates, gates and executes proposal submissions",
		Version:     "0.1.0",
	})
}
