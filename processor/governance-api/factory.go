package governanceapi

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the governance-api component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "governance-api",
		Factory:     NewComponent,
		Schema:      governanceAPISchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "substrate",
		Description: "HTTP review surface for governance proposals",
		Version:     "0.1.0",
	})
}
