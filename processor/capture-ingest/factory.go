package captureingest

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface required for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the capture-ingest component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "capture-ingest",
		Factory:     NewComponent,
		Schema:      captureIngestSchema,
		Type:        "processor",
		Protocol:    "http",
		Domain:      "substrate",
		Description: "HTTP ingestion boundary for raw captures",
		Version:     "0.1.0",
	})
}
