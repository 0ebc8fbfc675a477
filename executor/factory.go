package executor

import (
	"fmt"

	"github.com/c360studio/semstreams/component"
)

// RegistryInterface defines the minimal interface needed for registration.
type RegistryInterface interface {
	RegisterWithConfig(component.RegistrationConfig) error
}

// Register registers the link-executor component with the given registry.
func Register(registry RegistryInterface) error {
	if registry == nil {
		return fmt.Errorf("registry cannot be nil")
	}
	return registry.RegisterWithConfig(component.RegistrationConfig{
		Name:        "link-executor",
		Factory:     NewComponent,
		Schema:      executorSchema,
		Type:        "processor",
		Protocol:    "procurement",
		Domain:      "procurer",
		Description: "Executes supply chain links against third-party provider APIs",
		Version:     "0.1.0",
	})
}
