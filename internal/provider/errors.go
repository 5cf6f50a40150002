package provider

import (
	"errors"
	"fmt"
)

// ErrNoProviderConfigured is returned by the registry when no registered
// adapter has usable credentials.
var ErrNoProviderConfigured = errors.New("no provider is configured")

// UnknownProviderError marks a caller asking for a provider name that was
// never registered.
type UnknownProviderError struct {
	Name string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q", e.Name)
}

// ConfigurationError marks a provider that exists but is missing credentials.
type ConfigurationError struct {
	Provider string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("provider %q is not configured", e.Provider)
}

// opError wraps a vendor failure with provider and operation attribution, so
// the cause keeps its origin all the way up to the runTask caller.
func opError(display, op string, err error) error {
	return fmt.Errorf("%s %s failed: %w", display, op, err)
}
