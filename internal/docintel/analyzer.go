package docintel

import (
	"context"
	"fmt"
)

// Analyzer defines the interface to an external document-understanding
// provider.
type Analyzer interface {
	// AnalyzeReceipt submits a receipt image/PDF and blocks until the
	// provider's analysis completes.
	AnalyzeReceipt(ctx context.Context, data []byte, contentType string) (*Result, error)
	// Name identifies the provider for logging and health reporting.
	Name() string
	// Close releases provider resources.
	Close() error
}

// ConfigurationError indicates required provider credentials are missing.
// It is raised at client construction, before any network call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// ProviderError indicates the external analysis call failed or timed out.
// It is fatal for the request; retrying is left to the caller.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s analysis failed: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
