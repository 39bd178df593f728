// Package provider defines the LLM port used by the summarization
// collaborator. Concrete implementations live under modules/provider.
package provider

import "context"

// Provider is the interface for communicating with an LLM.
// Implementations typically also implement core.Module for lifecycle management.
type Provider interface {
	// Complete sends a completion request and returns the full response.
	Complete(ctx context.Context, req CompletionRequest) (CompletionResponse, error)

	// ModelName returns the identifier of the underlying model.
	ModelName() string
}

// HealthChecker is an optional interface that providers may implement
// to support active health probing from the HTTP gateway.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// ServiceName is the key under which a provider module registers itself
// in the application service registry.
const ServiceName = "provider.llm"
