package llm

import "context"

// ProviderAdapter translates the canonical request/response model to and
// from one upstream completion service.
type ProviderAdapter interface {
	// Name returns the provider identifier (e.g., "anthropic", "openai").
	Name() string

	// Complete sends a blocking completion request.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// Closer is optionally implemented by adapters that hold resources.
type Closer interface {
	Close() error
}
