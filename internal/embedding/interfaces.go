// Package embedding turns text into vectors for semantic memory search.
// Providers are optional collaborators: the memory layer treats a nil
// provider as "no semantic search" and stores metadata-only records.
package embedding

import "context"

// Provider generates embedding vectors for text.
type Provider interface {
	// Embed returns the embedding vector for the given text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the width of vectors this provider produces.
	Dimensions() int

	// HealthCheck verifies the provider is reachable.
	HealthCheck(ctx context.Context) error
}
