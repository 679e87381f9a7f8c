// Package search defines the embedding contract consumed by ingestion.
package search

import "context"

// Embedder converts text into embedding vectors.
//
// Implementations return exactly one vector per input text, in input order.
// A failure applies to the whole call; there is no partial success.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
