// Package embeddingutils is the embeddings utility package
package embeddingutils

import (
	"fmt"

	"github.com/papercomputeco/keepsake/pkg/embeddings"
	"github.com/papercomputeco/keepsake/pkg/embeddings/hash"
	"github.com/papercomputeco/keepsake/pkg/embeddings/ollama"
)

type NewEmbedderOpts struct {
	// ProviderType is one of "ollama", "hash".
	ProviderType string
	TargetURL    string
	Model        string

	// Dimensions sizes the hash embedder.
	Dimensions int
}

func NewEmbedder(o *NewEmbedderOpts) (embeddings.Embedder, error) {
	switch o.ProviderType {
	case "ollama":
		return ollama.NewEmbedder(ollama.EmbedderConfig{
			BaseURL: o.TargetURL,
			Model:   o.Model,
		}), nil
	case "", "hash":
		return hash.NewEmbedder(o.Dimensions), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", o.ProviderType)
	}
}
