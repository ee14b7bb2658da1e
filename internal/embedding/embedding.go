package embedding

import "context"

// Provider generates vector embeddings from text. Implementations wrap the
// externally supplied model-invocation client; this package relies only on
// the "text in, numeric vector out" contract.
type Provider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Config holds embedding client configuration.
type Config struct {
	Endpoint  string `json:"endpoint_url"`
	ModelID   string `json:"model_id"`
	APIKey    string `json:"api_key"`
	Dimension int    `json:"embedding_dimension"`
}
