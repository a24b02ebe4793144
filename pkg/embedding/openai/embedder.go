// Package openai implements embedding.Embedder on the OpenAI embeddings API
// and compatible servers.
package openai

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultModel produces 1536-dimensional vectors.
const DefaultModel = "text-embedding-3-small"

// Config configures the OpenAI embedder.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Dimensions asks models that support it for shortened vectors.
	Dimensions int
}

// Embedder calls the OpenAI embeddings endpoint.
type Embedder struct {
	client *openai.Client
	model  string
	dims   int
}

// NewEmbedder creates an Embedder from cfg.
func NewEmbedder(cfg Config) *Embedder {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Embedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		dims:   cfg.Dimensions,
	}
}

// Embed implements embedding.Embedder.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model:      openai.EmbeddingModel(e.model),
		Input:      []string{text},
		Dimensions: e.dims,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embeddings: empty response for model %q", e.model)
	}
	return resp.Data[0].Embedding, nil
}
