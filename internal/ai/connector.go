// Package ai provides provider-agnostic connectors for the hosted LLM and
// embedding models, built on langchaingo. The rest of the system consumes
// text-in/vector-out and text-in/text-out contracts only.
package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderGoogleAI Provider = "googleai"
	ProviderOpenAI   Provider = "openai"
	ProviderOllama   Provider = "ollama"
)

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider       Provider `json:"provider"`
	APIKey         string   `json:"api_key"`
	BaseURL        string   `json:"base_url,omitempty"`
	ChatModel      string   `json:"chat_model,omitempty"`
	EmbeddingModel string   `json:"embedding_model,omitempty"`
	Temperature    float64  `json:"temperature,omitempty"`
}

// Connector is a connection to one AI provider, exposing chat generation and
// text embedding.
type Connector struct {
	provider Provider
	llm      llms.Model
	embedder *embeddings.EmbedderImpl
	options  ConnectorOptions
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	log.Debug().
		Str("provider", string(options.Provider)).
		Str("chat_model", options.ChatModel).
		Str("embedding_model", options.EmbeddingModel).
		Msg("creating AI connector")

	var client embeddings.EmbedderClient
	var model llms.Model
	var err error

	switch options.Provider {
	case ProviderGoogleAI:
		opts := []googleai.Option{
			googleai.WithAPIKey(options.APIKey),
		}
		if options.ChatModel != "" {
			opts = append(opts, googleai.WithDefaultModel(options.ChatModel))
		}
		if options.EmbeddingModel != "" {
			opts = append(opts, googleai.WithDefaultEmbeddingModel(options.EmbeddingModel))
		}
		llm, gerr := googleai.New(ctx, opts...)
		if gerr != nil {
			return nil, fmt.Errorf("failed to create googleai client: %w", gerr)
		}
		model, client = llm, llm

	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithToken(options.APIKey),
		}
		if options.ChatModel != "" {
			opts = append(opts, openai.WithModel(options.ChatModel))
		}
		if options.EmbeddingModel != "" {
			opts = append(opts, openai.WithEmbeddingModel(options.EmbeddingModel))
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		llm, oerr := openai.New(opts...)
		if oerr != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", oerr)
		}
		model, client = llm, llm

	case ProviderOllama:
		opts := []ollama.Option{}
		if options.ChatModel != "" {
			opts = append(opts, ollama.WithModel(options.ChatModel))
		}
		if options.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(options.BaseURL))
		}
		llm, olerr := ollama.New(opts...)
		if olerr != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", olerr)
		}
		model, client = llm, llm

	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	embedder, err := embeddings.NewEmbedder(client)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}

	return &Connector{
		provider: options.Provider,
		llm:      model,
		embedder: embedder,
		options:  options,
	}, nil
}

// Name returns the provider name
func (c *Connector) Name() string {
	return string(c.provider)
}

// Generate produces a completion for a single prompt.
func (c *Connector) Generate(ctx context.Context, prompt string) (string, error) {
	response, err := llms.GenerateFromSinglePrompt(ctx, c.llm, prompt,
		llms.WithTemperature(c.options.Temperature))
	if err != nil {
		return "", fmt.Errorf("%s generation failed: %w", c.provider, err)
	}
	return response, nil
}

// EmbedTexts embeds a batch of texts, one vector per input.
func (c *Connector) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := c.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%s embedding failed: %w", c.provider, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%s returned %d vectors for %d texts", c.provider, len(vectors), len(texts))
	}
	return vectors, nil
}

// EmbedQuery embeds a single query string.
func (c *Connector) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := c.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%s query embedding failed: %w", c.provider, err)
	}
	return vector, nil
}
