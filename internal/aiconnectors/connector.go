package aiconnectors

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/replydesk/internal/config"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderOpenAI Provider = "openai"
	ProviderGroq   Provider = "groq"
	ProviderGemini Provider = "gemini"
	ProviderClaude Provider = "claude"
	ProviderCohere Provider = "cohere"
	ProviderOllama Provider = "ollama"
)

// GroqBaseURL is Groq's OpenAI-compatible endpoint.
const GroqBaseURL = "https://api.groq.com/openai/v1"

const defaultOllamaURL = "http://localhost:11434"

var defaultModels = map[Provider]string{
	ProviderOpenAI: "gpt-4o-mini",
	ProviderGroq:   "llama3-8b-8192",
	ProviderGemini: "gemini-2.5-flash",
	ProviderClaude: "claude-3-5-haiku-latest",
	ProviderCohere: "command-r",
	ProviderOllama: "llama3",
}

// ConnectorOptions contains options for creating a connector
type ConnectorOptions struct {
	Provider    Provider `json:"provider"`
	APIKey      string   `json:"api_key"`
	BaseURL     string   `json:"base_url,omitempty"`
	Model       string   `json:"model,omitempty"`
	Temperature float64  `json:"temperature,omitempty"`
	MaxTokens   int      `json:"max_tokens,omitempty"`
}

// OptionsFromConfig maps a configured model section onto connector options.
func OptionsFromConfig(mc config.ModelConfig) ConnectorOptions {
	opts := ConnectorOptions{
		Provider:    Provider(strings.ToLower(mc.Provider)),
		APIKey:      mc.APIKey,
		BaseURL:     mc.BaseURL,
		Model:       mc.Model,
		Temperature: mc.Temperature,
		MaxTokens:   mc.MaxTokens,
	}
	if opts.Model == "" {
		opts.Model = defaultModels[opts.Provider]
	}
	return opts
}

// Connector represents a connection to an AI provider
type Connector struct {
	llm     llms.Model
	options ConnectorOptions
}

// NewConnector creates a new connector for the specified provider
func NewConnector(ctx context.Context, options ConnectorOptions) (*Connector, error) {
	var model llms.Model
	var err error

	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Float64("temperature", options.Temperature).
		Msg("Creating new connector")

	switch options.Provider {
	case ProviderOpenAI:
		model, err = createOpenAIModel(options)
	case ProviderGroq:
		if options.BaseURL == "" {
			options.BaseURL = GroqBaseURL
		}
		model, err = createOpenAIModel(options)
	case ProviderGemini:
		model, err = createGeminiModel(ctx, options)
	case ProviderClaude:
		model, err = anthropic.New(anthropic.WithToken(options.APIKey), anthropic.WithModel(options.Model))
	case ProviderCohere:
		model, err = createCohereModel(options)
	case ProviderOllama:
		model, err = createOllamaModel(options)
	default:
		return nil, fmt.Errorf("unsupported provider: %s", options.Provider)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to create model for provider %s: %w", options.Provider, err)
	}

	return &Connector{llm: model, options: options}, nil
}

func createOpenAIModel(options ConnectorOptions) (llms.Model, error) {
	opts := []openai.Option{
		openai.WithModel(options.Model),
		openai.WithToken(options.APIKey),
	}
	if options.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(options.BaseURL))
	}
	return openai.New(opts...)
}

func createGeminiModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	opts := []googleai.Option{
		googleai.WithAPIKey(options.APIKey),
		googleai.WithDefaultModel(options.Model),
	}
	if options.MaxTokens > 0 {
		opts = append(opts, googleai.WithDefaultMaxTokens(options.MaxTokens))
	}

	model, err := googleai.New(ctx, opts...)
	if err != nil {
		log.Error().Err(err).
			Str("api_key_prefix", options.APIKey[:min(len(options.APIKey), 6)]).
			Str("model", options.Model).
			Msg("Failed to create Gemini model")
		return nil, err
	}
	return model, nil
}

func createCohereModel(options ConnectorOptions) (llms.Model, error) {
	opts := []cohere.Option{
		cohere.WithToken(options.APIKey),
		cohere.WithModel(options.Model),
	}
	if options.BaseURL != "" {
		opts = append(opts, cohere.WithBaseURL(options.BaseURL))
	}
	return cohere.New(opts...)
}

func createOllamaModel(options ConnectorOptions) (llms.Model, error) {
	if options.BaseURL == "" {
		options.BaseURL = defaultOllamaURL
	}
	return ollama.New(
		ollama.WithServerURL(options.BaseURL),
		ollama.WithModel(options.Model),
	)
}

// Model returns the underlying chat model.
func (c *Connector) Model() llms.Model {
	return c.llm
}

// CallOptions are the per-request defaults derived from the connector configuration.
func (c *Connector) CallOptions() []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(c.options.Temperature)}
	if c.options.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(c.options.MaxTokens))
	}
	return opts
}

// GetProvider returns the provider of this connector
func (c *Connector) GetProvider() Provider {
	return c.options.Provider
}

// GetModel returns the model name from the config
func (c *Connector) GetModel() string {
	return c.options.Model
}

// Probe checks that the provider answers with the configured credentials.
// Ollama is probed by listing its models instead of spending a generation.
func (c *Connector) Probe(ctx context.Context) error {
	if c.options.Provider == ProviderOllama {
		return ValidateOllamaConnection(ctx, c.options.BaseURL, c.options.APIKey)
	}

	_, err := llms.GenerateFromSinglePrompt(ctx, c.llm, "ping", llms.WithMaxTokens(5))
	if err != nil {
		msg := strings.ToLower(err.Error())
		if strings.Contains(msg, "429") || strings.Contains(msg, "quota") {
			return fmt.Errorf("quota exceeded - the key is likely valid but rate limited: %w", err)
		}
		return fmt.Errorf("probe %s/%s: %w", c.options.Provider, c.options.Model, err)
	}
	return nil
}

// NewEmbedder builds the embedder used to index and query the knowledge base.
// Only OpenAI-compatible endpoints and Ollama expose embeddings through langchaingo.
func NewEmbedder(ec config.EmbeddingConfig) (embeddings.Embedder, error) {
	provider := Provider(strings.ToLower(ec.Provider))

	var (
		client embeddings.EmbedderClient
		err    error
	)
	switch provider {
	case ProviderOpenAI, ProviderGroq:
		opts := []openai.Option{
			openai.WithToken(ec.APIKey),
			openai.WithEmbeddingModel(ec.Model),
		}
		if ec.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(ec.BaseURL))
		} else if provider == ProviderGroq {
			opts = append(opts, openai.WithBaseURL(GroqBaseURL))
		}
		client, err = openai.New(opts...)
	case ProviderOllama:
		baseURL := ec.BaseURL
		if baseURL == "" {
			baseURL = defaultOllamaURL
		}
		client, err = ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(ec.Model))
	default:
		return nil, fmt.Errorf("provider %q does not support embeddings", ec.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("create embeddings client: %w", err)
	}

	return embeddings.NewEmbedder(client)
}
