package langchain

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/cohere"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider represents an AI provider type
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderGoogleAI  Provider = "googleai"
	ProviderCohere    Provider = "cohere"
	ProviderOllama    Provider = "ollama"
)

// aliases accepted in configuration
var aliases = map[string]Provider{
	"claude": ProviderAnthropic,
	"gemini": ProviderGoogleAI,
	"local":  ProviderOllama,
}

// ParseProvider normalizes a configured provider name
func ParseProvider(name string) (Provider, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if p, ok := aliases[name]; ok {
		return p, nil
	}
	switch p := Provider(name); p {
	case ProviderAnthropic, ProviderOpenAI, ProviderGoogleAI, ProviderCohere, ProviderOllama:
		return p, nil
	}
	return "", fmt.Errorf("unsupported assistant provider: %q", name)
}

// ConnectorOptions contains options for creating a model
type ConnectorOptions struct {
	Provider    Provider
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
}

// NewModel creates the langchaingo model for the configured provider
func NewModel(ctx context.Context, options ConnectorOptions) (llms.Model, error) {
	log.Debug().
		Str("provider", string(options.Provider)).
		Str("model", options.Model).
		Msg("Creating assistant model")

	switch options.Provider {
	case ProviderAnthropic:
		opts := []anthropic.Option{
			anthropic.WithToken(options.APIKey),
			anthropic.WithModel(options.Model),
		}
		if options.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(options.BaseURL))
		}
		return anthropic.New(opts...)
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithModel(options.Model),
			openai.WithToken(options.APIKey),
		}
		if options.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(options.BaseURL))
		}
		return openai.New(opts...)
	case ProviderGoogleAI:
		opts := []googleai.Option{
			googleai.WithAPIKey(options.APIKey),
			googleai.WithDefaultModel(options.Model),
		}
		if options.MaxTokens > 0 {
			opts = append(opts, googleai.WithDefaultMaxTokens(options.MaxTokens))
		}
		model, err := googleai.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini model: %w", err)
		}
		return model, nil
	case ProviderCohere:
		opts := []cohere.Option{
			cohere.WithToken(options.APIKey),
			cohere.WithModel(options.Model),
		}
		if options.BaseURL != "" {
			opts = append(opts, cohere.WithBaseURL(options.BaseURL))
		}
		return cohere.New(opts...)
	case ProviderOllama:
		baseURL := options.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		return ollama.New(ollama.WithServerURL(baseURL), ollama.WithModel(options.Model))
	default:
		return nil, fmt.Errorf("unsupported assistant provider: %s", options.Provider)
	}
}

// callOptions returns the per-call options derived from the connector configuration
func callOptions(options ConnectorOptions) []llms.CallOption {
	opts := []llms.CallOption{llms.WithTemperature(options.Temperature)}
	if options.MaxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(options.MaxTokens))
	}
	if options.Model != "" {
		opts = append(opts, llms.WithModel(options.Model))
	}
	return opts
}
