package embedder

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/dshills/codectx-mcp/internal/config"
)

// Config holds embedder configuration
type Config struct {
	Provider   string // jina, openai, local; empty detects from APIKey
	APIKey     string
	Model      string
	Endpoint   string
	RPS        float64
	HTTPClient *http.Client
}

// New creates an embedder with explicit configuration
func New(cfg Config) (Embedder, error) {
	switch DetectProvider(cfg.Provider, cfg.APIKey) {
	case ProviderJina:
		return NewHTTPProvider(HTTPOptions{
			Provider: ProviderJina, APIKey: cfg.APIKey, Model: cfg.Model,
			Endpoint: cfg.Endpoint, RPS: cfg.RPS, HTTPClient: cfg.HTTPClient,
		})
	case ProviderOpenAI:
		return NewHTTPProvider(HTTPOptions{
			Provider: ProviderOpenAI, APIKey: cfg.APIKey, Model: cfg.Model,
			Endpoint: cfg.Endpoint, RPS: cfg.RPS, HTTPClient: cfg.HTTPClient,
		})
	case ProviderLocal:
		return NewLocalProvider(0), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %s", ErrUnsupportedModel, cfg.Provider)
	}
}

// FromConfig creates the embedder selected by the semantic settings.
func FromConfig(sc config.SemanticConfig) (Embedder, error) {
	return New(Config{Provider: sc.Provider, APIKey: sc.APIKey, RPS: sc.RPS})
}

// DetectProvider resolves the provider name. An explicit provider wins;
// otherwise a configured API key selects Jina, and no key selects the
// offline local provider.
func DetectProvider(provider, apiKey string) string {
	if provider = strings.ToLower(strings.TrimSpace(provider)); provider != "" {
		return provider
	}
	if apiKey != "" {
		return ProviderJina
	}
	return ProviderLocal
}
