package llm

import (
	"context"
	"time"

	"github.com/ppiankov/hopwalk/internal/util"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Complete sends a single-turn prompt and returns the model's reply
	Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// CompleteRequest contains the input for a completion
type CompleteRequest struct {
	// Prompt is sent as the single user message
	Prompt string

	// System is an optional system message
	System string

	// Model overrides the configured model
	Model string

	// MaxTokens limits the response length
	MaxTokens int

	// Temperature of 0 leaves the provider default in place
	Temperature float32
}

// CompleteResponse contains the model's reply
type CompleteResponse struct {
	// Text is the trimmed reply
	Text string

	// Model is the model that generated the response
	Model string

	// TokensUsed tracks token consumption
	TokensUsed int
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "azure", "anthropic", "ollama", ""
	Provider string

	// Model name (provider-specific; the deployment name for Azure)
	Model string

	// APIKey for OpenAI/Azure/Anthropic
	APIKey string

	// BaseURL for custom endpoints (the resource endpoint for Azure)
	BaseURL string

	// APIVersion for Azure OpenAI
	APIVersion string

	// Timeout for API requests
	Timeout int // seconds

	// MaxTokens for response generation
	MaxTokens int

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:  "", // Disabled by default
		Timeout:   30,
		MaxTokens: 200,
	}
}

// DefaultAzureAPIVersion is the Azure OpenAI API version used when none is configured
const DefaultAzureAPIVersion = "2024-02-15-preview"

func (c Config) timeout(fallback time.Duration) time.Duration {
	if c.Timeout > 0 {
		return time.Duration(c.Timeout) * time.Second
	}
	return fallback
}

func (c Config) proxy() util.ProxyConfig {
	return util.ProxyConfig{
		HTTPProxy:  c.HTTPProxy,
		HTTPSProxy: c.HTTPSProxy,
		NoProxy:    c.NoProxy,
	}
}

// resolve fills model and token limits from the request, then the config, then fallbacks
func (c Config) resolve(req CompleteRequest, fallbackModel string) (model string, maxTokens int) {
	model = req.Model
	if model == "" {
		model = c.Model
	}
	if model == "" {
		model = fallbackModel
	}

	maxTokens = req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.MaxTokens
	}
	if maxTokens == 0 {
		maxTokens = 200
	}
	return model, maxTokens
}
