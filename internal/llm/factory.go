package llm

import (
	"fmt"
	"os"
	"strings"

	"github.com/ppiankov/hopwalk/internal/model"
)

// NewProvider creates a new LLM provider based on configuration.
// An empty provider name returns nil, which disables question generation.
func NewProvider(config Config) (Provider, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIProvider(config)

	case "azure", "azure-openai":
		return NewAzureProvider(config)

	case "anthropic", "claude":
		return NewAnthropicProvider(config)

	case "ollama":
		return NewOllamaProvider(config)

	case "":
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown LLM provider: %s (supported: openai, azure, anthropic, ollama)", config.Provider)
	}
}

// ConfigFromModel converts model.LLMConfig to llm.Config
func ConfigFromModel(modelConfig model.LLMConfig) Config {
	return Config{
		Provider:   modelConfig.Provider,
		Model:      modelConfig.Model,
		APIKey:     modelConfig.APIKey,
		BaseURL:    modelConfig.BaseURL,
		APIVersion: modelConfig.APIVersion,
		Timeout:    modelConfig.Timeout,
		MaxTokens:  modelConfig.MaxTokens,
		HTTPProxy:  modelConfig.HTTPProxy,
		HTTPSProxy: modelConfig.HTTPSProxy,
		NoProxy:    modelConfig.NoProxy,
	}
}

// ApplyEnv fills an empty API key and base URL from the provider's
// conventional environment variables
func ApplyEnv(config Config) Config {
	var keyVar, urlVar string
	switch strings.ToLower(config.Provider) {
	case "openai":
		keyVar, urlVar = "OPENAI_API_KEY", "OPENAI_BASE_URL"
	case "azure", "azure-openai":
		keyVar, urlVar = "AZURE_OPENAI_KEY", "AZURE_OPENAI_ENDPOINT"
	case "anthropic", "claude":
		keyVar = "ANTHROPIC_API_KEY"
	case "ollama":
		urlVar = "OLLAMA_BASE_URL"
	}

	if config.APIKey == "" && keyVar != "" {
		config.APIKey = os.Getenv(keyVar)
	}
	if config.BaseURL == "" && urlVar != "" {
		config.BaseURL = os.Getenv(urlVar)
	}
	return config
}
