package llm

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/ppiankov/hopwalk/internal/util"
)

// ErrEmptyResponse is returned when the provider answers without any text
var ErrEmptyResponse = errors.New("empty response from provider")

// OpenAIProvider implements the Provider interface for OpenAI and Azure OpenAI models
type OpenAIProvider struct {
	client *openai.Client
	config Config
	name   string
}

// NewOpenAIProvider creates a new OpenAI provider
func NewOpenAIProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}
	clientConfig.HTTPClient = util.NewHTTPClient(config.timeout(30*time.Second), config.proxy())

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		name:   "openai",
	}, nil
}

// NewAzureProvider creates a provider for an Azure OpenAI deployment.
// BaseURL is the resource endpoint and Model the deployment name.
func NewAzureProvider(config Config) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Azure OpenAI API key is required")
	}
	if config.BaseURL == "" {
		return nil, fmt.Errorf("Azure OpenAI endpoint (base_url) is required")
	}
	if config.Model == "" {
		return nil, fmt.Errorf("Azure OpenAI deployment (model) is required")
	}

	clientConfig := openai.DefaultAzureConfig(config.APIKey, config.BaseURL)
	clientConfig.APIVersion = config.APIVersion
	if clientConfig.APIVersion == "" {
		clientConfig.APIVersion = DefaultAzureAPIVersion
	}
	// Deployment names are used verbatim
	clientConfig.AzureModelMapperFunc = func(model string) string { return model }
	clientConfig.HTTPClient = util.NewHTTPClient(config.timeout(30*time.Second), config.proxy())

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
		name:   "azure",
	}, nil
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return p.name
}

// IsAvailable checks if the provider is properly configured
func (p *OpenAIProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.client.ListModels(ctx)
	if err != nil {
		// Surface the reason, it is usually a bad key or endpoint
		fmt.Fprintf(os.Stderr, "%s API check failed: %v\n", p.name, err)
		return false
	}
	return true
}

// Complete sends the prompt through the Chat Completions API
func (p *OpenAIProvider) Complete(ctx context.Context, req CompleteRequest) (*CompleteResponse, error) {
	model, maxTokens := p.config.resolve(req, "gpt-4-turbo")

	ctxWithTimeout, cancel := context.WithTimeout(ctx, p.config.timeout(30*time.Second))
	defer cancel()

	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: req.Prompt,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	resp, err := p.client.CreateChatCompletion(ctxWithTimeout, chatReq)
	if err != nil {
		return nil, fmt.Errorf("%s API error: %w", p.name, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices from %s: %w", p.name, ErrEmptyResponse)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", p.name, ErrEmptyResponse)
	}

	respModel := resp.Model
	if respModel == "" {
		respModel = model
	}

	return &CompleteResponse{
		Text:       text,
		Model:      respModel,
		TokensUsed: resp.Usage.TotalTokens,
	}, nil
}
