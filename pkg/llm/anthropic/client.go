package anthropic

import (
	"context"
	"errors"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ob-labs/powermem-go/pkg/llm"
	"github.com/ob-labs/powermem-go/pkg/retry"
	"github.com/ob-labs/powermem-go/pkg/telemetry"
)

const defaultModel = "claude-3-5-sonnet-20240620"

// Client is an Anthropic LLM client.
// It implements the llm.Provider interface and provides text generation functionality based on the Anthropic Claude API.
// Supports system message separation, conforming to the Anthropic Messages API specification.
type Client struct {
	client anthropic.Client
	model  string
}

// Config is the configuration for Anthropic LLM.
// APIKey: Anthropic API key (required)
// Model: Model name to use, defaults to "claude-3-5-sonnet-20240620"
// BaseURL: API base URL, defaults to the official Anthropic endpoint
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
}

// NewClient creates a new Anthropic LLM client.
//
// Args:
//   - cfg: Anthropic configuration containing APIKey, Model, BaseURL, etc.
//
// Returns:
//   - *Client: Anthropic client instance
//   - error: Returns an error if the configuration is invalid (e.g., missing APIKey) or initialization fails
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("API key is required")
	}

	// Retries are handled by the shared retry policy, not the SDK.
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	model := cfg.Model
	if model == "" {
		model = defaultModel
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Generate generates text based on the prompt.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - prompt: User input prompt
//   - opts: Optional generation parameters (temperature, max_tokens, top_p, etc.)
//
// Returns:
//   - string: Generated text content
//   - error: Returns an error if generation fails
func (c *Client) Generate(ctx context.Context, prompt string, opts ...llm.GenerateOption) (string, error) {
	messages := []llm.Message{
		{Role: "user", Content: prompt},
	}
	return c.GenerateWithMessages(ctx, messages, opts...)
}

// GenerateWithMessages generates text using message history.
// Supports multi-turn conversations and accepts complete message history (including system, user, and assistant messages).
// Note: Anthropic API requires system messages to be passed separately, not in the messages array.
//
// Args:
//   - ctx: Context for controlling the request lifecycle
//   - messages: Message history list, each message contains role and content (system messages will be automatically separated)
//   - opts: Optional generation parameters (temperature, max_tokens, top_p, etc.)
//
// Returns:
//   - string: Generated text content
//   - error: Returns an error if generation fails
func (c *Client) GenerateWithMessages(ctx context.Context, messages []llm.Message, opts ...llm.GenerateOption) (string, error) {
	options := llm.ApplyGenerateOptions(opts)

	// Separate system messages from other messages
	var systemMessage string
	converted := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case "system":
			systemMessage = msg.Content
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    converted,
		MaxTokens:   int64(options.MaxTokens),
		Temperature: anthropic.Float(options.Temperature),
		TopP:        anthropic.Float(options.TopP),
	}
	if systemMessage != "" {
		params.System = []anthropic.TextBlockParam{
			{Type: "text", Text: systemMessage},
		}
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}

	var message *anthropic.Message
	err := retry.Do(ctx, "anthropic.chat", func() error {
		var callErr error
		message, callErr = c.client.Messages.New(ctx, params)
		if callErr != nil {
			var apiErr *anthropic.Error
			if errors.As(callErr, &apiErr) && !retry.IsRetryableStatus(apiErr.StatusCode) {
				return retry.Permanent(callErr)
			}
			return callErr
		}
		return nil
	})
	if err != nil {
		telemetry.Default().RecordLLMRequest("anthropic", "chat", "error")
		return "", err
	}
	telemetry.Default().RecordLLMRequest("anthropic", "chat", "success")

	var sb strings.Builder
	for _, block := range message.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", errors.New("llm generation failed: no content returned from Anthropic API")
	}
	return sb.String(), nil
}

// Close closes the client connection.
// The SDK client does not require explicit closing; this method is retained for interface compatibility.
//
// Returns:
//   - error: Always returns nil
func (c *Client) Close() error {
	return nil
}
