// Package llm provides interfaces and utilities for Large Language Model (LLM) providers.
//
// It defines the Provider interface that all LLM implementations must satisfy,
// along with message types and generation options.
package llm

import "context"

// Provider defines the interface for LLM providers.
//
// All LLM implementations (OpenAI, Qwen, Anthropic, etc.) must implement this interface.
type Provider interface {
	// Generate generates text from a prompt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - prompt: The input prompt text
	//   - opts: Optional generation parameters (temperature, max tokens, etc.)
	//
	// Returns the generated text and any error.
	Generate(ctx context.Context, prompt string, opts ...GenerateOption) (string, error)

	// GenerateWithMessages generates text from a conversation history.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - messages: Conversation history (system, user, assistant messages)
	//   - opts: Optional generation parameters
	//
	// Returns the generated text and any error.
	GenerateWithMessages(ctx context.Context, messages []Message, opts ...GenerateOption) (string, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Message represents a single message in a conversation.
type Message struct {
	// Role is the message role: "system", "user", or "assistant".
	Role string `json:"role"`

	// Content is the message content text.
	Content string `json:"content"`
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// Stop contains stop sequences that will end generation.
	Stop []string

	// ResponseFormat requests a structured response type. The only value
	// with cross-provider meaning is "json_object"; providers without
	// native support ignore it and rely on prompt instructions.
	ResponseFormat string

	// Tools declares callable tools for providers that support tool use.
	Tools []Tool

	// ToolChoice steers tool selection: "auto", "none", or a tool name.
	ToolChoice string
}

// Tool declares a callable function exposed to the model.
type Tool struct {
	// Type is the tool type. Only "function" is defined.
	Type string `json:"type"`

	// Function describes the callable function.
	Function ToolFunction `json:"function"`
}

// ToolFunction describes a tool's name, purpose, and JSON schema.
type ToolFunction struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description,omitempty"`
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for text generation.
//
// Temperature controls randomness: 0.0 = deterministic, 2.0 = very random.
//
// Example:
//
//	text, _ := llm.Generate(ctx, "Hello", llm.WithTemperature(0.7))
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
//
// Example:
//
//	text, _ := llm.Generate(ctx, "Hello", llm.WithMaxTokens(100))
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
//
// TopP controls diversity: 0.0 = most likely tokens only, 1.0 = all tokens.
//
// Example:
//
//	text, _ := llm.Generate(ctx, "Hello", llm.WithTopP(0.9))
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop sets stop sequences that end generation.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = stop
	}
}

// WithJSONResponse requests a JSON object response from providers with
// native structured-output support.
//
// Example:
//
//	text, _ := llm.Generate(ctx, prompt, llm.WithJSONResponse())
func WithJSONResponse() GenerateOption {
	return func(opts *GenerateOptions) {
		opts.ResponseFormat = "json_object"
	}
}

// WithTools declares callable tools for the request.
func WithTools(tools ...Tool) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Tools = tools
	}
}

// WithToolChoice steers tool selection for the request.
func WithToolChoice(choice string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.ToolChoice = choice
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create GenerateOptions.
//
// This is a helper function used internally by LLM implementations.
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// Content part types for multimodal messages.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
	PartTypeAudio    = "input_audio"
)

// ContentPart is one part of a multimodal message: plain text, an image
// reference, or inline audio.
type ContentPart struct {
	// Type is one of the PartType constants.
	Type string `json:"type"`

	// Text carries the content for text parts.
	Text string `json:"text,omitempty"`

	// URL references the media for image parts. Data URLs are accepted.
	URL string `json:"url,omitempty"`

	// Data carries base64-encoded media for audio parts.
	Data string `json:"data,omitempty"`

	// MIMEType describes Data, e.g. "audio/wav".
	MIMEType string `json:"mime_type,omitempty"`
}

// MultimodalProvider is implemented by providers that can render non-text
// message parts into a textual description for downstream fact extraction.
type MultimodalProvider interface {
	// DescribeContent produces a textual rendering of the given parts.
	DescribeContent(ctx context.Context, parts []ContentPart) (string, error)
}
