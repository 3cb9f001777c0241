// Package openai provides the OpenAI backend of the steward LLM boundary.
package openai

import (
	"context"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/steward"
	"github.com/sashabaranov/go-openai"
)

const (
	DefaultModel          = "gpt-5"
	DefaultEmbeddingModel = "text-embedding-3-small"
)

var (
	openaiPromptScope   = ctxlog.NewScope("openai_prompt", ctxlog.EnabledBy("STEWARD_LOGGING_OPENAI_PROMPT"))
	openaiResponseScope = ctxlog.NewScope("openai_response", ctxlog.EnabledBy("STEWARD_LOGGING_OPENAI_RESPONSE"))
)

// generationParameters carries the tuning knobs passed through to every
// chat completion request.
type generationParameters struct {
	// Temperature controls randomness in the output.
	Temperature float32

	// TopP controls diversity via nucleus sampling.
	TopP float32

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int

	// PresencePenalty increases the model's likelihood to talk about new
	// topics. Range: -2.0 to 2.0.
	PresencePenalty float32

	// FrequencyPenalty decreases the model's likelihood to repeat the same
	// line verbatim. Range: -2.0 to 2.0.
	FrequencyPenalty float32

	// ReasoningEffort tunes how much reasoning time the model spends
	// ("minimal", "medium", "high").
	ReasoningEffort string

	// Verbosity controls the amount of output tokens generated
	// ("low", "medium", "high").
	Verbosity string
}

// Client is a client for the OpenAI API.
type Client struct {
	client *openai.Client

	// defaultModel applies when the session does not override the model.
	defaultModel string

	embeddingModel string

	// baseURL overrides the API endpoint for compatible proxies or
	// self-hosted gateways. Empty means the default OpenAI endpoint.
	baseURL string

	params generationParameters

	// strictSchema enables OpenAI's strict structured-output mode for
	// sessions that set a response schema.
	strictSchema bool
}

// Option is a configuration option for the OpenAI client.
type Option func(*Client)

// WithModel sets the default model for chat completions.
func WithModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithEmbeddingModel sets the model used for embeddings. Model list is at
// https://platform.openai.com/docs/guides/embeddings#embedding-models
func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		c.embeddingModel = model
	}
}

// WithBaseURL sets a custom base URL, for compatible endpoints or proxies.
func WithBaseURL(url string) Option {
	return func(c *Client) {
		c.baseURL = url
	}
}

// WithTemperature sets the sampling temperature. Range: 0.0 to 2.0.
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// WithPresencePenalty sets the presence penalty parameter.
func WithPresencePenalty(penalty float32) Option {
	return func(c *Client) {
		c.params.PresencePenalty = penalty
	}
}

// WithFrequencyPenalty sets the frequency penalty parameter.
func WithFrequencyPenalty(penalty float32) Option {
	return func(c *Client) {
		c.params.FrequencyPenalty = penalty
	}
}

// WithReasoningEffort sets the reasoning_effort parameter for GPT-5 models.
// Supported values: "minimal", "medium", "high".
func WithReasoningEffort(effort string) Option {
	return func(c *Client) {
		c.params.ReasoningEffort = effort
	}
}

// WithVerbosity sets the verbosity parameter for GPT-5 models.
// Supported values: "low", "medium", "high".
func WithVerbosity(verbosity string) Option {
	return func(c *Client) {
		c.params.Verbosity = verbosity
	}
}

// WithStrictSchema enables strict structured outputs. In strict mode OpenAI
// requires every object property to be listed as required, so optional
// fields lose their optionality.
func WithStrictSchema() Option {
	return func(c *Client) {
		c.strictSchema = true
	}
}

// New creates an OpenAI client with the given API key.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	client := &Client{
		defaultModel:   DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		params: generationParameters{
			ReasoningEffort: "minimal",
			Verbosity:       "low",
		},
	}

	for _, option := range options {
		option(client)
	}

	config := openai.DefaultConfig(apiKey)
	if client.baseURL != "" {
		config.BaseURL = client.baseURL
	}
	client.client = openai.NewClientWithConfig(config)

	return client, nil
}

// NewSession creates a session for the OpenAI API. Session options override
// the client defaults; tools are converted to OpenAI function definitions.
func (c *Client) NewSession(ctx context.Context, options ...steward.SessionOption) (steward.Session, error) {
	cfg := steward.NewSessionConfig(options...)

	tools := make([]openai.Tool, len(cfg.Tools()))
	for i, tool := range cfg.Tools() {
		tools[i] = convertTool(tool)
	}

	model := cfg.Model()
	if model == "" {
		model = c.defaultModel
	}

	history := cfg.History()
	if history == nil {
		history = steward.NewHistory()
	}

	session := &Session{
		apiClient:    &realAPIClient{client: c.client},
		model:        model,
		tools:        tools,
		params:       c.params,
		cfg:          cfg,
		strictSchema: c.strictSchema,
		history:      history,
	}

	return session, nil
}
