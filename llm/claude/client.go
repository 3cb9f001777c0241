// Package claude provides the Anthropic Claude backend of the steward LLM
// boundary. Claude has no structured-output mode, so JSON responses are
// requested through the system prompt and extracted from the generated text.
package claude

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/vertex"
	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
)

const (
	DefaultModel = string(anthropic.ModelClaude3_5SonnetLatest)

	// DefaultVertexModel is the default model when the client authenticates
	// through Vertex AI instead of the Anthropic API.
	DefaultVertexModel = "claude-sonnet-4@20250514"
)

var (
	claudePromptScope   = ctxlog.NewScope("claude_prompt", ctxlog.EnabledBy("STEWARD_LOGGING_CLAUDE_PROMPT"))
	claudeResponseScope = ctxlog.NewScope("claude_response", ctxlog.EnabledBy("STEWARD_LOGGING_CLAUDE_RESPONSE"))
)

// generationParameters carries the tuning knobs passed through to every
// message request.
type generationParameters struct {
	// Temperature controls randomness in the output. Range: 0.0 to 1.0.
	Temperature float64

	// TopP controls diversity via nucleus sampling.
	TopP float64

	// MaxTokens limits the number of tokens to generate.
	MaxTokens int64
}

// Client is a client for the Anthropic Claude API.
type Client struct {
	client *anthropic.Client

	// defaultModel applies when the session does not override the model.
	defaultModel string

	params generationParameters

	// vertexRegion and vertexProjectID switch authentication to Vertex AI
	// when both are set.
	vertexRegion    string
	vertexProjectID string
}

// Option is a configuration option for the Claude client.
type Option func(*Client)

// WithModel sets the default model for message generation.
func WithModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithTemperature sets the sampling temperature. Range: 0.0 to 1.0.
func WithTemperature(temp float64) Option {
	return func(c *Client) {
		c.params.Temperature = temp
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) Option {
	return func(c *Client) {
		c.params.TopP = topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int64) Option {
	return func(c *Client) {
		c.params.MaxTokens = maxTokens
	}
}

// WithVertex routes requests through Vertex AI using Google credentials
// instead of an Anthropic API key.
func WithVertex(region, projectID string) Option {
	return func(c *Client) {
		c.vertexRegion = region
		c.vertexProjectID = projectID
	}
}

// New creates a Claude client. The API key is ignored when WithVertex is
// set; Vertex AI authenticates with Google application default credentials.
func New(ctx context.Context, apiKey string, options ...Option) (*Client, error) {
	client := &Client{
		defaultModel: DefaultModel,
		params: generationParameters{
			Temperature: 0.7,
			TopP:        1.0,
			MaxTokens:   4096,
		},
	}

	for _, option := range options {
		option(client)
	}

	var newClient anthropic.Client
	if client.vertexRegion != "" && client.vertexProjectID != "" {
		if client.defaultModel == DefaultModel {
			client.defaultModel = DefaultVertexModel
		}
		newClient = anthropic.NewClient(
			vertex.WithGoogleAuth(ctx, client.vertexRegion, client.vertexProjectID),
		)
	} else {
		if apiKey == "" {
			return nil, goerr.New("API key is required")
		}
		newClient = anthropic.NewClient(
			option.WithAPIKey(apiKey),
		)
	}
	client.client = &newClient

	return client, nil
}

// NewSession creates a session for the Claude API. A response schema is
// folded into the system prompt because Claude has no native structured
// output support.
func (c *Client) NewSession(ctx context.Context, options ...steward.SessionOption) (steward.Session, error) {
	cfg := steward.NewSessionConfig(options...)

	tools := make([]anthropic.ToolUnionParam, len(cfg.Tools()))
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

	systemPrompt := cfg.SystemPrompt()
	if schema := cfg.ResponseSchema(); schema != nil {
		instruction, err := schemaInstruction(schema)
		if err != nil {
			return nil, err
		}
		if systemPrompt != "" {
			systemPrompt += "\n\n"
		}
		systemPrompt += instruction
	}

	session := &Session{
		apiClient:    &realAPIClient{client: c.client},
		model:        model,
		tools:        tools,
		params:       c.params,
		cfg:          cfg,
		systemPrompt: systemPrompt,
		history:      history,
	}

	return session, nil
}

// GenerateEmbedding is not supported; Anthropic provides no embedding API.
func (c *Client) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	return nil, goerr.New("embedding generation is not supported by the Claude backend")
}

// schemaInstruction renders a response schema as a system prompt directive.
func schemaInstruction(param *steward.Parameter) (string, error) {
	if err := param.Validate(); err != nil {
		return "", goerr.Wrap(err, "invalid response schema")
	}

	schema := convertParameterToSchema(param)
	raw, err := json.Marshal(schema)
	if err != nil {
		return "", goerr.Wrap(err, "failed to marshal response schema")
	}

	return fmt.Sprintf("Respond with a single JSON object conforming to this JSON Schema. Output only the JSON, no prose or code fences.\n%s", string(raw)), nil
}
