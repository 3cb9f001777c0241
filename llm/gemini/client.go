// Package gemini provides the Gemini backend of the steward LLM boundary,
// using the Vertex AI flavor of the google.golang.org/genai SDK.
package gemini

import (
	"context"
	"math"

	"github.com/m-mizutani/ctxlog"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward"
	"google.golang.org/api/option"
	genai "google.golang.org/genai"
)

const (
	DefaultModel          = "gemini-2.5-flash"
	DefaultEmbeddingModel = "text-embedding-004"
)

var (
	geminiPromptScope   = ctxlog.NewScope("gemini_prompt", ctxlog.EnabledBy("STEWARD_LOGGING_GEMINI_PROMPT"))
	geminiResponseScope = ctxlog.NewScope("gemini_response", ctxlog.EnabledBy("STEWARD_LOGGING_GEMINI_RESPONSE"))
)

// Client is a client for the Gemini API on Vertex AI.
type Client struct {
	projectID string
	location  string

	client *genai.Client

	// defaultModel applies when the session does not override the model.
	defaultModel string

	embeddingModel string

	gcpOptions []option.ClientOption

	// generationConfig carries client-level generation defaults. Session
	// settings take precedence.
	generationConfig *genai.GenerateContentConfig

	// searchGrounding enables the Google Search tool so responses carry
	// grounding metadata with web citations.
	searchGrounding bool
}

// Option is a configuration option for the Gemini client.
type Option func(*Client)

// WithModel sets the default model for text generation.
func WithModel(model string) Option {
	return func(c *Client) {
		c.defaultModel = model
	}
}

// WithEmbeddingModel sets the model used for embeddings.
func WithEmbeddingModel(model string) Option {
	return func(c *Client) {
		c.embeddingModel = model
	}
}

// WithGoogleCloudOptions sets additional Google Cloud client options, such
// as credentials or endpoint overrides.
func WithGoogleCloudOptions(opts ...option.ClientOption) Option {
	return func(c *Client) {
		c.gcpOptions = append(c.gcpOptions, opts...)
	}
}

// WithTemperature sets the default sampling temperature. Range: 0.0 to 2.0.
func WithTemperature(temp float32) Option {
	return func(c *Client) {
		c.ensureConfig()
		c.generationConfig.Temperature = &temp
	}
}

// WithTopP sets the nucleus sampling parameter. Range: 0.0 to 1.0.
func WithTopP(topP float32) Option {
	return func(c *Client) {
		c.ensureConfig()
		c.generationConfig.TopP = &topP
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int32) Option {
	return func(c *Client) {
		c.ensureConfig()
		c.generationConfig.MaxOutputTokens = maxTokens
	}
}

// WithThinkingBudget sets the default thinking token budget. A value of -1
// enables automatic allocation.
func WithThinkingBudget(budget int32) Option {
	return func(c *Client) {
		c.ensureConfig()
		if c.generationConfig.ThinkingConfig == nil {
			c.generationConfig.ThinkingConfig = &genai.ThinkingConfig{}
		}
		c.generationConfig.ThinkingConfig.ThinkingBudget = &budget
	}
}

// WithSearchGrounding enables the Google Search tool, so generated answers
// carry grounding metadata the orchestrator extracts as citations.
func WithSearchGrounding() Option {
	return func(c *Client) {
		c.searchGrounding = true
	}
}

func (c *Client) ensureConfig() {
	if c.generationConfig == nil {
		c.generationConfig = &genai.GenerateContentConfig{}
	}
}

// New creates a Gemini client bound to a Google Cloud project and location.
func New(ctx context.Context, projectID, location string, options ...Option) (*Client, error) {
	if projectID == "" {
		return nil, goerr.New("projectID is required")
	}
	if location == "" {
		return nil, goerr.New("location is required")
	}

	var budget int32 = 0

	client := &Client{
		projectID:      projectID,
		location:       location,
		defaultModel:   DefaultModel,
		embeddingModel: DefaultEmbeddingModel,
		generationConfig: &genai.GenerateContentConfig{
			ThinkingConfig: &genai.ThinkingConfig{
				ThinkingBudget: &budget,
			},
		},
	}

	for _, option := range options {
		option(client)
	}

	config := &genai.ClientConfig{
		Project:  projectID,
		Location: location,
		Backend:  genai.BackendVertexAI,
	}

	newClient, err := genai.NewClient(ctx, config)
	if err != nil {
		return nil, err
	}

	client.client = newClient
	return client, nil
}

// NewSession creates a session for the Gemini API. Session options override
// the client defaults; tools are converted to Gemini function declarations.
func (c *Client) NewSession(ctx context.Context, options ...steward.SessionOption) (steward.Session, error) {
	cfg := steward.NewSessionConfig(options...)

	config := &genai.GenerateContentConfig{}
	if c.generationConfig != nil {
		*config = *c.generationConfig
	}

	switch cfg.ContentType() {
	case steward.ContentTypeJSON:
		config.ResponseMIMEType = "application/json"
	case steward.ContentTypeText:
		config.ResponseMIMEType = "text/plain"
	}
	if schema := cfg.ResponseSchema(); schema != nil {
		config.ResponseMIMEType = "application/json"
		config.ResponseSchema = convertParameter(schema)
	}

	if temp := cfg.Temperature(); temp != nil {
		t := float32(*temp)
		config.Temperature = &t
	}
	if budget := cfg.ThinkingBudget(); budget != nil {
		if config.ThinkingConfig == nil {
			config.ThinkingConfig = &genai.ThinkingConfig{}
		}
		config.ThinkingConfig.ThinkingBudget = budget
	}

	if prompt := cfg.SystemPrompt(); prompt != "" {
		config.SystemInstruction = &genai.Content{
			Role: "system",
			Parts: []*genai.Part{
				{Text: prompt},
			},
		}
	}

	if tools := cfg.Tools(); len(tools) > 0 {
		declarations := make([]*genai.FunctionDeclaration, len(tools))
		for i, tool := range tools {
			declarations[i] = convertTool(tool)
		}
		config.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	// Search grounding and function declarations are mutually exclusive on
	// Vertex AI, so grounding applies only to tool-less sessions.
	if c.searchGrounding && len(cfg.Tools()) == 0 {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	model := cfg.Model()
	if model == "" {
		model = c.defaultModel
	}

	history := cfg.History()
	if history == nil {
		history = steward.NewHistory()
	}

	return &Session{
		apiClient: &realAPIClient{client: c.client},
		model:     model,
		config:    config,
		history:   history,
	}, nil
}

// GenerateEmbedding generates embedding vectors for the given texts.
func (c *Client) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	contents := make([]*genai.Content, len(input))
	for i, text := range input {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{
				{Text: text},
			},
		}
	}

	config := &genai.EmbedContentConfig{}
	if dimension > 0 && dimension <= math.MaxInt32 {
		outputDim := int32(dimension)
		config.OutputDimensionality = &outputDim
	}

	result, err := c.client.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embeddings")
	}

	if result == nil || len(result.Embeddings) == 0 {
		return nil, goerr.New("no embeddings returned")
	}

	embeddings := make([][]float64, len(result.Embeddings))
	for i, emb := range result.Embeddings {
		embeddings[i] = make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			embeddings[i][j] = float64(v)
		}
	}

	return embeddings, nil
}
