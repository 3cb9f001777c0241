package steward

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/steward/trace"
)

const (
	// DefaultMaxAttempts is the number of generation attempts per request,
	// including the first one.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the wait before the first retry. The wait
	// doubles on each subsequent retry.
	DefaultBackoffBase = 500 * time.Millisecond

	// DefaultEmbeddingDimension is the vector size requested from the
	// embedding model.
	DefaultEmbeddingDimension = 768
)

// Gateway mediates every model call in the engine. It resolves agent
// definitions into provider sessions, retries transient provider failures
// with exponential backoff, and aggregates streaming output into a single
// response.
type Gateway struct {
	client      LLMClient
	registry    *Registry
	maxAttempts int
	backoffBase time.Duration
	embedDim    int
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithMaxAttempts sets the number of attempts per generation request.
func WithMaxAttempts(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithBackoffBase sets the wait before the first retry.
func WithBackoffBase(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.backoffBase = d
		}
	}
}

// WithEmbeddingDimension sets the vector size requested from the embedding model.
func WithEmbeddingDimension(dim int) GatewayOption {
	return func(g *Gateway) {
		if dim > 0 {
			g.embedDim = dim
		}
	}
}

// NewGateway creates a Gateway over the given client and agent registry.
func NewGateway(client LLMClient, registry *Registry, options ...GatewayOption) *Gateway {
	g := &Gateway{
		client:      client,
		registry:    registry,
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		embedDim:    DefaultEmbeddingDimension,
	}
	for _, opt := range options {
		opt(g)
	}
	return g
}

// NewAgentSession opens a session configured from the agent definition:
// model, generation parameters, and the rendered instruction as system
// prompt. data feeds the instruction template. Callers attach tools and
// history through extra options.
func (g *Gateway) NewAgentSession(ctx context.Context, kind AgentKind, data any, extra ...SessionOption) (Session, error) {
	def, err := g.registry.Get(kind)
	if err != nil {
		return nil, err
	}
	instruction, err := g.registry.Instruction(kind, data)
	if err != nil {
		return nil, err
	}

	options := []SessionOption{
		WithSessionModel(def.Model),
		WithSessionSystemPrompt(instruction),
	}
	if def.GenConfig.Temperature != nil {
		options = append(options, WithSessionTemperature(*def.GenConfig.Temperature))
	}
	if def.GenConfig.ThinkingBudget != nil {
		options = append(options, WithSessionThinkingBudget(*def.GenConfig.ThinkingBudget))
	}
	if def.GenConfig.ResponseType != "" {
		options = append(options, WithSessionContentType(def.GenConfig.ResponseType))
	}
	if def.GenConfig.ResponseSchema != nil {
		options = append(options, WithSessionResponseSchema(def.GenConfig.ResponseSchema))
	}
	options = append(options, extra...)

	ssn, err := g.client.NewSession(ctx, options...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create session",
			goerr.V("agent", kind),
			goerr.V("model", def.Model),
		)
	}

	return ssn, nil
}

// Generate runs a one-shot generation for the given agent kind. A fresh
// session is opened per attempt so no partial state leaks between retries.
// Transient provider failures are retried with exponential backoff; other
// failures return immediately.
func (g *Gateway) Generate(ctx context.Context, kind AgentKind, data any, inputs ...Input) (*Response, error) {
	logger := LoggerFromContext(ctx)

	var lastErr error
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		if attempt > 0 {
			wait := g.backoffBase << (attempt - 1)
			logger.Warn("model call failed, retrying",
				"agent", kind,
				"attempt", attempt,
				"wait", wait,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, goerr.Wrap(ctx.Err(), "generation canceled during backoff", goerr.V("agent", kind))
			case <-time.After(wait):
			}
		}

		ssn, err := g.NewAgentSession(ctx, kind, data)
		if err != nil {
			return nil, err
		}

		resp, err := g.generateOnce(ctx, kind, ssn, inputs)
		if err == nil {
			return resp, nil
		}
		if !isTransientError(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, goerr.Wrap(lastErr, "model call did not succeed",
		goerr.V("agent", kind),
		goerr.V("attempts", g.maxAttempts),
	)
}

func (g *Gateway) generateOnce(ctx context.Context, kind AgentKind, ssn Session, inputs []Input) (*Response, error) {
	handler := trace.HandlerFrom(ctx)
	if handler != nil {
		ctx = handler.StartLLMCall(ctx)
	}

	resp, err := ssn.Generate(ctx, inputs...)

	if handler != nil {
		handler.EndLLMCall(ctx, llmCallData(kind, resp), err)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "generation failed", goerr.V("agent", kind))
	}

	return resp, nil
}

// GenerateStream streams a one-shot generation for the given agent kind and
// aggregates it. onDelta receives the accumulated text after each chunk, so
// every snapshot extends the previous one. Streaming failures are not
// retried; partial output may already be visible to the caller.
func (g *Gateway) GenerateStream(ctx context.Context, kind AgentKind, data any, onDelta func(text string), inputs ...Input) (*Response, error) {
	ssn, err := g.NewAgentSession(ctx, kind, data)
	if err != nil {
		return nil, err
	}
	return g.StreamToAggregate(ctx, kind, ssn, onDelta, inputs...)
}

// StreamToAggregate consumes a streaming generation on an existing session
// and folds the chunks into a single response. Function calls and grounding
// sources are collected across chunks; sources are deduplicated by URL.
func (g *Gateway) StreamToAggregate(ctx context.Context, kind AgentKind, ssn Session, onDelta func(text string), inputs ...Input) (*Response, error) {
	handler := trace.HandlerFrom(ctx)
	if handler != nil {
		ctx = handler.StartLLMCall(ctx)
	}

	resp, err := g.consumeStream(ctx, ssn, onDelta, inputs)

	if handler != nil {
		handler.EndLLMCall(ctx, llmCallData(kind, resp), err)
	}
	if err != nil {
		return nil, goerr.Wrap(err, "streaming generation failed", goerr.V("agent", kind))
	}

	return resp, nil
}

func (g *Gateway) consumeStream(ctx context.Context, ssn Session, onDelta func(text string), inputs []Input) (*Response, error) {
	stream, err := ssn.GenerateStream(ctx, inputs...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to open stream")
	}

	agg := &Response{}
	var text strings.Builder
	for chunk := range stream {
		if chunk == nil {
			continue
		}
		if chunk.Error != nil {
			return nil, chunk.Error
		}

		for _, t := range chunk.Texts {
			text.WriteString(t)
		}
		if len(chunk.Texts) > 0 && onDelta != nil {
			onDelta(text.String())
		}

		agg.FunctionCalls = append(agg.FunctionCalls, chunk.FunctionCalls...)
		agg.GroundingSources = mergeSources(agg.GroundingSources, chunk.GroundingSources)

		// Providers report usage on the final chunk.
		if chunk.InputToken > 0 {
			agg.InputToken = chunk.InputToken
		}
		if chunk.OutputToken > 0 {
			agg.OutputToken = chunk.OutputToken
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, goerr.Wrap(err, "stream canceled")
	}
	if text.Len() > 0 {
		agg.Texts = []string{text.String()}
	}

	return agg, nil
}

// Embed converts texts into embedding vectors via the underlying client.
func (g *Gateway) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	vectors, err := g.client.GenerateEmbedding(ctx, g.embedDim, texts)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to generate embedding", goerr.V("count", len(texts)))
	}

	return vectors, nil
}

// mergeSources appends sources from src that are not already present in dst,
// comparing by URL. First-seen order is preserved.
func mergeSources(dst, src []GroundingSource) []GroundingSource {
	for _, s := range src {
		seen := false
		for _, d := range dst {
			if d.URL == s.URL {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, s)
		}
	}
	return dst
}

func llmCallData(kind AgentKind, resp *Response) *trace.LLMCallData {
	data := &trace.LLMCallData{Agent: kind.String()}
	if resp != nil {
		data.InputTokens = resp.InputToken
		data.OutputTokens = resp.OutputToken
	}
	return data
}

var transientMarkers = []string{
	"429",
	"500",
	"502",
	"503",
	"504",
	"rate limit",
	"resource exhausted",
	"quota",
	"overloaded",
	"unavailable",
	"internal error",
	"timeout",
	"deadline exceeded",
	"connection reset",
}

// isTransientError reports whether a provider failure is worth retrying.
// Provider SDKs do not share error types, so classification falls back to
// message matching. Cancellation from the caller is never transient.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
