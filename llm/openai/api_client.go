package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"
)

// apiClient abstracts the OpenAI API surface the session depends on, so
// tests can substitute scripted responses.
type apiClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// realAPIClient wraps the actual OpenAI client.
type realAPIClient struct {
	client *openai.Client
}

func (r *realAPIClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return r.client.CreateChatCompletion(ctx, req)
}

func (r *realAPIClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error) {
	return r.client.CreateChatCompletionStream(ctx, req)
}
