package gemini

import (
	"context"

	genai "google.golang.org/genai"
)

// apiClient abstracts the stateless Gemini API calls so tests can substitute
// a scripted implementation.
type apiClient interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) <-chan streamResponse
}

// streamResponse pairs one streamed chunk with its error.
type streamResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type realAPIClient struct {
	client *genai.Client
}

func (r *realAPIClient) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	return r.client.Models.GenerateContent(ctx, model, contents, config)
}

func (r *realAPIClient) GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) <-chan streamResponse {
	ch := make(chan streamResponse)
	go func() {
		defer close(ch)
		for resp, err := range r.client.Models.GenerateContentStream(ctx, model, contents, config) {
			ch <- streamResponse{resp: resp, err: err}
		}
	}()
	return ch
}
