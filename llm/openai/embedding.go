package openai

import (
	"context"

	"github.com/m-mizutani/goerr/v2"
	"github.com/sashabaranov/go-openai"
)

// embeddingRequest validates the embedding parameters and builds the API
// request. Only the v3 embedding models accept a reduced output dimension;
// ada-002 always returns its native width, so the dimension is dropped there
// rather than sent and rejected.
func embeddingRequest(model string, dimension int, input []string) (openai.EmbeddingRequest, error) {
	if len(input) == 0 {
		return openai.EmbeddingRequest{}, goerr.New("embedding input is empty")
	}

	req := openai.EmbeddingRequest{Input: input}
	switch model {
	case "text-embedding-3-small":
		req.Model = openai.SmallEmbedding3
		req.Dimensions = dimension
	case "text-embedding-3-large":
		req.Model = openai.LargeEmbedding3
		req.Dimensions = dimension
	case "text-embedding-ada-002":
		req.Model = openai.AdaEmbeddingV2
	default:
		return openai.EmbeddingRequest{}, goerr.New("invalid or unsupported embedding model. See https://platform.openai.com/docs/guides/embeddings#embedding-models", goerr.V("model", model))
	}

	return req, nil
}

// GenerateEmbedding embeds the input texts with the configured embedding
// model, one vector per input in input order.
func (c *Client) GenerateEmbedding(ctx context.Context, dimension int, input []string) ([][]float64, error) {
	req, err := embeddingRequest(c.embeddingModel, dimension, input)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create embedding", goerr.V("model", c.embeddingModel))
	}

	if len(resp.Data) == 0 {
		return nil, goerr.New("no embedding data returned")
	}

	embeddings := make([][]float64, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			embeddings[i][j] = float64(v)
		}
	}

	return embeddings, nil
}
