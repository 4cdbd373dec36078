package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model. Empty input yields a zero vector of
// the configured dimensionality without a network call.
func (c *Client) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.embeddingDim), nil
	}

	response, err := c.embed.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(c.embeddingModel),
		Input: openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: []string{string(input)},
		},
	})
	if err != nil {
		return nil, err
	}
	if len(response.Data) != 1 {
		return nil, fmt.Errorf("unexpected embedding result size: got %d want 1", len(response.Data))
	}

	out := make([]float32, 0, c.embeddingDim)
	for _, v := range response.Data[0].Embedding {
		if len(out) >= c.embeddingDim {
			break
		}
		out = append(out, float32(v))
	}
	return out, nil
}
