package ollama

import (
	"context"
	"strings"

	"github.com/ollama/ollama/api"
)

// GenerateEmbedding creates a vector embedding for the given input text
// using the configured embedding model on Ollama. Empty input yields a
// zero vector of the configured dimensionality without a network call.
func (c *Client) GenerateEmbedding(
	ctx context.Context,
	input []byte,
) ([]float32, error) {
	if len(strings.TrimSpace(string(input))) == 0 {
		return make([]float32, c.embeddingDim), nil
	}

	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.reqLock.Release(1)

	res, err := c.ollama.Embed(ctx, &api.EmbedRequest{
		Model: c.embeddingModel,
		Input: string(input),
	})
	if err != nil {
		return nil, err
	}

	out := make([]float32, 0, c.embeddingDim)
	for _, v := range res.Embeddings {
		for _, val := range v {
			if len(out) >= c.embeddingDim {
				break
			}
			out = append(out, float32(val))
		}
	}
	return out, nil
}
