package openai

import (
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client implements the ai.Client interface against an OpenAI-compatible
// API. Separate underlying clients are kept for chat and embeddings so the
// two can point at different endpoints.
type Client struct {
	completionModel string
	embeddingModel  string
	embeddingDim    int

	chat  *openai.Client
	embed *openai.Client
}

// NewClientParams defines the configuration for creating a new Client.
// ChatURL/EmbeddingURL may be empty to use the OpenAI default endpoint.
type NewClientParams struct {
	CompletionModel string
	EmbeddingModel  string
	EmbeddingDim    int

	ChatURL      string
	ChatKey      string
	EmbeddingURL string
	EmbeddingKey string
}

// NewClient creates a new OpenAI-backed AI client.
func NewClient(params NewClientParams) *Client {
	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = 1536
	}

	return &Client{
		completionModel: params.CompletionModel,
		embeddingModel:  params.EmbeddingModel,
		embeddingDim:    dim,
		chat:            newOpenaiClient(params.ChatURL, params.ChatKey),
		embed:           newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

func newOpenaiClient(baseURL, apiKey string) *openai.Client {
	opts := make([]option.RequestOption, 0, 2)
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	client := openai.NewClient(opts...)
	return &client
}
