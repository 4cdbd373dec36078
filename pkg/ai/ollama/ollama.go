package ollama

import (
	"net/http"
	"net/url"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"
)

// Client implements the ai.Client interface using Ollama as the backend.
// It supports text generation, structured output, and embeddings via
// locally-hosted models.
type Client struct {
	completionModel string
	embeddingModel  string
	embeddingDim    int

	reqLock *semaphore.Weighted

	ollama *api.Client
}

// NewClientParams contains configuration options for creating a new Client.
type NewClientParams struct {
	CompletionModel string
	EmbeddingModel  string
	EmbeddingDim    int

	BaseURL string
	APIKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewClient creates a new Ollama-based AI client. It connects to the Ollama
// server at the given BaseURL (or the library default if empty) and uses the
// configured models for completion and embedding.
func NewClient(params NewClientParams) (*Client, error) {
	var (
		u   *url.URL
		err error
	)

	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	} else {
		u, err = url.Parse("http://localhost:11434")
		if err != nil {
			return nil, err
		}
	}

	httpClient := http.DefaultClient
	if params.APIKey != "" {
		httpClient = &http.Client{
			Transport: &headerTransport{
				headers: map[string]string{
					"Authorization": "Bearer " + params.APIKey,
				},
				rt: http.DefaultTransport,
			},
		}
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	dim := params.EmbeddingDim
	if dim <= 0 {
		dim = 1024
	}

	return &Client{
		completionModel: params.CompletionModel,
		embeddingModel:  params.EmbeddingModel,
		embeddingDim:    dim,
		reqLock:         semaphore.NewWeighted(maxConcurrent),
		ollama:          api.NewClient(u, httpClient),
	}, nil
}
