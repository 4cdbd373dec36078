package ollama

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/murre-ai/murre/pkg/ai"

	"github.com/ollama/ollama/api"
)

// GenerateCompletion sends a single-turn prompt to the completion model and
// returns the generated text.
func (c *Client) GenerateCompletion(
	ctx context.Context,
	prompt string,
	opts ...ai.GenerateOption,
) (string, error) {
	options := ai.GenerateOptions{
		Model:       c.completionModel,
		Temperature: 0.3,
	}
	for _, o := range opts {
		o(&options)
	}

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Options:  map[string]any{"temperature": options.Temperature},
	}

	return c.chat(ctx, req)
}

// GenerateCompletionWithFormat sends a prompt constrained to the JSON schema
// of out, then unmarshals the response into out. Ollama enforces the schema
// through the request Format field; the response is still parsed flexibly
// since smaller models occasionally wrap or truncate their output.
func (c *Client) GenerateCompletionWithFormat(
	ctx context.Context,
	name string,
	description string,
	prompt string,
	out any,
	opts ...ai.GenerateOption,
) error {
	options := ai.GenerateOptions{
		Model:       c.completionModel,
		Temperature: 0.1,
	}
	for _, o := range opts {
		o(&options)
	}

	schema, err := json.Marshal(ai.GenerateSchema(out))
	if err != nil {
		return fmt.Errorf("failed to build schema %q: %w", name, err)
	}

	msgs := make([]api.Message, 0, len(options.SystemPrompts)+1)
	for _, sp := range options.SystemPrompts {
		msgs = append(msgs, api.Message{Role: "system", Content: sp})
	}
	msgs = append(msgs, api.Message{Role: "user", Content: prompt})

	stream := false
	req := &api.ChatRequest{
		Model:    options.Model,
		Messages: msgs,
		Stream:   &stream,
		Format:   json.RawMessage(schema),
		Options:  map[string]any{"temperature": options.Temperature},
	}

	resp, err := c.chat(ctx, req)
	if err != nil {
		return err
	}

	return ai.UnmarshalFlexible(resp, out)
}

func (c *Client) chat(ctx context.Context, req *api.ChatRequest) (string, error) {
	if err := c.reqLock.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer c.reqLock.Release(1)

	var content string
	if err := c.ollama.Chat(ctx, req, func(cr api.ChatResponse) error {
		content += cr.Message.Content
		return nil
	}); err != nil {
		return "", err
	}

	return content, nil
}
