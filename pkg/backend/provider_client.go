package backend

import (
	"context"

	"github.com/jllopis/conclave/pkg/llm"
)

// ProviderClient adapts an llm.Provider and model name to Client.
type ProviderClient struct {
	provider llm.Provider
	model    string
}

// NewProviderClient wraps p. An empty model leaves the provider default.
func NewProviderClient(p llm.Provider, model string) *ProviderClient {
	return &ProviderClient{provider: p, model: model}
}

// Provider returns the wrapped provider.
func (c *ProviderClient) Provider() llm.Provider { return c.provider }

// Model returns the configured model name.
func (c *ProviderClient) Model() string { return c.model }

// Complete implements Client.
func (c *ProviderClient) Complete(ctx context.Context, req Request) (*Completion, error) {
	resp, err := c.provider.Chat(ctx, llm.ChatRequest{
		Model:       c.model,
		Messages:    llm.SystemAndUser(req.SystemPrompt, req.UserText),
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}
	return &Completion{Text: resp.Content, Model: c.model, Usage: resp.Usage}, nil
}

var _ Client = (*ProviderClient)(nil)
