// Package claude adapts the Anthropic messages API to the worker's
// single-shot prompt/completion contract.
package claude

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	maxTokens = 4096

	// low temperature for deterministic classification output
	temperature = 0.1
)

// Client implements the triage Provider interface on top of the Claude API.
type Client struct {
	model  anthropic.Model
	client anthropic.Client
}

// New creates a Claude client with the given API key and model name.
// Extra request options are passed through to the SDK (used by tests to
// point at a fake server).
func New(apiKey, model string, opts ...option.RequestOption) *Client {
	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		model:  anthropic.Model(model),
		client: anthropic.NewClient(opts...),
	}
}

// Generate sends the prompt as a single user message and returns the
// concatenated text blocks of the response.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       c.model,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("claude messages: %w", err)
	}

	var text string
	for _, block := range msg.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}
	if text == "" {
		return "", fmt.Errorf("claude returned no text content")
	}
	return text, nil
}
