// Package inference provides the completion call used by the conversation loop.
//
// The package abstracts chat completions behind a single Provider interface.
// Providers that accept a per-request credential implement KeyedProvider and
// can be wrapped in a Rotating provider that spreads calls across a key pool.
//
// Example usage:
//
//	pool, _ := keypool.New(keys)
//	oa, _ := inference.NewOpenAI(inference.WithModel("gpt-4o-mini"))
//	p := inference.NewRotating(oa, pool)
//
//	resp, _ := p.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewSystemMessage(prompt),
//	        inference.NewUserMessage("Hello!"),
//	    },
//	})
package inference

import (
	"context"
)

// Provider is the completion interface.
type Provider interface {
	// Chat generates a reply from a sequence of messages.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Health checks provider connectivity and credential validity.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// KeyedProvider accepts the credential per request instead of at construction.
type KeyedProvider interface {
	Provider

	// ChatWithKey is Chat authenticated with key.
	ChatWithKey(ctx context.Context, key string, req *ChatRequest) (*ChatResponse, error)
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history, in order.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// TopP controls nucleus sampling.
	TopP float64

	// Stop sequences that halt generation.
	Stop []string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
