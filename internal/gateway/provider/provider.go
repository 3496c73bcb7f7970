// Package provider abstracts the language-model backends behind one
// capability interface. Vendors that speak the OpenAI chat-completions
// shape (OpenAI, DeepSeek, Qwen, local gateways) share one client; the
// factory picks the implementation from configuration.
package provider

import "context"

// GenerateRequest is one chat-completion call.
type GenerateRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// GenerateResult pairs output with error for the async variant.
type GenerateResult struct {
	Text string
	Err  error
}

type ModelBackend interface {
	ID() string
	Model() string
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	// GenerateAsync runs Generate in its own goroutine and delivers the
	// single result on the returned channel.
	GenerateAsync(ctx context.Context, req GenerateRequest) <-chan GenerateResult
}
