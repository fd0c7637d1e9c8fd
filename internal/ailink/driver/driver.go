// Package driver is the transport boundary between the rewrite service and
// a chat completion provider.
package driver

import "context"

// Driver sends one chat completion.
type Driver interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
	// Name identifies the provider in errors and traces.
	Name() string
}

// Message is one chat turn. Role is "system", "user" or "assistant".
type Message struct {
	Role string `json:"role"`
	Text string `json:"content"`
}

// Request is a provider-agnostic completion request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature *float64
	PromptSlug  string
	Metadata    map[string]string
}

// Usage is the token accounting a provider reports.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a provider-agnostic completion response.
type Response struct {
	Text         string
	FinishReason string
	Usage        *Usage
}
