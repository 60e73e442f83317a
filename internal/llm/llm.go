// Package llm routes text generation across configured model backends.
//
// A [Provider] speaks one wire protocol to one endpoint; the [Router] picks
// the endpoint (and fallback) from the per-model routing table in dynamic
// configuration and keeps rolling performance metrics per backend.
package llm

import (
	"context"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// Usage holds token accounting for one generation.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request carries one generation request.
type Request struct {
	Model  string
	Prompt string

	// History is prior conversation turns included as prompt context, in
	// chronological order. May be empty.
	History []types.Message

	// Temperature < 0 means the backend default.
	Temperature float64

	// MaxTokens == 0 means the backend default.
	MaxTokens int
}

// Response is a completed generation.
type Response struct {
	Text     string
	Backend  string // endpoint that served the request
	Usage    Usage
	Duration time.Duration
}

// Provider generates text against one endpoint.
type Provider interface {
	Generate(ctx context.Context, endpoint string, req Request) (Response, error)
}

// flatten renders history plus the prompt as a plain-text instruction
// prompt for completion-style backends.
func flatten(req Request) string {
	if len(req.History) == 0 {
		return req.Prompt
	}
	var out string
	for _, m := range req.History {
		switch m.Role {
		case types.RoleAssistant:
			out += "Assistant: " + m.Text + "\n"
		default:
			out += "User: " + m.Text + "\n"
		}
	}
	return out + "User: " + req.Prompt + "\nAssistant:"
}
