package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/openhearth/hearth/internal/types"
)

// AnyLLM generates against hosted model providers through any-llm-go's
// unified chat interface. Used for backend rows whose endpoint names a
// provider ("anyllm:openai") instead of an HTTP URL; local HTTP endpoints
// go through [GenerateClient] or [CompletionsClient] instead.
type AnyLLM struct {
	backends map[string]anyllmlib.Provider
}

// NewAnyLLM constructs backends for each supported provider name. opts
// apply to every provider (API keys fall back to the conventional
// environment variables).
func NewAnyLLM(opts ...anyllmlib.Option) (*AnyLLM, error) {
	a := &AnyLLM{backends: make(map[string]anyllmlib.Provider)}
	for name, create := range map[string]func(...anyllmlib.Option) (anyllmlib.Provider, error){
		"openai":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anyllmoai.New(o...) },
		"anthropic": func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return anthropic.New(o...) },
		"ollama":    func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return ollama.New(o...) },
		"mistral":   func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return mistral.New(o...) },
		"groq":      func(o ...anyllmlib.Option) (anyllmlib.Provider, error) { return groq.New(o...) },
	} {
		backend, err := create(opts...)
		if err != nil {
			return nil, fmt.Errorf("llm: create %q backend: %w", name, err)
		}
		a.backends[name] = backend
	}
	return a, nil
}

// Generate implements [Provider]. endpoint must be "anyllm:{provider}".
func (a *AnyLLM) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	name := strings.TrimPrefix(endpoint, "anyllm:")
	backend, ok := a.backends[name]
	if !ok {
		return Response{}, fmt.Errorf("llm: unsupported provider %q", name)
	}

	messages := make([]anyllmlib.Message, 0, len(req.History)+1)
	for _, m := range req.History {
		role := anyllmlib.RoleUser
		if m.Role == types.RoleAssistant {
			role = anyllmlib.RoleAssistant
		}
		messages = append(messages, anyllmlib.Message{Role: role, Content: m.Text})
	}
	messages = append(messages, anyllmlib.Message{Role: anyllmlib.RoleUser, Content: req.Prompt})

	params := anyllmlib.CompletionParams{
		Model:    req.Model,
		Messages: messages,
	}
	if req.Temperature >= 0 {
		t := req.Temperature
		params.Temperature = &t
	}
	if req.MaxTokens > 0 {
		n := req.MaxTokens
		params.MaxTokens = &n
	}

	start := time.Now()
	resp, err := backend.Completion(ctx, params)
	if err != nil {
		return Response{}, types.Upstream("llm", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, types.ParseFailed("llm", fmt.Errorf("empty choices in response"))
	}

	out := Response{
		Text:     strings.TrimSpace(resp.Choices[0].Message.ContentString()),
		Backend:  endpoint,
		Duration: time.Since(start),
	}
	if resp.Usage != nil {
		out.Usage = Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		}
	}
	return out, nil
}
