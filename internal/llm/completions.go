package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/openhearth/hearth/internal/types"
)

// CompletionsClient speaks the instruction-style "POST /v1/completions"
// protocol via the OpenAI SDK's legacy completions service. Endpoints are
// any server exposing that surface.
type CompletionsClient struct {
	apiKey string
}

// NewCompletionsClient creates a CompletionsClient. apiKey may be empty for
// local servers that skip authentication.
func NewCompletionsClient(apiKey string) *CompletionsClient {
	return &CompletionsClient{apiKey: apiKey}
}

// Generate implements [Provider].
func (c *CompletionsClient) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	opts := []option.RequestOption{
		option.WithBaseURL(strings.TrimRight(endpoint, "/")),
	}
	if c.apiKey != "" {
		opts = append(opts, option.WithAPIKey(c.apiKey))
	} else {
		opts = append(opts, option.WithAPIKey("unused"))
	}
	client := oai.NewClient(opts...)

	params := oai.CompletionNewParams{
		Model:  oai.CompletionNewParamsModel(req.Model),
		Prompt: oai.CompletionNewParamsPromptUnion{OfString: oai.String(flatten(req))},
	}
	if req.Temperature >= 0 {
		params.Temperature = oai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = oai.Int(int64(req.MaxTokens))
	}

	start := time.Now()
	resp, err := client.Completions.New(ctx, params)
	if err != nil {
		return Response{}, types.Upstream("llm", err)
	}
	if len(resp.Choices) == 0 {
		return Response{}, types.ParseFailed("llm", fmt.Errorf("empty choices in response"))
	}

	return Response{
		Text:    strings.TrimSpace(resp.Choices[0].Text),
		Backend: endpoint,
		Usage: Usage{
			PromptTokens:     int(resp.Usage.PromptTokens),
			CompletionTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:      int(resp.Usage.TotalTokens),
		},
		Duration: time.Since(start),
	}, nil
}
