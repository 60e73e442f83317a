package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// GenerateClient speaks the generic "POST /generate" protocol used by local
// inference servers: a model name, a flat prompt, and an options object in;
// a response string plus eval counters out.
type GenerateClient struct {
	hc *http.Client
}

// NewGenerateClient creates a GenerateClient. The per-call deadline comes
// from the request context, so the HTTP client itself carries no timeout.
func NewGenerateClient() *GenerateClient {
	return &GenerateClient{hc: &http.Client{}}
}

type generateRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		Temperature float64 `json:"temperature,omitempty"`
		MaxTokens   int     `json:"max_tokens,omitempty"`
	} `json:"options"`
}

type generateResponse struct {
	Response      string `json:"response"`
	Done          bool   `json:"done"`
	TotalDuration int64  `json:"total_duration"` // nanoseconds
	EvalCount     int    `json:"eval_count"`
	PromptEval    int    `json:"prompt_eval_count"`
}

// Generate implements [Provider].
func (c *GenerateClient) Generate(ctx context.Context, endpoint string, req Request) (Response, error) {
	body := generateRequest{
		Model:  req.Model,
		Prompt: flatten(req),
		Stream: false,
	}
	if req.Temperature >= 0 {
		body.Options.Temperature = req.Temperature
	}
	body.Options.MaxTokens = req.MaxTokens

	data, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llm: encode generate request: %w", err)
	}

	url := strings.TrimRight(endpoint, "/") + "/generate"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return Response{}, types.Upstream("llm", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.hc.Do(httpReq)
	if err != nil {
		return Response{}, types.Upstream("llm", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Response{}, types.Upstream("llm", fmt.Errorf("status %d", resp.StatusCode))
	}

	var out generateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, types.ParseFailed("llm", err)
	}
	if !out.Done {
		return Response{}, types.ParseFailed("llm", fmt.Errorf("incomplete generation"))
	}

	duration := time.Since(start)
	if out.TotalDuration > 0 {
		duration = time.Duration(out.TotalDuration)
	}
	return Response{
		Text:    strings.TrimSpace(out.Response),
		Backend: endpoint,
		Usage: Usage{
			PromptTokens:     out.PromptEval,
			CompletionTokens: out.EvalCount,
			TotalTokens:      out.PromptEval + out.EvalCount,
		},
		Duration: duration,
	}, nil
}
