package config

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/types"
)

// HTTPSource fetches dynamic configuration from a remote admin API. Used
// when the orchestrator runs separately from the admin surface; single-node
// deployments wire the store directly as the [Source].
type HTTPSource struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

var _ Source = (*HTTPSource)(nil)

// NewHTTPSource creates an HTTPSource for the admin API at baseURL. token is
// sent as a bearer credential; pass "" when the API is unauthenticated.
func NewHTTPSource(baseURL, token string) *HTTPSource {
	return &HTTPSource{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) ConversationSettings(ctx context.Context) (types.ConversationSettings, error) {
	var v types.ConversationSettings
	err := s.getJSON(ctx, "/api/conversation/settings", &v)
	return v, err
}

func (s *HTTPSource) ClarificationSettings(ctx context.Context) (types.ClarificationSettings, error) {
	var v types.ClarificationSettings
	err := s.getJSON(ctx, "/api/conversation/clarification", &v)
	return v, err
}

func (s *HTTPSource) ClarificationRules(ctx context.Context) ([]types.ClarificationRule, error) {
	var v []types.ClarificationRule
	err := s.getJSON(ctx, "/api/conversation/clarification/types", &v)
	return v, err
}

func (s *HTTPSource) SportsTeams(ctx context.Context) ([]types.SportsTeam, error) {
	var v []types.SportsTeam
	err := s.getJSON(ctx, "/api/conversation/sports-teams", &v)
	return v, err
}

func (s *HTTPSource) DeviceRules(ctx context.Context) ([]types.DeviceRule, error) {
	var v []types.DeviceRule
	err := s.getJSON(ctx, "/api/conversation/device-rules", &v)
	return v, err
}

func (s *HTTPSource) Features(ctx context.Context) ([]types.FeatureFlag, error) {
	var v []types.FeatureFlag
	err := s.getJSON(ctx, "/api/features", &v)
	return v, err
}

func (s *HTTPSource) LLMBackends(ctx context.Context) ([]types.LLMBackend, error) {
	var v []types.LLMBackend
	err := s.getJSON(ctx, "/api/llm-backends", &v)
	return v, err
}

func (s *HTTPSource) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("config: build request %s: %w", path, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("config: fetch %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("config: fetch %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}
