// Package tts wraps the text-to-speech upstream: a response string in, an
// audio byte-stream out.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Client calls the synthesis service.
type Client struct {
	base    string
	key     string
	hc      *http.Client
	breaker *resilience.CircuitBreaker
}

// New creates a Client from endpoint configuration.
func New(ep config.Endpoint) *Client {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(ep.BaseURL, "/"),
		key:     ep.APIKey,
		hc:      &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "tts"}),
	}
}

// Configured reports whether a synthesis upstream is set. When it is not,
// the pipeline returns text-only responses.
func (c *Client) Configured() bool { return c != nil && c.base != "" }

// Synthesize renders text as audio with the given voice profile.
func (c *Client) Synthesize(ctx context.Context, text, voiceProfile, wakeWord string) ([]byte, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("tts: not configured: %w", types.ErrNotApplicable)
	}

	body, err := json.Marshal(struct {
		Text         string `json:"text"`
		VoiceProfile string `json:"voice_profile,omitempty"`
		WakeWord     string `json:"wake_word,omitempty"`
	}{Text: text, VoiceProfile: voiceProfile, WakeWord: wakeWord})
	if err != nil {
		return nil, fmt.Errorf("tts: encode request: %w", err)
	}

	var audio []byte
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/synthesize", bytes.NewReader(body))
		if err != nil {
			return types.Upstream("tts", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.key != "" {
			req.Header.Set("Authorization", "Bearer "+c.key)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return types.Upstream("tts", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return types.Upstream("tts", fmt.Errorf("status %d", resp.StatusCode))
		}
		audio, err = io.ReadAll(resp.Body)
		if err != nil {
			return types.Upstream("tts", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}
