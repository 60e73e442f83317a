// Package stt wraps the speech-to-text upstream: audio bytes in, a
// transcription out.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Transcription is the upstream's answer for one audio payload.
type Transcription struct {
	Text      string `json:"transcription"`
	LatencyMs int64  `json:"latency_ms"`
	Model     string `json:"model"`
}

// Client calls the transcription service.
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
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "stt"}),
	}
}

// Configured reports whether a transcription upstream is set.
func (c *Client) Configured() bool { return c != nil && c.base != "" }

// Transcribe sends audio to the upstream and returns the transcription.
func (c *Client) Transcribe(ctx context.Context, audio []byte) (Transcription, error) {
	if !c.Configured() {
		return Transcription{}, fmt.Errorf("stt: not configured: %w", types.ErrNotApplicable)
	}

	var out Transcription
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/transcribe", bytes.NewReader(audio))
		if err != nil {
			return types.Upstream("stt", err)
		}
		req.Header.Set("Content-Type", "application/octet-stream")
		if c.key != "" {
			req.Header.Set("Authorization", "Bearer "+c.key)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			return types.Upstream("stt", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return types.Upstream("stt", fmt.Errorf("status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return types.ParseFailed("stt", err)
		}
		return nil
	})
	if err != nil {
		return Transcription{}, err
	}
	return out, nil
}
