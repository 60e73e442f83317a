// Package homectl implements the function-call path for home_control
// intents: an extractor that turns intent entities into a concrete device
// call, and an HTTP client for the home-control plane. A successful call
// skips the LLM entirely; the control plane's acknowledgement becomes the
// response.
package homectl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/resilience"
	"github.com/openhearth/hearth/internal/types"
)

// Call is one extracted device operation.
type Call struct {
	Area       string            `json:"area"`
	DeviceKind string            `json:"device_kind"`
	Action     string            `json:"action"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

// Extract builds a Call from a classified home_control intent. The spoken
// area wins; the request's zone is the fallback target. Extraction fails
// with [types.ErrNotApplicable] when no action or device kind was
// recognised, in which case the caller escalates.
func Extract(in types.Intent, zone string) (Call, error) {
	if in.Category != types.CategoryHomeControl {
		return Call{}, fmt.Errorf("homectl: not a device intent: %w", types.ErrNotApplicable)
	}
	action := in.Entities["action"]
	kind := in.Entities["device"]
	if action == "" || kind == "" {
		return Call{}, fmt.Errorf("homectl: incomplete command: %w", types.ErrNotApplicable)
	}

	area := in.Entities["area"]
	if area == "" {
		area = zone
	}
	c := Call{Area: area, DeviceKind: kind, Action: action}
	if v := in.Entities["value"]; v != "" {
		c.Parameters = map[string]string{"value": v}
	}
	return c, nil
}

// Device is one controllable entity known to the control plane.
type Device struct {
	EntityID string `json:"entity_id"`
	Name     string `json:"name"`
	Area     string `json:"area"`
}

// Client talks to the home-control plane.
type Client struct {
	base    string
	key     string
	hc      *http.Client
	breaker *resilience.CircuitBreaker
}

// NewClient creates a control-plane client from endpoint configuration.
func NewClient(ep config.Endpoint) *Client {
	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		base:    strings.TrimRight(ep.BaseURL, "/"),
		key:     ep.APIKey,
		hc:      &http.Client{Timeout: timeout},
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "control_plane"}),
	}
}

// Configured reports whether a control plane is reachable by configuration.
func (c *Client) Configured() bool { return c != nil && c.base != "" }

// Devices lists controllable entities matching kind, optionally filtered by
// area. Used for the multi-match check and for dynamic clarification
// options.
func (c *Client) Devices(ctx context.Context, kind, area string) ([]Device, error) {
	if !c.Configured() {
		return nil, fmt.Errorf("homectl: control plane not configured: %w", types.ErrNotApplicable)
	}
	q := url.Values{"kind": {kind}}
	if area != "" {
		q.Set("area", area)
	}

	var reply struct {
		Devices []Device `json:"devices"`
	}
	err := c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/devices?"+q.Encode(), nil)
		if err != nil {
			return types.Upstream("control_plane", err)
		}
		c.auth(req)
		resp, err := c.hc.Do(req)
		if err != nil {
			return types.Upstream("control_plane", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return types.Upstream("control_plane", fmt.Errorf("status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return types.ParseFailed("control_plane", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return reply.Devices, nil
}

// Execute resolves the call to a concrete entity and performs it. The
// acknowledgement string is what the user hears.
func (c *Client) Execute(ctx context.Context, call Call) (string, error) {
	if !c.Configured() {
		return "", fmt.Errorf("homectl: control plane not configured: %w", types.ErrNotApplicable)
	}

	body, err := json.Marshal(struct {
		EntityID   string            `json:"entity_id"`
		Action     string            `json:"action"`
		Parameters map[string]string `json:"parameters,omitempty"`
	}{
		EntityID:   entityID(call),
		Action:     call.Action,
		Parameters: call.Parameters,
	})
	if err != nil {
		return "", fmt.Errorf("homectl: encode call: %w", err)
	}

	var reply struct {
		Success  bool   `json:"success"`
		Response string `json:"response"`
	}
	err = c.breaker.Execute(func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/call", bytes.NewReader(body))
		if err != nil {
			return types.Upstream("control_plane", err)
		}
		req.Header.Set("Content-Type", "application/json")
		c.auth(req)

		resp, err := c.hc.Do(req)
		if err != nil {
			return types.Upstream("control_plane", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return types.Upstream("control_plane", fmt.Errorf("status %d", resp.StatusCode))
		}
		if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
			return types.ParseFailed("control_plane", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if !reply.Success {
		return "", types.Upstream("control_plane", fmt.Errorf("call rejected: %s", reply.Response))
	}
	if reply.Response != "" {
		return reply.Response, nil
	}
	return ack(call), nil
}

func (c *Client) auth(req *http.Request) {
	if c.key != "" {
		req.Header.Set("Authorization", "Bearer "+c.key)
	}
}

// entityID derives the control-plane entity identifier from the call:
// "{kind}.{area}" with spaces underscored, or "{kind}.all" when no area is
// known.
func entityID(call Call) string {
	area := strings.ReplaceAll(strings.TrimSpace(call.Area), " ", "_")
	if area == "" {
		area = "all"
	}
	return call.DeviceKind + "." + area
}

// ack builds the spoken confirmation when the control plane returns none.
func ack(call Call) string {
	device := call.DeviceKind
	if call.Area != "" {
		device = call.Area + " " + device
	}
	switch call.Action {
	case "turn_on":
		return fmt.Sprintf("Okay, turning on the %s.", device)
	case "turn_off":
		return fmt.Sprintf("Okay, turning off the %s.", device)
	case "set":
		if v := call.Parameters["value"]; v != "" {
			return fmt.Sprintf("Okay, setting the %s to %s.", device, v)
		}
	}
	return fmt.Sprintf("Okay, done with the %s.", device)
}
