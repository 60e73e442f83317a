package homectl

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

func TestExtract(t *testing.T) {
	in := types.Intent{
		Category: types.CategoryHomeControl,
		Entities: map[string]string{"action": "set", "device": "thermostat", "area": "living room", "value": "72"},
	}
	call, err := Extract(in, "office")
	if err != nil {
		t.Fatal(err)
	}
	if call.Area != "living room" || call.DeviceKind != "thermostat" || call.Action != "set" {
		t.Fatalf("call = %+v", call)
	}
	if call.Parameters["value"] != "72" {
		t.Errorf("value = %q", call.Parameters["value"])
	}
}

func TestExtractZoneFallback(t *testing.T) {
	in := types.Intent{
		Category: types.CategoryHomeControl,
		Entities: map[string]string{"action": "turn_on", "device": "light"},
	}
	call, err := Extract(in, "office")
	if err != nil {
		t.Fatal(err)
	}
	if call.Area != "office" {
		t.Errorf("area = %q, want zone fallback", call.Area)
	}
}

func TestExtractIncomplete(t *testing.T) {
	in := types.Intent{Category: types.CategoryHomeControl, Entities: map[string]string{"action": "turn_on"}}
	if _, err := Extract(in, ""); !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}

func TestExecute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/call" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			EntityID string `json:"entity_id"`
			Action   string `json:"action"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.EntityID != "light.living_room" || body.Action != "turn_on" {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte(`{"success":true,"response":"Living room lights on."}`))
	}))
	defer srv.Close()

	c := NewClient(config.Endpoint{BaseURL: srv.URL})
	got, err := c.Execute(context.Background(), Call{Area: "living room", DeviceKind: "light", Action: "turn_on"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Living room lights on." {
		t.Errorf("ack = %q", got)
	}
}

func TestExecuteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"response":"unknown entity"}`))
	}))
	defer srv.Close()

	c := NewClient(config.Endpoint{BaseURL: srv.URL})
	_, err := c.Execute(context.Background(), Call{DeviceKind: "light", Action: "turn_on"})
	if _, ok := types.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
}

func TestExecuteDefaultAck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	c := NewClient(config.Endpoint{BaseURL: srv.URL})
	got, err := c.Execute(context.Background(), Call{Area: "kitchen", DeviceKind: "light", Action: "turn_off"})
	if err != nil {
		t.Fatal(err)
	}
	if got != "Okay, turning off the kitchen light." {
		t.Errorf("ack = %q", got)
	}
}

func TestDevices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("kind"); got != "light" {
			t.Errorf("kind = %q", got)
		}
		w.Write([]byte(`{"devices":[
			{"entity_id":"light.kitchen","name":"Kitchen","area":"kitchen"},
			{"entity_id":"light.office","name":"Office","area":"office"}]}`))
	}))
	defer srv.Close()

	c := NewClient(config.Endpoint{BaseURL: srv.URL})
	devices, err := c.Devices(context.Background(), "light", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 2 {
		t.Fatalf("got %d devices, want 2", len(devices))
	}
}

func TestUnconfigured(t *testing.T) {
	c := NewClient(config.Endpoint{})
	if _, err := c.Execute(context.Background(), Call{DeviceKind: "light", Action: "turn_on"}); !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}
