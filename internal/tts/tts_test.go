package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

func TestSynthesize(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/synthesize" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var body struct {
			Text         string `json:"text"`
			VoiceProfile string `json:"voice_profile"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatal(err)
		}
		if body.Text != "Hello." || body.VoiceProfile != "calm" {
			t.Errorf("body = %+v", body)
		}
		w.Write([]byte{0x52, 0x49, 0x46, 0x46})
	}))
	defer srv.Close()

	c := New(config.Endpoint{BaseURL: srv.URL})
	audio, err := c.Synthesize(context.Background(), "Hello.", "calm", "")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(audio, []byte{0x52, 0x49, 0x46, 0x46}) {
		t.Errorf("audio = %v", audio)
	}
}

func TestSynthesizeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(config.Endpoint{BaseURL: srv.URL})
	_, err := c.Synthesize(context.Background(), "hi", "", "")
	if _, ok := types.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
}
