package stt

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/openhearth/hearth/internal/config"
	"github.com/openhearth/hearth/internal/types"
)

func TestTranscribe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/transcribe" {
			t.Errorf("path = %q", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "fake-audio" {
			t.Errorf("body = %q", body)
		}
		w.Write([]byte(`{"transcription":"what's the weather","latency_ms":120,"model":"whisper-small"}`))
	}))
	defer srv.Close()

	c := New(config.Endpoint{BaseURL: srv.URL})
	tr, err := c.Transcribe(context.Background(), []byte("fake-audio"))
	if err != nil {
		t.Fatal(err)
	}
	if tr.Text != "what's the weather" || tr.Model != "whisper-small" {
		t.Errorf("transcription = %+v", tr)
	}
}

func TestTranscribeUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := New(config.Endpoint{BaseURL: srv.URL})
	_, err := c.Transcribe(context.Background(), []byte("x"))
	if _, ok := types.IsUpstream(err); !ok {
		t.Fatalf("err = %v, want UpstreamError", err)
	}
}

func TestTranscribeUnconfigured(t *testing.T) {
	c := New(config.Endpoint{})
	_, err := c.Transcribe(context.Background(), []byte("x"))
	if !errors.Is(err, types.ErrNotApplicable) {
		t.Fatalf("err = %v, want ErrNotApplicable", err)
	}
}
