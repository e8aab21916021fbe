package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
)

func TestProbe_Success(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orig := deepgramProbeURL
	deepgramProbeURL = srv.URL
	defer func() { deepgramProbeURL = orig }()

	cfg := &config.Config{DeepgramAPIKey: "dg-test-key"}
	if err := Probe(context.Background(), cfg); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if gotAuth != "Token dg-test-key" {
		t.Errorf("Expected Token auth header, got %q", gotAuth)
	}
}

func TestProbe_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	orig := deepgramProbeURL
	deepgramProbeURL = srv.URL
	defer func() { deepgramProbeURL = orig }()

	cfg := &config.Config{DeepgramAPIKey: "bad-key"}
	if err := Probe(context.Background(), cfg); err == nil {
		t.Error("Expected probe to fail on 401")
	}
}

func TestProbe_Unreachable(t *testing.T) {
	orig := deepgramProbeURL
	deepgramProbeURL = "http://127.0.0.1:1/unreachable"
	defer func() { deepgramProbeURL = orig }()

	cfg := &config.Config{DeepgramAPIKey: "dg-test-key"}
	if err := Probe(context.Background(), cfg); err == nil {
		t.Error("Expected probe to fail when the API is unreachable")
	}
}
