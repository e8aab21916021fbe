package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
)

func testLLMConfig() *config.Config {
	return &config.Config{
		OpenAIAPIKey:               "test-key",
		OpenAIModel:                "gpt-4o-mini",
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           1,
		RetryInitialBackoff:        1,
	}
}

// testClient points an OpenAIClient at a local stub server
func testClient(baseURL string) *OpenAIClient {
	c := NewOpenAIClient(testLLMConfig())
	clientConfig := openai.DefaultConfig("test-key")
	clientConfig.BaseURL = baseURL
	c.client = openai.NewClientWithConfig(clientConfig)
	return c
}

func sseHandler(deltas []string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, delta := range deltas {
			fmt.Fprintf(w, "data: {\"choices\":[{\"delta\":{\"content\":%q}}]}\n\n", delta)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}
}

func TestStreamResponse_EmitsSentencesAndRecordsHistory(t *testing.T) {
	srv := httptest.NewServer(sseHandler([]string{"Hello there. ", "How are ", "you?"}))
	defer srv.Close()

	c := testClient(srv.URL)
	sentences, err := c.StreamResponse(context.Background(), "hi")
	if err != nil {
		t.Fatalf("StreamResponse failed: %v", err)
	}

	var got []string
	for sentence := range sentences {
		got = append(got, sentence)
	}
	want := []string{"Hello there.", "How are you?"}
	if len(got) != len(want) {
		t.Fatalf("Expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Sentence %d: expected %q, got %q", i, want[i], got[i])
		}
	}

	history := c.History()
	if len(history) != 3 {
		t.Fatalf("Expected system+user+assistant in history, got %d messages", len(history))
	}
	if history[1].Role != openai.ChatMessageRoleUser || history[1].Content != "hi" {
		t.Errorf("Expected user turn 'hi', got %+v", history[1])
	}
	if history[2].Role != openai.ChatMessageRoleAssistant {
		t.Errorf("Expected assistant turn, got %+v", history[2])
	}
	if history[2].Content != "Hello there. How are you?" {
		t.Errorf("Expected full assistant reply, got %q", history[2].Content)
	}
}

func TestStreamResponse_FailedRequestLeavesHistoryClean(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	if _, err := c.StreamResponse(context.Background(), "hi"); err == nil {
		t.Fatal("Expected an error from the failed stream")
	}

	// A failed request must not leave the user turn behind, or a retried
	// utterance shows up twice in the conversation context.
	history := c.History()
	if len(history) != 1 {
		t.Fatalf("Expected only the system prompt in history, got %d messages", len(history))
	}
	if history[0].Role != openai.ChatMessageRoleSystem {
		t.Errorf("Expected system message, got %+v", history[0])
	}

	// The same utterance retried after recovery appears exactly once
	srv2 := httptest.NewServer(sseHandler([]string{"Sure."}))
	defer srv2.Close()
	clientConfig := openai.DefaultConfig("test-key")
	clientConfig.BaseURL = srv2.URL
	c.client = openai.NewClientWithConfig(clientConfig)

	sentences, err := c.StreamResponse(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Retried StreamResponse failed: %v", err)
	}
	for range sentences {
	}

	history = c.History()
	userTurns := 0
	for _, msg := range history {
		if msg.Role == openai.ChatMessageRoleUser {
			userTurns++
		}
	}
	if userTurns != 1 {
		t.Errorf("Expected the retried utterance once in history, got %d user turns", userTurns)
	}
}

func TestProbe_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"invalid api key"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	orig := openaiProbeBaseURL
	openaiProbeBaseURL = srv.URL
	defer func() { openaiProbeBaseURL = orig }()

	if err := Probe(context.Background(), testLLMConfig()); err == nil {
		t.Error("Expected probe to fail on 401")
	}
}

func TestProbe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"object":"list","data":[]}`)
	}))
	defer srv.Close()

	orig := openaiProbeBaseURL
	openaiProbeBaseURL = srv.URL
	defer func() { openaiProbeBaseURL = orig }()

	if err := Probe(context.Background(), testLLMConfig()); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
}
