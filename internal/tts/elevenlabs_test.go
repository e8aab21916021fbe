package tts

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
)

func testTTSConfig() *config.Config {
	return &config.Config{
		ElevenLabsAPIKey:           "el-test-key",
		ElevenLabsVoiceID:          "29vD33N1CtxCmqQRPOHJ",
		ElevenLabsModelID:          "eleven_multilingual_v2",
		OutputSampleRate:           24000,
		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
	}
}

func TestStreamURL(t *testing.T) {
	c := NewElevenLabsClient(testTTSConfig())
	u := c.streamURL()

	if !strings.Contains(u, "/text-to-speech/29vD33N1CtxCmqQRPOHJ/stream") {
		t.Errorf("Expected voice ID in stream path, got %q", u)
	}
	if !strings.Contains(u, "output_format=pcm_24000") {
		t.Errorf("Expected pcm_24000 output format, got %q", u)
	}
}

func streamResponse(pcm []byte) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(bytes.NewReader(pcm)),
	}
}

func TestStreamAudio_InactiveBeforeChannelClose(t *testing.T) {
	c := NewElevenLabsClient(testTTSConfig())
	c.mu.Lock()
	c.isActive = true
	c.mu.Unlock()

	audioChan := make(chan *AudioChunk, 10)
	pcm := make([]byte, streamChunkBytes+200)
	go c.streamAudio(streamResponse(pcm), audioChan)

	for range audioChan {
	}

	// Once the channel closes the next utterance may start immediately, so
	// the client must already report inactive.
	if c.IsActive() {
		t.Error("Expected client to be inactive once the audio channel closed")
	}
}

func TestStreamAudio_ChunkSizes(t *testing.T) {
	c := NewElevenLabsClient(testTTSConfig())
	c.mu.Lock()
	c.isActive = true
	c.mu.Unlock()

	audioChan := make(chan *AudioChunk, 10)
	pcm := make([]byte, streamChunkBytes*2+101) // trailing odd byte gets trimmed
	go c.streamAudio(streamResponse(pcm), audioChan)

	var sizes []int
	total := 0
	for chunk := range audioChan {
		if chunk.SampleRate != 24000 || chunk.Channels != 1 {
			t.Errorf("Wrong chunk params: rate=%d channels=%d", chunk.SampleRate, chunk.Channels)
		}
		if len(chunk.Data)%2 != 0 {
			t.Errorf("Chunk holds a split sample: %d bytes", len(chunk.Data))
		}
		sizes = append(sizes, len(chunk.Data))
		total += len(chunk.Data)
	}

	if total != streamChunkBytes*2+100 {
		t.Errorf("Expected %d bytes total, got %d (chunks %v)", streamChunkBytes*2+100, total, sizes)
	}
}

func TestStreamAudio_StopCutsStream(t *testing.T) {
	c := NewElevenLabsClient(testTTSConfig())
	c.mu.Lock()
	c.isActive = true
	c.mu.Unlock()

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	audioChan := make(chan *AudioChunk, 10)
	pcm := make([]byte, streamChunkBytes*4)
	go c.streamAudio(streamResponse(pcm), audioChan)

	count := 0
	for range audioChan {
		count++
	}
	if count != 0 {
		t.Errorf("Expected no chunks after Stop, got %d", count)
	}
	if c.IsActive() {
		t.Error("Expected client to be inactive after a stopped stream")
	}
}

func TestProbe_Success(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("xi-api-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	orig := elevenLabsProbeURL
	elevenLabsProbeURL = srv.URL
	defer func() { elevenLabsProbeURL = orig }()

	if err := Probe(context.Background(), testTTSConfig()); err != nil {
		t.Fatalf("Expected probe to succeed, got %v", err)
	}
	if gotKey != "el-test-key" {
		t.Errorf("Expected xi-api-key header, got %q", gotKey)
	}
}

func TestProbe_BadKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	orig := elevenLabsProbeURL
	elevenLabsProbeURL = srv.URL
	defer func() { elevenLabsProbeURL = orig }()

	if err := Probe(context.Background(), testTTSConfig()); err == nil {
		t.Error("Expected probe to fail on 401")
	}
}
