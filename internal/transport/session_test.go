package transport

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/frames"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/tts"
)

func testConfig() *config.Config {
	return &config.Config{
		Port:             "3001",
		DeepgramAPIKey:   "test-key",
		OpenAIAPIKey:     "test-key",
		ElevenLabsAPIKey: "test-key",
		InputSampleRate:  16000,
		OutputSampleRate: 24000,
		AudioBufferSize:  32768,
		AddWAVHeader:     true,
		VADMinVolume:     0.6,
		VADStartSecs:     0.2,
		VADStopSecs:      1.2,
		VADConfidence:    0.7,
		VADFrameSamples:  320,

		CircuitBreakerMaxFailures:  5,
		CircuitBreakerResetTimeout: 30,
		RetryMaxAttempts:           3,
		RetryInitialBackoff:        100,
		ReconnectMaxAttempts:       1,
		ReconnectBackoff:           10,
	}
}

// dialSession upgrades a test connection and hands the server side to fn
func dialSession(t *testing.T, fn func(s *Session)) *websocket.Conn {
	t.Helper()

	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Upgrade failed: %v", err)
			return
		}
		session := NewSession(conn, testConfig(), "sess-1", "tok-1", "wss://unused.invalid/realtime")
		fn(session)
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestHandleUserAudioWS_MissingRealtimeEndpoint(t *testing.T) {
	srv := httptest.NewServer(HandleUserAudioWS(testConfig()))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "?session_id=abc")
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for missing realtime_endpoint, got %d", resp.StatusCode)
	}
}

func TestSession_TranscriptionFrameRoundTrip(t *testing.T) {
	client := dialSession(t, func(s *Session) {
		s.sendTranscriptionFrame("hello world")
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	frame, err := frames.Unmarshal(message)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	tr, ok := frame.(*frames.TranscriptionFrame)
	if !ok {
		t.Fatalf("Expected *TranscriptionFrame, got %T", frame)
	}
	if tr.Text != "hello world" {
		t.Errorf("Expected text 'hello world', got %q", tr.Text)
	}
	if tr.UserID != "user" {
		t.Errorf("Expected user ID 'user', got %q", tr.UserID)
	}
}

func TestSession_WriteLoopAddsWAVHeader(t *testing.T) {
	pcm := make([]byte, 480)
	for i := range pcm {
		pcm[i] = byte(i)
	}

	client := dialSession(t, func(s *Session) {
		go s.writeLoop()
		s.audioOut <- &tts.AudioChunk{Data: pcm, SampleRate: 24000, Channels: 1}
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	frame, err := frames.Unmarshal(message)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	af, ok := frame.(*frames.AudioFrame)
	if !ok {
		t.Fatalf("Expected *AudioFrame, got %T", frame)
	}
	if af.SampleRate != 24000 || af.NumChannels != 1 {
		t.Errorf("Wrong audio params: rate=%d channels=%d", af.SampleRate, af.NumChannels)
	}
	if len(af.Audio) != 44+len(pcm) {
		t.Fatalf("Expected %d bytes (header + payload), got %d", 44+len(pcm), len(af.Audio))
	}
	if string(af.Audio[0:4]) != "RIFF" {
		t.Error("Expected payload to start with a WAV header")
	}
	for i, b := range pcm {
		if af.Audio[44+i] != b {
			t.Fatalf("Payload byte %d mismatch", i)
		}
	}
}

func TestSession_InterruptDiscardsBufferedSentences(t *testing.T) {
	_ = dialSession(t, func(s *Session) {
		gen := s.turnGen.Load()

		// Sentences already buffered by the stream when the user interrupts
		buffered := make(chan string, 3)
		buffered <- "First sentence."
		buffered <- "Second sentence."
		close(buffered)

		s.turnGen.Add(1) // interruption lands before the forward loop drains

		if !s.forwardSentences(gen, buffered) {
			t.Fatal("Expected forwardSentences to finish draining the stream")
		}

		select {
		case sentence := <-s.sentenceQueue:
			t.Errorf("Expected no sentences from the interrupted turn, got %q", sentence)
		default:
		}
	})
}

func TestSession_ForwardSentencesCurrentTurn(t *testing.T) {
	_ = dialSession(t, func(s *Session) {
		gen := s.turnGen.Load()

		buffered := make(chan string, 2)
		buffered <- "Only sentence."
		close(buffered)

		if !s.forwardSentences(gen, buffered) {
			t.Fatal("Expected forwardSentences to finish draining the stream")
		}

		select {
		case sentence := <-s.sentenceQueue:
			if sentence != "Only sentence." {
				t.Errorf("Expected 'Only sentence.', got %q", sentence)
			}
		default:
			t.Error("Expected the current turn's sentence to be queued")
		}
	})
}

func TestSession_WriteLoopResamplesForClient(t *testing.T) {
	pcm := make([]byte, 480) // 240 samples at 24kHz

	client := dialSession(t, func(s *Session) {
		s.config.AddWAVHeader = false
		s.config.ClientSampleRate = 12000
		go s.writeLoop()
		s.audioOut <- &tts.AudioChunk{Data: pcm, SampleRate: 24000, Channels: 1}
	})

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := client.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage failed: %v", err)
	}

	frame, err := frames.Unmarshal(message)
	if err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	af, ok := frame.(*frames.AudioFrame)
	if !ok {
		t.Fatalf("Expected *AudioFrame, got %T", frame)
	}
	if af.SampleRate != 12000 {
		t.Errorf("Expected resampled rate 12000, got %d", af.SampleRate)
	}
	if len(af.Audio) != 240 {
		t.Errorf("Expected 240 bytes at half rate, got %d", len(af.Audio))
	}
}

func TestSession_EnqueueTranscription(t *testing.T) {
	_ = dialSession(t, func(s *Session) {
		s.enqueueTranscription("first")
		select {
		case got := <-s.transcriptionQueue:
			if got != "first" {
				t.Errorf("Expected 'first', got %q", got)
			}
		default:
			t.Error("Expected a queued transcription")
		}
	})
}

func TestSession_IsActive(t *testing.T) {
	_ = dialSession(t, func(s *Session) {
		if !s.IsActive() {
			t.Error("Expected a new session to be active")
		}
		if s.SessionID() != "sess-1" {
			t.Errorf("Expected session ID 'sess-1', got %q", s.SessionID())
		}
	})
}
