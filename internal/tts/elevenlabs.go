package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/resilience"
)

const elevenLabsBaseURL = "https://api.elevenlabs.io/v1/text-to-speech"

// elevenLabsProbeURL answers authenticated GETs; var so tests can stub it
var elevenLabsProbeURL = "https://api.elevenlabs.io/v1/user"

// streamChunkBytes controls how much PCM is forwarded per chunk; 4800
// bytes is 100ms at 24kHz mono.
const streamChunkBytes = 4800

// ElevenLabsClient implements TTSClient against the ElevenLabs streaming
// endpoint, requesting raw PCM at the configured output rate.
type ElevenLabsClient struct {
	config         *config.Config
	apiKey         string
	voiceID        string
	modelID        string
	httpClient     *http.Client
	circuitBreaker *resilience.CircuitBreaker

	mu       sync.RWMutex
	isActive bool
	stopped  bool
}

// VoiceSettings mirrors the voice_settings payload of the synthesis API
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type synthesizeRequest struct {
	Text          string        `json:"text"`
	ModelID       string        `json:"model_id,omitempty"`
	VoiceSettings VoiceSettings `json:"voice_settings"`
}

// NewElevenLabsClient creates an ElevenLabs TTS client
func NewElevenLabsClient(cfg *config.Config) *ElevenLabsClient {
	return &ElevenLabsClient{
		config:     cfg,
		apiKey:     cfg.ElevenLabsAPIKey,
		voiceID:    cfg.ElevenLabsVoiceID,
		modelID:    cfg.ElevenLabsModelID,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		circuitBreaker: resilience.NewCircuitBreaker(
			"elevenlabs",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
	}
}

func (c *ElevenLabsClient) streamURL() string {
	base, _ := url.Parse(fmt.Sprintf("%s/%s/stream", elevenLabsBaseURL, c.voiceID))
	q := base.Query()
	q.Set("output_format", fmt.Sprintf("pcm_%d", c.config.OutputSampleRate))
	base.RawQuery = q.Encode()
	return base.String()
}

// Synthesize converts text to audio, streaming PCM chunks on the returned
// channel as they arrive from the API.
func (c *ElevenLabsClient) Synthesize(text string) (<-chan *AudioChunk, error) {
	c.mu.Lock()
	if c.isActive {
		c.mu.Unlock()
		return nil, fmt.Errorf("elevenlabs client is already synthesizing")
	}
	c.isActive = true
	c.stopped = false
	c.mu.Unlock()

	payload := synthesizeRequest{
		Text:    text,
		ModelID: c.modelID,
		VoiceSettings: VoiceSettings{
			Stability:       0.75,
			SimilarityBoost: 0.7,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		c.setInactive()
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequest(http.MethodPost, c.streamURL(), bytes.NewReader(body))
	if err != nil {
		c.setInactive()
		return nil, fmt.Errorf("failed to build synthesis request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	var resp *http.Response
	err = c.circuitBreaker.Call(func() error {
		var doErr error
		resp, doErr = c.httpClient.Do(req)
		if doErr != nil {
			return doErr
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("elevenlabs API returned status %d", resp.StatusCode)
		}
		return nil
	})
	observability.UpdateCircuitBreakerState("elevenlabs", int(c.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("elevenlabs")
		c.setInactive()
		return nil, fmt.Errorf("synthesis request failed: %w", err)
	}

	audioChan := make(chan *AudioChunk, 10)
	go c.streamAudio(resp, audioChan)
	return audioChan, nil
}

func (c *ElevenLabsClient) streamAudio(resp *http.Response, audioChan chan<- *AudioChunk) {
	defer func() {
		resp.Body.Close()
		// The consumer treats a closed channel as end-of-utterance and may
		// call Synthesize again immediately, so the active flag must drop
		// before the channel closes.
		c.setInactive()
		close(audioChan)
	}()

	log := observability.GetLogger()
	buf := make([]byte, streamChunkBytes)

	for {
		c.mu.RLock()
		stopped := c.stopped
		c.mu.RUnlock()
		if stopped {
			log.Debug().Msg("TTS synthesis stopped mid-stream")
			return
		}

		n, err := io.ReadFull(resp.Body, buf)
		if n > 0 {
			// PCM frames are 2 bytes; never emit a split sample
			n -= n % 2
			chunk := &AudioChunk{
				Data:       append([]byte(nil), buf[:n]...),
				SampleRate: c.config.OutputSampleRate,
				Channels:   1,
			}
			select {
			case audioChan <- chunk:
			default:
				log.Warn().Msg("TTS audio channel full, dropping chunk")
			}
		}
		if err != nil {
			if err != io.EOF && err != io.ErrUnexpectedEOF {
				log.Error().Err(err).Msg("Error reading synthesis stream")
			}
			return
		}
	}
}

func (c *ElevenLabsClient) setInactive() {
	c.mu.Lock()
	c.isActive = false
	c.mu.Unlock()
}

// Stop aborts any ongoing synthesis
func (c *ElevenLabsClient) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.isActive {
		return nil
	}
	c.stopped = true
	return nil
}

// Close closes the client and cleans up resources
func (c *ElevenLabsClient) Close() error {
	return c.Stop()
}

// Probe verifies the ElevenLabs API is reachable with the configured key.
// Used by the readiness endpoint.
func Probe(ctx context.Context, cfg *config.Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, elevenLabsProbeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build ElevenLabs probe request: %w", err)
	}
	req.Header.Set("xi-api-key", cfg.ElevenLabsAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("elevenlabs unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("elevenlabs probe returned status %d", resp.StatusCode)
	}
	return nil
}

// IsActive returns whether the client is currently synthesizing
func (c *ElevenLabsClient) IsActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isActive
}
