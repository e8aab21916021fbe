package stt

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	websocketv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket"
	msginterfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	listenClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/resilience"
)

// deepgramProbeURL answers authenticated GETs; var so tests can stub it
var deepgramProbeURL = "https://api.deepgram.com/v1/projects"

// Probe verifies the Deepgram API is reachable with the configured key.
// Used by the readiness endpoint.
func Probe(ctx context.Context, cfg *config.Config) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, deepgramProbeURL, nil)
	if err != nil {
		return fmt.Errorf("failed to build Deepgram probe request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+cfg.DeepgramAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("deepgram unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("deepgram probe returned status %d", resp.StatusCode)
	}
	return nil
}

// messageCallbackHandler implements the LiveMessageCallback interface.
// It embeds the SDK default handler and overrides only what we customize.
type messageCallbackHandler struct {
	*websocketv1api.DefaultCallbackHandler
	handler      func(*msginterfaces.MessageResponse)
	errorHandler func(*msginterfaces.ErrorResponse) error
}

// Message routes transcription results into our channel
func (m *messageCallbackHandler) Message(message *msginterfaces.MessageResponse) error {
	m.handler(message)
	return nil
}

// Error applies our custom error handling
func (m *messageCallbackHandler) Error(errorResponse *msginterfaces.ErrorResponse) error {
	if m.errorHandler != nil {
		return m.errorHandler(errorResponse)
	}
	return m.DefaultCallbackHandler.Error(errorResponse)
}

// DeepgramClient implements STTClient using Deepgram's live streaming API
type DeepgramClient struct {
	config         *config.Config
	client         *listenClient.WSCallback
	transcript     chan *TranscriptionResult
	mu             sync.RWMutex
	isActive       bool
	ctx            context.Context
	cancel         context.CancelFunc
	circuitBreaker *resilience.CircuitBreaker
}

// NewDeepgramClient creates a Deepgram streaming client
func NewDeepgramClient(cfg *config.Config) *DeepgramClient {
	ctx, cancel := context.WithCancel(context.Background())

	circuitBreaker := resilience.NewCircuitBreaker(
		"deepgram",
		cfg.CircuitBreakerMaxFailures,
		time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
	)

	return &DeepgramClient{
		config:         cfg,
		transcript:     make(chan *TranscriptionResult, 100),
		ctx:            ctx,
		cancel:         cancel,
		circuitBreaker: circuitBreaker,
	}
}

// Start begins a new Deepgram streaming transcription session
func (d *DeepgramClient) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.isActive {
		return fmt.Errorf("deepgram client is already active")
	}

	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.config.DeepgramModel,
		Language:       d.config.DeepgramLanguage,
		SmartFormat:    true,
		InterimResults: true,
		UtteranceEndMs: "1000",
		VadEvents:      true,
		Encoding:       "linear16",
		Channels:       1,
		SampleRate:     d.config.InputSampleRate,
	}

	callback := &messageCallbackHandler{
		DefaultCallbackHandler: websocketv1api.NewDefaultCallbackHandler(),
		handler:                d.handleMessage,
		errorHandler: func(errorResponse *msginterfaces.ErrorResponse) error {
			log := observability.GetLogger()
			log.Error().Msgf("Deepgram stream error: %+v", errorResponse)

			d.circuitBreaker.RecordResult(false)
			observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
			observability.IncrementCircuitBreakerFailures("deepgram")

			select {
			case <-d.ctx.Done():
				return nil
			default:
				d.mu.Lock()
				d.isActive = false
				d.mu.Unlock()
				go d.attemptReconnect()
			}
			return nil
		},
	}

	client, err := listenClient.NewWSUsingCallback(
		d.ctx,
		d.config.DeepgramAPIKey,
		nil, // ClientOptions - nil uses defaults
		tOptions,
		callback,
	)
	if err != nil {
		return fmt.Errorf("failed to create Deepgram client: %w", err)
	}

	d.client = client
	d.isActive = true

	d.circuitBreaker.RecordResult(true)
	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))

	logger := observability.GetLogger()
	logger.Info().
		Str("model", d.config.DeepgramModel).
		Str("language", d.config.DeepgramLanguage).
		Int("sample_rate", d.config.InputSampleRate).
		Msg("Deepgram streaming client started")
	return nil
}

// handleMessage processes messages from Deepgram
func (d *DeepgramClient) handleMessage(msg *msginterfaces.MessageResponse) {
	if msg == nil {
		return
	}

	log := observability.GetLogger()

	switch msg.Type {
	case "Metadata":
		log.Debug().Msg("Deepgram metadata received")

	case "SpeechStarted":
		log.Debug().Msg("Deepgram speech started")

	case "UtteranceEnd":
		log.Debug().Msg("Deepgram utterance ended")

	case "Results", "Message":
		if len(msg.Channel.Alternatives) == 0 {
			return
		}

		alt := msg.Channel.Alternatives[0]
		if alt.Transcript == "" {
			return
		}

		startTime := msg.Start
		duration := msg.Duration
		if len(alt.Words) > 0 && duration == 0 {
			startTime = alt.Words[0].Start
			lastWord := alt.Words[len(alt.Words)-1]
			duration = lastWord.End - startTime
		}

		result := &TranscriptionResult{
			Text:       alt.Transcript,
			IsFinal:    msg.IsFinal,
			Confidence: alt.Confidence,
			StartTime:  startTime,
			Duration:   duration,
		}

		select {
		case d.transcript <- result:
		default:
			log.Warn().Msg("Transcript channel full, dropping transcription")
		}

	default:
		log.Debug().Str("type", msg.Type).Msg("Deepgram unknown message type")
	}
}

// SendAudio sends an audio chunk to Deepgram
func (d *DeepgramClient) SendAudio(audioData []byte) error {
	err := d.circuitBreaker.Call(func() error {
		d.mu.RLock()
		active := d.isActive
		client := d.client
		d.mu.RUnlock()

		if !active || client == nil {
			return fmt.Errorf("deepgram client is not active")
		}

		if _, err := client.Write(audioData); err != nil {
			go d.attemptReconnect()
			return fmt.Errorf("failed to send audio to Deepgram: %w", err)
		}
		return nil
	})

	observability.UpdateCircuitBreakerState("deepgram", int(d.circuitBreaker.GetState()))
	if err != nil {
		observability.IncrementCircuitBreakerFailures("deepgram")
	}
	return err
}

func (d *DeepgramClient) attemptReconnect() {
	select {
	case <-d.ctx.Done():
		return
	default:
	}

	d.mu.RLock()
	alreadyActive := d.isActive
	d.mu.RUnlock()
	if alreadyActive {
		return
	}

	reconnectConfig := &resilience.ReconnectConfig{
		MaxAttempts: d.config.ReconnectMaxAttempts,
		Backoff:     time.Duration(d.config.ReconnectBackoff) * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  30 * time.Second,
	}

	log := observability.GetLogger()
	if err := resilience.Reconnect(d.ctx, d.Start, reconnectConfig); err != nil {
		log.Error().Err(err).Msg("Failed to reconnect Deepgram client")
	} else {
		log.Info().Msg("Reconnected Deepgram client")
	}
}

// Transcripts returns the channel of transcription results
func (d *DeepgramClient) Transcripts() <-chan *TranscriptionResult {
	return d.transcript
}

// Stop stops the Deepgram streaming session
func (d *DeepgramClient) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.isActive {
		return nil
	}

	d.client.Finish()
	d.isActive = false
	return nil
}

// Close closes the client and cleans up resources
func (d *DeepgramClient) Close() error {
	d.cancel() // stop any reconnection attempts

	if err := d.Stop(); err != nil {
		return err
	}

	// Close the transcript channel after a short delay to let pending
	// reads drain.
	go func() {
		time.Sleep(100 * time.Millisecond)
		close(d.transcript)
	}()

	return nil
}

// IsActive returns whether the client is currently active
func (d *DeepgramClient) IsActive() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.isActive
}
