package transport

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/audio"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/avatar"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/frames"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/llm"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/stt"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/tts"
)

// Session holds the state of one realtime avatar conversation
type Session struct {
	// Connection
	conn    *websocket.Conn
	writeMu sync.Mutex // gorilla allows one concurrent writer

	// Session identifiers
	sessionID        string
	realtimeEndpoint string
	userID           string

	// State management
	mu          sync.RWMutex
	isActive    bool
	botSpeaking bool

	// Audio plumbing
	audioIn  chan []byte          // Decoded PCM from the client
	audioOut chan *tts.AudioChunk // Synthesized audio for the client

	// VAD framing: incoming chunks are arbitrary sizes, the detector
	// wants fixed frames
	vadDetector *audio.VADDetector
	vadBuffer   *audio.RingBuffer

	// Pipeline stages
	sttClient    stt.STTClient
	llmClient    *llm.OpenAIClient
	ttsClient    tts.TTSClient
	avatarClient *avatar.Client

	// Finalized user utterances ready for the LLM
	transcriptionQueue chan string

	// Complete LLM sentences ready for synthesis
	sentenceQueue chan string

	// Configuration
	config *config.Config

	// Observability
	metrics *observability.Metrics
	logger  zerolog.Logger

	// Control
	done     chan struct{}
	doneOnce sync.Once
	errChan  chan error

	// turnGen increments on every interruption; sentences streamed for an
	// older generation are discarded instead of spoken.
	turnGen atomic.Uint64
}

// NewSession wires up the pipeline stages for one connection
func NewSession(conn *websocket.Conn, cfg *config.Config, sessionID, sessionToken, realtimeEndpoint string) *Session {
	if sessionID == "" {
		sessionID = uuid.New().String()
	}

	vadConfig := &audio.VADConfig{
		MinVolume:    cfg.VADMinVolume,
		StartSecs:    cfg.VADStartSecs,
		StopSecs:     cfg.VADStopSecs,
		Confidence:   cfg.VADConfidence,
		FrameSamples: cfg.VADFrameSamples,
		SampleRate:   cfg.InputSampleRate,
	}

	logger := observability.WithSession(sessionID)
	metrics := observability.NewSessionMetrics(sessionID)
	metrics.RecordSessionStart()

	return &Session{
		conn:               conn,
		sessionID:          sessionID,
		realtimeEndpoint:   realtimeEndpoint,
		userID:             "user",
		audioIn:            make(chan []byte, 100),
		audioOut:           make(chan *tts.AudioChunk, 100),
		vadDetector:        audio.NewVADDetector(vadConfig),
		vadBuffer:          audio.NewRingBuffer(cfg.AudioBufferSize),
		sttClient:          stt.NewDeepgramClient(cfg),
		llmClient:          llm.NewOpenAIClient(cfg),
		ttsClient:          tts.NewElevenLabsClient(cfg),
		avatarClient:       avatar.NewClient(cfg, sessionID, sessionToken, realtimeEndpoint),
		transcriptionQueue: make(chan string, 50),
		sentenceQueue:      make(chan string, 50),
		config:             cfg,
		metrics:            metrics,
		logger:             logger,
		done:               make(chan struct{}),
		errChan:            make(chan error, 1),
		isActive:           true,
	}
}

// Run starts the pipeline goroutines and blocks until the session ends
func (s *Session) Run(ctx context.Context) {
	if err := s.sttClient.Start(); err != nil {
		s.logger.Error().Err(err).Msg("Failed to start STT client")
		s.metrics.RecordError("stt_start_error", "stt")
		// Reconnect logic inside the client may still recover
	}

	if err := s.avatarClient.Connect(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Avatar endpoint unavailable, continuing audio-only")
		s.metrics.RecordError("avatar_connect_error", "avatar")
	}

	go s.readLoop()
	go s.processIncomingAudio()
	go s.processTranscripts()
	go s.processCompletions()
	go s.processSynthesis()
	go s.writeLoop()

	select {
	case <-ctx.Done():
		s.shutdown()
	case <-s.done:
	case err := <-s.errChan:
		s.logger.Error().Err(err).Msg("Session error")
		s.shutdown()
	}
}

// shutdown tears the session down exactly once
func (s *Session) shutdown() {
	s.doneOnce.Do(func() {
		s.mu.Lock()
		s.isActive = false
		s.mu.Unlock()

		if err := s.sttClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing STT client")
		}
		if err := s.ttsClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing TTS client")
		}
		if err := s.llmClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing LLM client")
		}
		if err := s.avatarClient.Close(); err != nil {
			s.logger.Warn().Err(err).Msg("Error closing avatar client")
		}

		s.metrics.RecordSessionEnd()
		close(s.done)
	})
}

// readLoop drains the client WebSocket and routes decoded frames
func (s *Session) readLoop() {
	defer s.shutdown()

	for {
		if !s.IsActive() {
			return
		}

		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn().Err(err).Msg("WebSocket read error")
			} else {
				s.logger.Info().Msg("Client disconnected")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := frames.Unmarshal(message)
		if err != nil {
			s.logger.Error().Err(err).Msg("Failed to decode client frame")
			s.metrics.RecordError("frame_decode_error", "transport")
			continue
		}

		switch f := frame.(type) {
		case *frames.AudioFrame:
			select {
			case s.audioIn <- f.Audio:
			default:
				s.logger.Warn().Msg("Audio ingest channel full, dropping chunk")
			}

		case *frames.TextFrame:
			// Typed input skips STT and goes straight to the LLM
			if f.Text != "" {
				s.enqueueTranscription(f.Text)
			}

		case *frames.TranscriptionFrame:
			if f.Text != "" {
				s.enqueueTranscription(f.Text)
			}
		}
	}
}

// processIncomingAudio feeds client audio through VAD and on to STT
func (s *Session) processIncomingAudio() {
	frameBytes := s.config.VADFrameSamples * 2
	frameBuf := make([]byte, frameBytes)

	for {
		select {
		case chunk := <-s.audioIn:
			s.metrics.RecordAudioBytes("in", int64(len(chunk)))

			// VAD runs on fixed-size frames carved from the stream
			s.vadBuffer.Write(chunk)
			for s.vadBuffer.Available() >= frameBytes {
				if n := s.vadBuffer.Read(frameBuf); n < frameBytes {
					break
				}
				samples, err := audio.BytesToSamples(frameBuf)
				if err != nil {
					continue
				}
				_, speechStarted, speechEnded := s.vadDetector.ProcessFrame(samples)
				if speechStarted {
					s.handleUserSpeechStart()
				}
				if speechEnded {
					s.logger.Debug().Msg("User speech ended")
				}
			}

			// Audio passes through to STT regardless of VAD state;
			// Deepgram runs its own endpointing
			if err := s.sttClient.SendAudio(chunk); err != nil {
				s.logger.Error().Err(err).Msg("Error sending audio to STT")
				s.metrics.RecordError("stt_send_error", "stt")
			}

		case <-s.done:
			return
		}
	}
}

// handleUserSpeechStart interrupts any bot output when the user starts talking
func (s *Session) handleUserSpeechStart() {
	s.metrics.RecordSTTStart()

	s.mu.RLock()
	botSpeaking := s.botSpeaking
	s.mu.RUnlock()
	if !botSpeaking && !s.ttsClient.IsActive() {
		return
	}

	s.logger.Info().Msg("User speech detected, interrupting bot")
	s.metrics.RecordInterruption()
	s.turnGen.Add(1)

	if err := s.ttsClient.Stop(); err != nil {
		s.logger.Error().Err(err).Msg("Error stopping TTS")
	}
	s.llmClient.Interrupt()
	if err := s.avatarClient.Interrupt(); err != nil {
		s.logger.Warn().Err(err).Msg("Error sending avatar interrupt")
	}

	// Discard queued sentences and audio from the cancelled turn
	s.drainPending()

	s.mu.Lock()
	s.botSpeaking = false
	s.mu.Unlock()
}

func (s *Session) drainPending() {
	for {
		select {
		case <-s.sentenceQueue:
		case <-s.audioOut:
		default:
			return
		}
	}
}

// processTranscripts consumes STT results and queues finalized utterances
func (s *Session) processTranscripts() {
	var lastFinalText string

	for {
		select {
		case result := <-s.sttClient.Transcripts():
			if result == nil {
				s.logger.Debug().Msg("Transcript channel closed")
				return
			}

			if !result.IsFinal {
				s.logger.Debug().Str("text", result.Text).Msg("Interim transcription")
				continue
			}

			// Deepgram occasionally repeats finals
			if result.Text == "" || result.Text == lastFinalText {
				continue
			}
			lastFinalText = result.Text
			s.metrics.RecordSTTEnd(true)

			s.logger.Info().
				Str("text", result.Text).
				Float64("confidence", result.Confidence).
				Msg("Final transcription")

			// Mirror the transcription to the client for display
			s.sendTranscriptionFrame(result.Text)

			s.enqueueTranscription(result.Text)

		case <-s.done:
			return
		}
	}
}

func (s *Session) enqueueTranscription(text string) {
	select {
	case s.transcriptionQueue <- text:
	default:
		s.logger.Warn().Str("text", text).Msg("Transcription queue full, dropping")
	}
}

// processCompletions sends utterances to the LLM and queues reply sentences
func (s *Session) processCompletions() {
	for {
		select {
		case utterance := <-s.transcriptionQueue:
			gen := s.turnGen.Load()
			s.metrics.RecordLLMStart()

			sentenceChan, err := s.llmClient.StreamResponse(context.Background(), utterance)
			if err != nil {
				s.logger.Error().Err(err).Msg("Error starting completion stream")
				s.metrics.RecordLLMEnd(false)
				s.metrics.RecordError("llm_request_error", "llm")
				continue
			}

			if !s.forwardSentences(gen, sentenceChan) {
				return
			}
			s.metrics.RecordLLMEnd(true)

		case <-s.done:
			return
		}
	}
}

// forwardSentences queues streamed sentences for synthesis. An interruption
// bumps the turn generation, so sentences still buffered in the stream's
// channel after the cancel are drained here without being spoken. Returns
// false when the session shut down mid-stream.
func (s *Session) forwardSentences(gen uint64, sentenceChan <-chan string) bool {
	first := true
	for sentence := range sentenceChan {
		if s.turnGen.Load() != gen {
			s.logger.Debug().Str("sentence", sentence).Msg("Dropping sentence from interrupted turn")
			continue
		}
		if first {
			s.metrics.RecordLLMFirstToken()
			first = false
		}
		select {
		case s.sentenceQueue <- sentence:
			s.logger.Debug().Str("sentence", sentence).Msg("Queued sentence for synthesis")
		case <-s.done:
			return false
		}
	}
	return true
}

// processSynthesis turns reply sentences into audio for the client and avatar
func (s *Session) processSynthesis() {
	for {
		select {
		case sentence := <-s.sentenceQueue:
			s.synthesizeSentence(sentence)

		case <-s.done:
			return
		}
	}
}

func (s *Session) synthesizeSentence(sentence string) {
	s.metrics.RecordTTSStart()

	audioChan, err := s.ttsClient.Synthesize(sentence)
	if err != nil {
		s.logger.Error().Err(err).Msg("Error synthesizing sentence")
		s.metrics.RecordTTSEnd(false)
		s.metrics.RecordError("tts_error", "tts")
		return
	}

	s.mu.Lock()
	s.botSpeaking = true
	s.mu.Unlock()

	forwarded := false
	for chunk := range audioChan {
		select {
		case s.audioOut <- chunk:
		default:
			s.logger.Warn().Msg("Audio output channel full, dropping TTS chunk")
		}

		if err := s.avatarClient.SendAudio(chunk.Data); err != nil {
			s.metrics.RecordAvatarForward(false)
		} else {
			s.metrics.RecordAvatarForward(true)
			forwarded = true
		}
	}
	s.metrics.RecordTTSEnd(true)

	if forwarded {
		if err := s.avatarClient.CommitAudio(); err != nil {
			s.logger.Warn().Err(err).Msg("Error committing avatar audio")
		}
	}

	s.mu.Lock()
	s.botSpeaking = false
	s.mu.Unlock()
}

// writeLoop streams synthesized audio frames back to the client
func (s *Session) writeLoop() {
	for {
		select {
		case chunk := <-s.audioOut:
			payload := chunk.Data
			sampleRate := chunk.SampleRate

			// Clients that cannot play the TTS rate get resampled audio
			if s.config.ClientSampleRate > 0 && s.config.ClientSampleRate != sampleRate {
				resampled, err := audio.ResamplePCM(payload, sampleRate, s.config.ClientSampleRate)
				if err != nil {
					s.logger.Error().Err(err).Msg("Error resampling output audio")
					s.metrics.RecordError("resample_error", "transport")
					continue
				}
				payload = resampled
				sampleRate = s.config.ClientSampleRate
			}

			if s.config.AddWAVHeader {
				payload = audio.PrependWAVHeader(payload, sampleRate, chunk.Channels)
			}

			frame := frames.NewAudioFrame(payload, uint32(sampleRate), uint32(chunk.Channels))
			if err := s.writeFrame(frame); err != nil {
				s.logger.Error().Err(err).Msg("Error writing audio frame")
				s.metrics.RecordError("ws_write_error", "transport")
				continue
			}
			s.metrics.RecordAudioBytes("out", int64(len(chunk.Data)))

		case <-s.done:
			return
		}
	}
}

func (s *Session) sendTranscriptionFrame(text string) {
	frame := frames.NewTranscriptionFrame(text, s.userID, time.Now().UTC().Format(time.RFC3339))
	if err := s.writeFrame(frame); err != nil {
		s.logger.Warn().Err(err).Msg("Error writing transcription frame")
	}
}

func (s *Session) writeFrame(frame frames.Frame) error {
	data, err := frames.Marshal(frame)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteMessage(websocket.BinaryMessage, data)
}

// SessionID returns the session identifier
func (s *Session) SessionID() string {
	return s.sessionID
}

// IsActive returns whether the session is still running
func (s *Session) IsActive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isActive
}
