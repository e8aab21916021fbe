package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the realtime voice gateway
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"3001"`

	// Deepgram STT API configuration
	DeepgramAPIKey   string `envconfig:"DEEPGRAM_API_KEY" required:"true"`
	DeepgramModel    string `envconfig:"DEEPGRAM_MODEL" default:"nova-2-conversationalai"`
	DeepgramLanguage string `envconfig:"DEEPGRAM_LANGUAGE" default:"en-US"`

	// OpenAI LLM configuration
	OpenAIAPIKey string `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIModel  string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`

	// ElevenLabs TTS configuration
	ElevenLabsAPIKey  string `envconfig:"ELEVENLABS_API_KEY" required:"true"`
	ElevenLabsVoiceID string `envconfig:"ELEVENLABS_VOICE_ID" default:"29vD33N1CtxCmqQRPOHJ"`
	ElevenLabsModelID string `envconfig:"ELEVENLABS_MODEL_ID" default:"eleven_multilingual_v2"`

	// Audio configuration. Client audio arrives as linear16 mono at
	// InputSampleRate; ElevenLabs returns linear16 at OutputSampleRate.
	InputSampleRate  int  `envconfig:"INPUT_SAMPLE_RATE" default:"16000"`
	OutputSampleRate int  `envconfig:"OUTPUT_SAMPLE_RATE" default:"24000"`
	ClientSampleRate int  `envconfig:"CLIENT_SAMPLE_RATE" default:"0"` // Resample outgoing audio for the client; 0 streams at OutputSampleRate
	AudioBufferSize  int  `envconfig:"AUDIO_BUFFER_SIZE" default:"32768"` // Ring buffer size in bytes
	AddWAVHeader     bool `envconfig:"ADD_WAV_HEADER" default:"true"`     // Prepend WAV header to outgoing audio frames

	// Voice activity detection
	VADMinVolume    float64 `envconfig:"VAD_MIN_VOLUME" default:"0.6"`    // Normalized volume floor (0.0-1.0)
	VADStartSecs    float64 `envconfig:"VAD_START_SECS" default:"0.2"`    // Sustained speech before speech-start fires
	VADStopSecs     float64 `envconfig:"VAD_STOP_SECS" default:"1.2"`     // Sustained silence before speech-end fires
	VADConfidence   float64 `envconfig:"VAD_CONFIDENCE" default:"0.7"`    // Fraction of voiced frames inside the start window
	VADFrameSamples int     `envconfig:"VAD_FRAME_SAMPLES" default:"320"` // 20ms at 16kHz

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"` // Milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"` // Milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"`
}

// Load reads configuration from the environment, first merging in a .env
// file when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()
	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without consulting a .env file (useful for containerized deployments).
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.DeepgramAPIKey == "" {
		return nil, fmt.Errorf("DEEPGRAM_API_KEY is required")
	}
	if cfg.OpenAIAPIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY is required")
	}
	if cfg.ElevenLabsAPIKey == "" {
		return nil, fmt.Errorf("ELEVENLABS_API_KEY is required")
	}
	if cfg.InputSampleRate <= 0 || cfg.OutputSampleRate <= 0 {
		return nil, fmt.Errorf("sample rates must be positive")
	}

	return &cfg, nil
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
