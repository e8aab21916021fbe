package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/llm"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/stt"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/transport"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/tts"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logger is not up yet
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	logger.Info().
		Str("port", cfg.Port).
		Str("stt_model", cfg.DeepgramModel).
		Str("llm_model", cfg.OpenAIModel).
		Str("tts_voice", cfg.ElevenLabsVoiceID).
		Str("log_level", cfg.LogLevel).
		Bool("metrics_enabled", cfg.MetricsEnabled).
		Msg("Realtime voice gateway starting")

	mux := http.NewServeMux()

	// Client audio WebSocket ingress
	mux.HandleFunc("/user-audio-input", transport.HandleUserAudioWS(cfg))

	// Health check endpoint
	mux.HandleFunc("/health", observability.HealthCheckHandler())

	// Readiness probes hit each provider's authenticated metadata endpoint
	// so a bad key or unreachable API shows up before traffic does.
	checks := map[string]observability.HealthCheckFunc{
		"deepgram": func(ctx context.Context) (bool, error) {
			if err := stt.Probe(ctx, cfg); err != nil {
				return false, err
			}
			return true, nil
		},
		"openai": func(ctx context.Context) (bool, error) {
			if err := llm.Probe(ctx, cfg); err != nil {
				return false, err
			}
			return true, nil
		},
		"elevenlabs": func(ctx context.Context) (bool, error) {
			if err := tts.Probe(ctx, cfg); err != nil {
				return false, err
			}
			return true, nil
		},
	}
	mux.HandleFunc("/ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
		logger.Info().Msg("Prometheus metrics enabled at /metrics")
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("endpoint", fmt.Sprintf("ws://localhost:%s/user-audio-input", cfg.Port)).
			Msg("Server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("Server failed to start")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	logger.Info().Msg("Server exited gracefully")
}
