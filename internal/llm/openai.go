// Package llm streams chat completions from OpenAI and cuts them into
// sentences sized for low-latency speech synthesis.
package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/resilience"
)

// SystemPrompt is the default persona for the conversational demo. The
// output is spoken, so the model is told to avoid special characters.
const SystemPrompt = "You are a helpful LLM in a WebRTC call. Your goal is to demonstrate your capabilities in a succinct way. Your output will be converted to audio so don't include special characters in your answers. Respond to what the user said in a creative and helpful way. Be brief, concise, and to the point."

// OpenAIClient streams chat completions while maintaining the running
// conversation context across turns.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	circuitBreaker *resilience.CircuitBreaker
	retryConfig    *resilience.RetryConfig

	mu       sync.Mutex
	messages []openai.ChatCompletionMessage
	cancel   context.CancelFunc // cancels the in-flight stream, if any
}

// openaiProbeBaseURL overrides the API base for readiness probes; empty
// means the SDK default. Var so tests can stub it.
var openaiProbeBaseURL = ""

// Probe verifies the OpenAI API is reachable with the configured key.
// Used by the readiness endpoint.
func Probe(ctx context.Context, cfg *config.Config) error {
	clientConfig := openai.DefaultConfig(cfg.OpenAIAPIKey)
	if openaiProbeBaseURL != "" {
		clientConfig.BaseURL = openaiProbeBaseURL
	}
	client := openai.NewClientWithConfig(clientConfig)

	if _, err := client.ListModels(ctx); err != nil {
		return fmt.Errorf("openai probe failed: %w", err)
	}
	return nil
}

// NewOpenAIClient creates an OpenAI chat client seeded with the system prompt
func NewOpenAIClient(cfg *config.Config) *OpenAIClient {
	return &OpenAIClient{
		client: openai.NewClient(cfg.OpenAIAPIKey),
		model:  cfg.OpenAIModel,
		circuitBreaker: resilience.NewCircuitBreaker(
			"openai",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: SystemPrompt},
		},
	}
}

// StreamResponse sends the user's utterance to the model and emits complete
// sentences on the returned channel as they stream in. The user message and
// the full assistant reply are appended to the conversation context. Cancel
// the context (or call Interrupt) to cut the stream short; whatever was
// generated up to that point still enters the context.
func (c *OpenAIClient) StreamResponse(ctx context.Context, userText string) (<-chan string, error) {
	ctx, cancel := context.WithCancel(ctx)

	userMessage := openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: userText,
	}

	c.mu.Lock()
	history := append([]openai.ChatCompletionMessage(nil), c.messages...)
	c.mu.Unlock()

	req := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: append(history, userMessage),
		Stream:   true,
	}

	var stream *openai.ChatCompletionStream
	err := c.circuitBreaker.Call(func() error {
		return resilience.Retry(ctx, func() error {
			var callErr error
			stream, callErr = c.client.CreateChatCompletionStream(ctx, req)
			return callErr
		}, c.retryConfig, resilience.IsRetryableNetworkError)
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start completion stream: %w", err)
	}

	// The user turn enters the context only once the stream is open, so a
	// failed request does not leave a phantom message behind for retries.
	c.mu.Lock()
	c.messages = append(c.messages, userMessage)
	c.cancel = cancel
	c.mu.Unlock()

	sentences := make(chan string, 16)
	go c.consumeStream(ctx, cancel, stream, sentences)
	return sentences, nil
}

func (c *OpenAIClient) consumeStream(ctx context.Context, cancel context.CancelFunc, stream *openai.ChatCompletionStream, sentences chan<- string) {
	defer close(sentences)
	defer stream.Close()
	defer cancel()

	log := observability.GetLogger()
	chunker := NewSentenceChunker()
	var reply []byte

	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("LLM stream cancelled")
			c.appendAssistantReply(string(reply))
			return
		default:
		}

		resp, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("Error receiving completion chunk")
			}
			break
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		reply = append(reply, delta...)

		for _, sentence := range chunker.Feed(delta) {
			select {
			case sentences <- sentence:
			case <-ctx.Done():
				c.appendAssistantReply(string(reply))
				return
			}
		}
	}

	if leftover := chunker.Flush(); leftover != "" {
		select {
		case sentences <- leftover:
		case <-ctx.Done():
		}
	}

	c.appendAssistantReply(string(reply))
}

func (c *OpenAIClient) appendAssistantReply(reply string) {
	if reply == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleAssistant,
		Content: reply,
	})
	c.cancel = nil
}

// Interrupt cancels the in-flight completion stream, if any
func (c *OpenAIClient) Interrupt() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

// History returns a copy of the conversation so far
func (c *OpenAIClient) History() []openai.ChatCompletionMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]openai.ChatCompletionMessage(nil), c.messages...)
}

// Close interrupts any active stream
func (c *OpenAIClient) Close() error {
	c.Interrupt()
	return nil
}
