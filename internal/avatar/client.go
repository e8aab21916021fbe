// Package avatar forwards synthesized speech to a HeyGen realtime avatar
// session so the rendered avatar lip-syncs the bot's audio.
package avatar

import (
	"context"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/resilience"
)

const keepAliveInterval = 30 * time.Second

// event is the JSON envelope of the realtime avatar protocol
type event struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Audio   string `json:"audio,omitempty"`
}

// Client maintains the WebSocket connection to one avatar session's
// realtime endpoint.
type Client struct {
	sessionID        string
	sessionToken     string
	realtimeEndpoint string
	reconnectConfig  *resilience.ReconnectConfig
	logger           zerolog.Logger

	mu            sync.Mutex
	conn          *websocket.Conn
	connected     bool
	keepAliveOnce sync.Once

	ctx    context.Context
	cancel context.CancelFunc
}

// NewClient creates an avatar client for one session. Connect must be
// called before audio can be forwarded.
func NewClient(cfg *config.Config, sessionID, sessionToken, realtimeEndpoint string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		sessionID:        sessionID,
		sessionToken:     sessionToken,
		realtimeEndpoint: realtimeEndpoint,
		reconnectConfig: &resilience.ReconnectConfig{
			MaxAttempts: cfg.ReconnectMaxAttempts,
			Backoff:     time.Duration(cfg.ReconnectBackoff) * time.Millisecond,
			Multiplier:  2.0,
			MaxBackoff:  30 * time.Second,
		},
		logger: observability.WithSession(sessionID),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect dials the realtime endpoint and starts the keepalive loop
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	header := map[string][]string{
		"Authorization": {"Bearer " + c.sessionToken},
		"X-Session-Id":  {c.sessionID},
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.realtimeEndpoint, header)
	if err != nil {
		return fmt.Errorf("failed to dial realtime endpoint: %w", err)
	}

	c.conn = conn
	c.connected = true
	c.logger.Info().Str("endpoint", c.realtimeEndpoint).Msg("Connected to avatar realtime endpoint")

	c.keepAliveOnce.Do(func() {
		go c.keepAliveLoop()
	})
	return nil
}

// SendAudio forwards a chunk of 16-bit PCM to the avatar as a base64
// audio_buffer_append event.
func (c *Client) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return c.send(event{
		Type:    "agent.audio_buffer_append",
		EventID: uuid.New().String(),
		Audio:   base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio marks the end of the current utterance's audio buffer
func (c *Client) CommitAudio() error {
	return c.send(event{
		Type:    "agent.audio_buffer_commit",
		EventID: uuid.New().String(),
	})
}

// Interrupt tells the avatar to stop speaking and discard buffered audio
func (c *Client) Interrupt() error {
	return c.send(event{
		Type:    "agent.interrupt",
		EventID: uuid.New().String(),
	})
}

func (c *Client) send(ev event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected || c.conn == nil {
		return fmt.Errorf("avatar client is not connected")
	}

	if err := c.conn.WriteJSON(ev); err != nil {
		c.connected = false
		go c.attemptReconnect()
		return fmt.Errorf("failed to send %s event: %w", ev.Type, err)
	}
	return nil
}

func (c *Client) keepAliveLoop() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.send(event{Type: "agent.keep_alive", EventID: uuid.New().String()}); err != nil {
				c.logger.Warn().Err(err).Msg("Avatar keepalive failed")
			}
		}
	}
}

func (c *Client) attemptReconnect() {
	select {
	case <-c.ctx.Done():
		return
	default:
	}

	c.mu.Lock()
	alreadyConnected := c.connected
	c.mu.Unlock()
	if alreadyConnected {
		return
	}

	err := resilience.Reconnect(c.ctx, func() error {
		return c.Connect(c.ctx)
	}, c.reconnectConfig)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to reconnect avatar client")
	} else {
		c.logger.Info().Msg("Reconnected avatar client")
	}
}

// IsConnected returns whether the realtime connection is up
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears down the connection and stops the keepalive loop
func (c *Client) Close() error {
	c.cancel()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}

	// Best effort close handshake
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)

	err := c.conn.Close()
	c.conn = nil
	c.connected = false
	return err
}
