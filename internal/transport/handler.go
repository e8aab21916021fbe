package transport

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/HeyGen-Official/realtime-voice-gateway/internal/config"
	"github.com/HeyGen-Official/realtime-voice-gateway/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// The demo accepts any origin; lock this down when fronting
		// real traffic.
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// HandleUserAudioWS is the entry point for client audio WebSocket
// connections. Session identity and the avatar realtime endpoint arrive as
// query parameters.
func HandleUserAudioWS(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := observability.GetLogger()

		query := r.URL.Query()
		sessionID := query.Get("session_id")
		sessionToken := query.Get("session_token")
		realtimeEndpoint := query.Get("realtime_endpoint")

		if realtimeEndpoint == "" {
			http.Error(w, "realtime_endpoint query parameter is required", http.StatusBadRequest)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Error().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}
		defer conn.Close()

		session := NewSession(conn, cfg, sessionID, sessionToken, realtimeEndpoint)
		log.Info().
			Str("session_id", session.SessionID()).
			Str("realtime_endpoint", realtimeEndpoint).
			Msg("WebSocket connection established")

		session.Run(r.Context())

		log.Info().Str("session_id", session.SessionID()).Msg("Session ended")
	}
}
