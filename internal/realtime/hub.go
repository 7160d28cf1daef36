package realtime

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// Hub serves websocket connections that stream one channel to a client.
type Hub struct {
	gateway  *Gateway
	logger   *slog.Logger
	upgrader websocket.Upgrader
}

func NewHub(gateway *Gateway, logger *slog.Logger) *Hub {
	return &Hub{
		gateway: gateway,
		logger:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
	}
}

// ServeWS upgrades the request and streams the channel named by the
// "channel" query parameter. The "token" parameter must be a valid channel
// token whose subject owns the channel. The connection closes when the
// token expires.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	tok, err := h.gateway.VerifyToken(r.URL.Query().Get("token"))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}
	channel := r.URL.Query().Get("channel")
	_, userID, ok := ParseChannelName(channel)
	if !ok {
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	if userID != tok.Subject {
		http.Error(w, "Forbidden", http.StatusForbidden)
		return
	}

	// Subscribe before the handshake completes so nothing published after
	// the client sees the upgrade is missed.
	msgs, cancel, err := h.gateway.Subscribe(channel)
	if err != nil {
		h.logger.Error("subscribing to channel", "channel", channel, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	h.logger.Info("realtime client connected", "channel", channel)
	done := make(chan struct{})
	go h.readLoop(conn, done)

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	expired := time.NewTimer(time.Until(tok.Expiry()))
	defer expired.Stop()

	for {
		select {
		case <-done:
			return
		case <-expired.C:
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "token expired"),
				time.Now().Add(writeWait))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case msg, ok := <-msgs:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("websocket write failed", "channel", channel, "error", err)
				return
			}
		}
	}
}

// readLoop discards client messages and closes done when the peer goes
// away. Reading is required for control frames to be processed.
func (h *Hub) readLoop(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(4096)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
