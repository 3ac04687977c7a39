package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/example/negotiation-scheduler/internal/broadcast"
	"github.com/example/negotiation-scheduler/internal/events"
)

const (
	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
	streamReadLimit    = 512
)

type subscriber interface {
	Subscribe(topic string) *broadcast.Subscription
}

// StreamHandler upgrades clients to a websocket and forwards negotiation
// events as JSON text frames. Clients only receive events published after
// they connect. Inbound frames are read and discarded.
type StreamHandler struct {
	broker       subscriber
	upgrader     websocket.Upgrader
	responder    responder
	logger       *slog.Logger
	pingInterval time.Duration
}

func NewStreamHandler(broker subscriber, logger *slog.Logger) *StreamHandler {
	base := defaultLogger(logger)
	return &StreamHandler{
		broker: broker,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		responder:    newResponder(base),
		logger:       base,
		pingInterval: streamPingInterval,
	}
}

// Serve handles GET /ws?topic=negotiation[&session_id=...].
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.broker == nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	topic := strings.TrimSpace(r.URL.Query().Get("topic"))
	if topic == "" {
		topic = events.TopicNegotiation
	}
	if topic != events.TopicNegotiation {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errUnsupportedTopic)
		return
	}
	sessionFilter := strings.TrimSpace(r.URL.Query().Get("session_id"))
	logger := handlerLogger(r.Context(), h.logger, "StreamHandler", "Serve", "topic", topic)

	// Subscribe before the handshake completes so the client never misses
	// events published right after it connects.
	sub := h.broker.Subscribe(topic)
	defer sub.Close()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.WarnContext(r.Context(), "websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	logger.InfoContext(r.Context(), "stream subscriber connected")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(streamReadLimit)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			logger.InfoContext(r.Context(), "stream subscriber disconnected", "dropped", sub.Dropped())
			return
		case event, ok := <-sub.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if sessionFilter != "" && event.SessionID != sessionFilter {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(event); err != nil {
				logger.WarnContext(r.Context(), "failed to write event", "session_id", event.SessionID, "sequence", event.Sequence, "error", err)
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		}
	}
}
