package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader has permissive origin checks: the gateway is meant to sit
// behind a reverse proxy or be reached directly by trusted clients,
// not embedded in third-party browser pages.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleReceiveWS upgrades the connection and streams every inbound
// envelope for {number} as a JSON WebSocket text message, registering
// one Receive Hub consumer for the life of the connection.
func (s *Server) handleReceiveWS(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "account number is required", nil, s.logger)
		return
	}

	consumer, unsubscribe, err := s.hub.Subscribe(r.Context(), number)
	if err != nil {
		handleRPCError(w, r, err, s.logger)
		return
	}
	defer unsubscribe()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("websocket upgrade failed", "account", number, "error", err)
		return
	}
	defer conn.Close()

	s.metrics.WSClientsActive.Inc()
	defer s.metrics.WSClientsActive.Dec()

	// A receive socket is server->client only; drain and discard
	// anything the client sends so the connection's close frame and
	// ping/pong control messages are still handled by gorilla.
	go func() {
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	for env := range consumer.Envelopes() {
		s.metrics.MessagesReceived.Inc()
		if err := conn.WriteJSON(env); err != nil {
			return
		}
	}
}

// handleEventsSSE streams the same per-account envelope feed as
// handleReceiveWS over Server-Sent Events, for clients that prefer a
// plain HTTP long-lived response over a WebSocket upgrade.
func (s *Server) handleEventsSSE(w http.ResponseWriter, r *http.Request) {
	number := r.PathValue("number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "account number is required", nil, s.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported", nil, s.logger)
		return
	}

	consumer, unsubscribe, err := s.hub.Subscribe(r.Context(), number)
	if err != nil {
		handleRPCError(w, r, err, s.logger)
		return
	}
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	s.metrics.WSClientsActive.Inc()
	defer s.metrics.WSClientsActive.Dec()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-consumer.Envelopes():
			if !ok {
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			s.metrics.MessagesReceived.Inc()
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}
