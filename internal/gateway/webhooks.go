package gateway

import (
	"encoding/json"
	"net/http"
)

// handleWebhookCreate registers a new webhook against the shared
// Deliverer, which owns its own queue and retry worker from this
// point forward.
func (s *Server) handleWebhookCreate(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL    string   `json:"url"`
		Events []string `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", nil, s.logger)
		return
	}
	if body.URL == "" {
		writeError(w, http.StatusBadRequest, "url is required", nil, s.logger)
		return
	}

	reg := s.webhooks.Register(body.URL, body.Events)
	writeJSON(w, http.StatusCreated, reg, s.logger)
}

// handleWebhookList returns every currently registered webhook.
func (s *Server) handleWebhookList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.webhooks.List(), s.logger)
}

// handleWebhookDelete deregisters a webhook by id and stops its
// delivery worker.
func (s *Server) handleWebhookDelete(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.webhooks.Deregister(id) {
		writeError(w, http.StatusNotFound, "webhook not found", nil, s.logger)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
