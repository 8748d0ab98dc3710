package server

import (
	"encoding/json"
	"io"
	"net/http"

	"havenhomes/internal/app"
	"havenhomes/internal/webhook"
)

// POST /webhooks/processor
// The processor delivers asynchronous payment outcomes here; every delivery
// must carry a valid signature over the raw body.
func (s *Server) handleProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.webhookVerifier == nil {
		writeError(w, http.StatusServiceUnavailable, "webhooks are not enabled")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if err := s.webhookVerifier.Verify(r.Header.Get(webhook.SignatureHeader), body); err != nil {
		s.audit(r, "storefront.webhook.verify", "fail", "reason", err.Error())
		writeError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	var event app.ProcessorEvent
	if err := json.Unmarshal(body, &event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if event.BuildID == "" {
		writeError(w, http.StatusBadRequest, "buildId is required")
		return
	}
	if err := s.app.HandleProcessorEvent(event); err != nil {
		s.audit(r, "storefront.webhook.apply", "fail", "build_id", event.BuildID, "type", event.Type)
		writeAppError(w, err)
		return
	}
	s.audit(r, "storefront.webhook.apply", "success", "build_id", event.BuildID, "type", event.Type)
	writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
}
