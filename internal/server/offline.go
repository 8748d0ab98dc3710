package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"havenhomes/pkg/domain"
	"havenhomes/pkg/queue"
)

// POST /api/offline/operations
// The storefront client buffers build mutations while it cannot reach us and
// replays them here after reconnecting. Every operation is stamped with the
// authenticated user before it is buffered, so the drain can only ever act
// with the caller's own authority.
func (s *Server) handleOfflineOperations(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	if s.queue == nil {
		writeError(w, http.StatusServiceUnavailable, "offline buffering is not enabled")
		return
	}
	var req struct {
		Operations []queue.Operation `json:"operations"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.Operations) == 0 {
		writeError(w, http.StatusBadRequest, "operations are required")
		return
	}
	accepted := make([]string, 0, len(req.Operations))
	for _, op := range req.Operations {
		op.OwnerID = user.ID
		item, err := s.queue.Enqueue(r.Context(), op)
		if err != nil {
			s.audit(r, "storefront.offline.enqueue", "fail", "user_id", user.ID, "reason", err.Error())
			status := http.StatusServiceUnavailable
			msg := "operation could not be buffered"
			if errors.Is(err, queue.ErrUnsupportedOperation) {
				status = http.StatusBadRequest
				msg = "unsupported operation type"
			}
			// Earlier items of the batch were already accepted; report them
			// so the client does not resubmit duplicates.
			writeJSON(w, status, map[string]any{
				"error":    msg,
				"accepted": accepted,
				"count":    len(accepted),
			})
			return
		}
		accepted = append(accepted, item.ID)
	}
	s.audit(r, "storefront.offline.enqueue", "success", "user_id", user.ID, "count", len(accepted))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"accepted": accepted,
		"count":    len(accepted),
	})
}

// GET /api/offline/status
func (s *Server) handleOfflineStatus(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	if s.queue == nil {
		writeJSON(w, http.StatusOK, map[string]any{"enabled": false})
		return
	}
	pending, err := s.queue.Len(r.Context())
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": true,
		"online":  s.queue.Online(),
		"pending": pending,
	})
}
