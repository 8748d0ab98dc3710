package server

import (
	"net/http"
	"strings"

	"havenhomes/pkg/domain"
)

// handleContract dispatches /api/builds/{id}/contract[/...]. sub is "" for
// the status map or a leading-slash pack action.
func (s *Server) handleContract(w http.ResponseWriter, r *http.Request, user domain.User, id, sub string) {
	if sub == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		states, err := s.app.ContractStatuses(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"packs": states,
			"order": domain.PackOrder,
		})
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	packName, action, _ := strings.Cut(strings.TrimPrefix(sub, "/"), "/")
	pack := domain.ContractPack(packName)
	switch action {
	case "ack":
		if pack != domain.PackSummary {
			http.NotFound(w, r)
			return
		}
		if err := s.app.AcknowledgeSummary(r.Context(), user, id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "storefront.contract.ack", "success", "build_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "acknowledged"})
	case "start":
		url, err := s.app.StartPack(r.Context(), user, id, pack)
		if err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "storefront.contract.start", "success", "build_id", id, "pack", string(pack))
		writeJSON(w, http.StatusOK, map[string]string{"signingUrl": url})
	case "complete":
		// The signing window posts here when the provider reports completion;
		// the poller delivers the same signal independently.
		if err := s.app.CompletePack(r.Context(), user, id, pack); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "storefront.contract.complete", "success", "build_id", id, "pack", string(pack))
		writeJSON(w, http.StatusOK, map[string]string{"status": "completed"})
	default:
		http.NotFound(w, r)
	}
}
