package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"havenhomes/pkg/domain"
)

// /api/admin/settings
func (s *Server) handleAdminSettings(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodGet:
		settings, err := s.app.Settings()
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, settings)
	case http.MethodPut:
		var req domain.Settings
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		updated, err := s.app.UpdateSettings(user, req)
		if err != nil {
			writeSettingsError(w, err)
			return
		}
		s.audit(r, "storefront.admin.settings.update", "success", "user_id", user.ID)
		writeJSON(w, http.StatusOK, updated)
	default:
		methodNotAllowed(w)
	}
}

// GET /api/admin/builds
func (s *Server) handleAdminBuilds(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	builds, err := s.app.ListBuilds(user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": builds,
		"count": len(builds),
	})
}

// GET /api/admin/orders
func (s *Server) handleAdminOrders(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	orders, err := s.app.Orders(user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": orders,
		"count": len(orders),
	})
}

// /api/admin/builds/{id}/contracts
// Archived signing artifacts of one build: listing returns presigned
// download links, delete purges them after the retention review.
func (s *Server) handleAdminBuildContracts(w http.ResponseWriter, r *http.Request, user domain.User) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/admin/builds/")
	id, sub, ok := strings.Cut(rest, "/")
	if !ok || id == "" || sub != "contracts" {
		http.NotFound(w, r)
		return
	}
	if s.archive == nil {
		writeError(w, http.StatusServiceUnavailable, "contract archive is not configured")
		return
	}
	if _, err := s.app.GetBuild(user, id); err != nil {
		writeAppError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		docs, err := s.archive.ArchivedDocuments(r.Context(), id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": docs,
			"count": len(docs),
		})
	case http.MethodDelete:
		if err := s.archive.Purge(r.Context(), id); err != nil {
			writeAppError(w, err)
			return
		}
		s.audit(r, "storefront.admin.contracts.purge", "success", "user_id", user.ID, "build_id", id)
		writeJSON(w, http.StatusOK, map[string]string{"status": "purged"})
	default:
		methodNotAllowed(w)
	}
}

// GET /api/admin/analytics/summary
func (s *Server) handleAdminAnalytics(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	summary, err := s.app.Analytics(user)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// writeSettingsError keeps validation messages as 400s.
func writeSettingsError(w http.ResponseWriter, err error) {
	switch err.Error() {
	case "depositPercent must be 1-100", "taxRatePercent must be 0-100", "fees must be >= 0":
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeAppError(w, err)
	}
}
