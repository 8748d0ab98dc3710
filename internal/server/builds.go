package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"havenhomes/internal/app"
	"havenhomes/pkg/domain"
)

// /api/builds
func (s *Server) handleBuilds(w http.ResponseWriter, r *http.Request, user domain.User) {
	switch r.Method {
	case http.MethodPost:
		var in app.BuildInput
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		build, err := s.app.CreateBuild(user, in)
		if err != nil {
			writeBuildValidation(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, build)
	case http.MethodGet:
		builds, err := s.app.ListBuilds(user)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"items": builds,
			"count": len(builds),
		})
	default:
		methodNotAllowed(w)
	}
}

// /api/builds/{id}[/...]
func (s *Server) handleBuildByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	path := strings.TrimPrefix(r.URL.Path, "/api/builds/")
	id, rest, _ := strings.Cut(path, "/")
	if id == "" {
		http.NotFound(w, r)
		return
	}

	switch {
	case rest == "":
		s.handleBuild(w, r, user, id)
	case rest == "navigate":
		s.handleNavigate(w, r, user, id)
	case rest == "price":
		s.handlePrice(w, r, user, id)
	case rest == "payment" || strings.HasPrefix(rest, "payment/"):
		s.handlePayment(w, r, user, id, strings.TrimPrefix(rest, "payment"))
	case rest == "contract" || strings.HasPrefix(rest, "contract/"):
		s.handleContract(w, r, user, id, strings.TrimPrefix(rest, "contract"))
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	switch r.Method {
	case http.MethodGet:
		build, err := s.app.GetBuild(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, build)
	case http.MethodPatch:
		var patch app.BuildPatch
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&patch); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		build, err := s.app.UpdateBuild(user, id, patch)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, build)
	case http.MethodDelete:
		if err := s.app.DeleteBuild(user, id); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	default:
		methodNotAllowed(w)
	}
}

// POST /api/builds/{id}/navigate
func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req struct {
		Step int `json:"step"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	decision, build, err := s.app.Navigate(r.Context(), user, id, domain.CheckoutStep(req.Step))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"decision": decision,
		"step":     build.Step,
	})
}

// GET /api/builds/{id}/price
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	breakdown, err := s.app.Price(user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

// writeBuildValidation keeps create-time validation messages as 400s while
// routing everything else through the shared mapper.
func writeBuildValidation(w http.ResponseWriter, err error) {
	switch err.Error() {
	case "modelId required", "prices must be >= 0":
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeAppError(w, err)
	}
}
