package server

import (
	"encoding/json"
	"io"
	"net/http"

	"havenhomes/pkg/domain"
)

// handlePayment dispatches /api/builds/{id}/payment[/...]. sub is "" for the
// wizard state or a leading-slash action path.
func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request, user domain.User, id, sub string) {
	if sub == "" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		state, err := s.app.PaymentState(user, id)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	switch sub {
	case "/plan":
		s.handleSetPlan(w, r, user, id)
	case "/method":
		s.handleSetMethod(w, r, user, id)
	case "/setup":
		s.handleBeginSetup(w, r, user, id)
	case "/confirm":
		s.handleConfirmInstrument(w, r, user, id)
	case "/mandate":
		s.respondBuild(w)(s.app.AcceptMandate(user, id))
	case "/transfer":
		s.respondBuild(w)(s.app.RequestTransferInstructions(r.Context(), user, id))
	case "/transfer/confirm":
		s.respondBuild(w)(s.app.ConfirmTransfer(user, id))
	case "/charge":
		if !s.allowRate(w, r, s.paymentLimiter, "too many payment attempts") {
			s.audit(r, "storefront.payment.charge", "rate_limited")
			return
		}
		s.respondBuild(w)(s.app.ChargeCard(r.Context(), user, id))
	case "/verify":
		s.handleIssueVerifyCode(w, r, user, id)
	case "/verify/confirm":
		s.handleConfirmVerifyCode(w, r, user, id)
	case "/ready":
		s.respondBuild(w)(s.app.MarkPaymentReady(user, id))
	case "/continue":
		s.respondBuild(w)(s.app.ContinueToContract(r.Context(), user, id))
	default:
		http.NotFound(w, r)
	}
}

// respondBuild writes the common build-or-error outcome of a payment action.
func (s *Server) respondBuild(w http.ResponseWriter) func(domain.Build, error) {
	return func(build domain.Build, err error) {
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, build)
	}
}

func (s *Server) handleSetPlan(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req struct {
		Type domain.PlanType `json:"type"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.respondBuild(w)(s.app.SetPlan(user, id, req.Type))
}

func (s *Server) handleSetMethod(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req struct {
		Method domain.PaymentMethod `json:"method"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.respondBuild(w)(s.app.SetMethod(user, id, req.Method))
}

func (s *Server) handleBeginSetup(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if !s.allowRate(w, r, s.paymentLimiter, "too many payment attempts") {
		s.audit(r, "storefront.payment.setup", "rate_limited")
		return
	}
	session, err := s.app.BeginPaymentSetup(r.Context(), user, id)
	if err != nil {
		s.audit(r, "storefront.payment.setup", "fail", "build_id", id)
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleConfirmInstrument(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req struct {
		SessionID string `json:"sessionId"`
		Token     string `json:"token"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Token == "" {
		writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	s.respondBuild(w)(s.app.ConfirmInstrument(r.Context(), user, id, req.SessionID, req.Token))
}

func (s *Server) handleIssueVerifyCode(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	if !s.allowRate(w, r, s.verifyLimiter, "too many verification requests") {
		s.audit(r, "storefront.payment.verify", "rate_limited")
		return
	}
	challengeID, code, err := s.app.IssueVerifyCode(r.Context(), user, id)
	if err != nil {
		writeAppError(w, err)
		return
	}
	// The code travels out of band in production; returning it here serves
	// the sandbox processor, which has no ledger to print micro-deposits in.
	writeJSON(w, http.StatusOK, map[string]string{
		"challengeId": challengeID,
		"code":        code,
	})
}

func (s *Server) handleConfirmVerifyCode(w http.ResponseWriter, r *http.Request, user domain.User, id string) {
	var req struct {
		ChallengeID string `json:"challengeId"`
		Code        string `json:"code"`
	}
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.app.ConfirmVerifyCode(r.Context(), user, id, req.ChallengeID, req.Code); err != nil {
		s.audit(r, "storefront.payment.verify", "fail", "build_id", id)
		writeAppError(w, err)
		return
	}
	s.audit(r, "storefront.payment.verify", "success", "build_id", id)
	writeJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}
