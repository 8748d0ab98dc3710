// Package server exposes the storefront checkout API over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"havenhomes/internal/app"
	"havenhomes/internal/contracts"
	"havenhomes/internal/identity"
	"havenhomes/internal/payments"
	"havenhomes/internal/ratelimit"
	"havenhomes/internal/util"
	"havenhomes/internal/webhook"
	"havenhomes/pkg/domain"
	"havenhomes/pkg/queue"
)

// ContractArchive serves back-office access to archived signing artifacts.
type ContractArchive interface {
	ArchivedDocuments(ctx context.Context, buildID string) ([]contracts.ArchivedDocument, error)
	Purge(ctx context.Context, buildID string) error
}

// Config wires required dependencies for the HTTP server.
type Config struct {
	App             *app.App
	Identity        *identity.Verifier
	Queue           *queue.OfflineQueue
	WebhookVerifier *webhook.Verifier
	ContractArchive ContractArchive

	RedisAddr     string
	RedisPassword string

	PaymentRateLimitPerMinute int
	VerifyRateLimitPerMinute  int
	TrustedProxyCIDRs         []string
}

// Server exposes HTTP endpoints for the storefront backend.
type Server struct {
	app             *app.App
	identity        *identity.Verifier
	queue           *queue.OfflineQueue
	webhookVerifier *webhook.Verifier
	archive         ContractArchive
	mux             *http.ServeMux
	proxies         *util.TrustedProxies
	paymentLimiter  *ratelimit.FixedWindowLimiter
	verifyLimiter   *ratelimit.FixedWindowLimiter
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	if cfg.Identity == nil {
		return nil, errors.New("identity verifier required")
	}
	paymentLimit := cfg.PaymentRateLimitPerMinute
	if paymentLimit <= 0 {
		paymentLimit = 30
	}
	verifyLimit := cfg.VerifyRateLimitPerMinute
	if verifyLimit <= 0 {
		verifyLimit = 10
	}
	newLimiter := func(name string, limit int) (*ratelimit.FixedWindowLimiter, error) {
		prefix := "havenhomes:storefront:ratelimit:" + name
		limiter, err := ratelimit.NewRedisFixedWindowLimiter(cfg.RedisAddr, cfg.RedisPassword, prefix, limit, time.Minute)
		if err != nil {
			return nil, fmt.Errorf("init %s limiter: %w", name, err)
		}
		return limiter, nil
	}
	paymentLimiter, err := newLimiter("payment", paymentLimit)
	if err != nil {
		return nil, err
	}
	verifyLimiter, err := newLimiter("verify", verifyLimit)
	if err != nil {
		return nil, err
	}
	proxies, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return nil, fmt.Errorf("parse trusted proxies: %w", err)
	}

	s := &Server{
		app:             cfg.App,
		identity:        cfg.Identity,
		queue:           cfg.Queue,
		webhookVerifier: cfg.WebhookVerifier,
		archive:         cfg.ContractArchive,
		mux:             http.NewServeMux(),
		proxies:         proxies,
		paymentLimiter:  paymentLimiter,
		verifyLimiter:   verifyLimiter,
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler.
func (s *Server) Router() http.Handler {
	return util.WithSecurityHeaders(util.WithCORS(util.WithRequestID(util.WithRequestLog("storefront", s.mux))))
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)

	// builds & checkout (auth required)
	s.mux.Handle("/api/builds", s.authenticated(s.handleBuilds))
	s.mux.Handle("/api/builds/", s.authenticated(s.handleBuildByID))
	s.mux.Handle("/api/settings", s.authenticated(s.handleSettings))

	// offline replay buffer
	s.mux.Handle("/api/offline/operations", s.authenticated(s.handleOfflineOperations))
	s.mux.Handle("/api/offline/status", s.authenticated(s.handleOfflineStatus))

	// processor reconciliation
	s.mux.HandleFunc("/webhooks/processor", s.handleProcessorWebhook)

	// admin
	s.mux.Handle("/api/admin/settings", s.adminOnly(s.handleAdminSettings))
	s.mux.Handle("/api/admin/builds", s.adminOnly(s.handleAdminBuilds))
	s.mux.Handle("/api/admin/builds/", s.adminOnly(s.handleAdminBuildContracts))
	s.mux.Handle("/api/admin/orders", s.adminOnly(s.handleAdminOrders))
	s.mux.Handle("/api/admin/analytics/summary", s.adminOnly(s.handleAdminAnalytics))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, user)
	})
}

func (s *Server) adminOnly(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := s.authorize(r)
		if !ok {
			s.audit(r, "storefront.admin.authorize", "fail", "reason", "unauthorized")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if user.Role != domain.RoleAdmin {
			s.audit(r, "storefront.admin.authorize", "fail", "user_id", user.ID, "reason", "forbidden")
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		s.audit(r, "storefront.admin.authorize", "success", "user_id", user.ID)
		next(w, r, user)
	})
}

func (s *Server) authorize(r *http.Request) (domain.User, bool) {
	token, ok := bearerToken(r)
	if !ok {
		s.audit(r, "storefront.token.verify", "fail", "reason", "missing_token")
		return domain.User{}, false
	}
	id, err := s.identity.Verify(token)
	if err != nil {
		s.audit(r, "storefront.token.verify", "fail", "reason", "invalid_signature_or_claims")
		return domain.User{}, false
	}
	return domain.User{ID: id.UserID, Email: id.Email, Role: id.Role}, true
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request, _ domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	settings, err := s.app.Settings()
	if err != nil {
		writeAppError(w, err)
		return
	}
	// Buyers only see the knobs the storefront UI needs.
	writeJSON(w, http.StatusOK, map[string]any{
		"depositPercent":   settings.DepositPercent,
		"enableCardOption": settings.EnableCardOption,
		"taxRatePercent":   settings.TaxRatePercent,
	})
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", false
	}
	return token, true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeAppError maps service errors onto HTTP statuses with user-facing
// messages; processor failures never leak raw detail.
func writeAppError(w http.ResponseWriter, err error) {
	var notReady *app.NotReadyError
	var procErr *payments.ProcessorError
	switch {
	case errors.Is(err, app.ErrNotFound), errors.Is(err, contracts.ErrUnknownPack):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden")
	case errors.Is(err, app.ErrBuildLocked):
		writeError(w, http.StatusConflict, "build is locked for signing")
	case errors.Is(err, app.ErrCardDisabled):
		writeError(w, http.StatusConflict, "card payments are currently disabled")
	case errors.Is(err, app.ErrPlanRequired):
		writeError(w, http.StatusBadRequest, "choose a payment plan first")
	case errors.As(err, &notReady):
		writeError(w, http.StatusConflict, notReady.Reason)
	case errors.Is(err, contracts.ErrPackLocked):
		writeError(w, http.StatusConflict, "complete the previous contract pack first")
	case errors.Is(err, payments.ErrNeedsRefresh):
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  payments.UserMessage(err),
			"action": "refresh",
		})
	case errors.As(err, &procErr):
		writeError(w, http.StatusPaymentRequired, payments.UserMessage(err))
	case errors.Is(err, payments.ErrVerifyRateLimited):
		w.Header().Set("Retry-After", "60")
		writeError(w, http.StatusTooManyRequests, "a code was sent recently, try again shortly")
	case errors.Is(err, payments.ErrVerifyCodeInvalid),
		errors.Is(err, payments.ErrVerifyCodeExpired),
		errors.Is(err, payments.ErrVerifyCodeRequired),
		errors.Is(err, payments.ErrVerifyChallengeNeeded),
		errors.Is(err, payments.ErrVerifyChallengeBad):
		writeError(w, http.StatusBadRequest, "verification failed")
	default:
		slog.Error("request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.proxies),
	}
	logAttrs = append(logAttrs, attrs...)
	if outcome == "success" {
		slog.Info("security_event", logAttrs...)
		return
	}
	slog.Warn("security_event", logAttrs...)
}

func (s *Server) allowRate(w http.ResponseWriter, r *http.Request, limiter *ratelimit.FixedWindowLimiter, msg string) bool {
	key := r.URL.Path + "|" + util.ClientIP(r, s.proxies)
	if limiter.Allow(key) {
		return true
	}
	w.Header().Set("Retry-After", "60")
	writeError(w, http.StatusTooManyRequests, msg)
	return false
}
