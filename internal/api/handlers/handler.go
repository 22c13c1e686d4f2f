// handler.go — основной обработчик API Headplane.
// Объединяет доменные обработчики и делегирует запросы в сервисный слой.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/headscale"
	"github.com/drifterza/headplane/internal/repository"
	"github.com/drifterza/headplane/internal/service"
)

// ControlPlane — операции Headscale, нужные API-обработчикам.
type ControlPlane interface {
	ListUsers(ctx context.Context) ([]headscale.User, error)
	CreatePreAuthKey(ctx context.Context, userID string, ephemeral, reusable bool, expiresAt *time.Time, tags []string) (*headscale.PreAuthKey, error)
	ExpirePreAuthKey(ctx context.Context, userID, key string) error
	RegisterNode(ctx context.Context, userID, nodeKey string) (*headscale.Node, error)
}

// APIHandler — основной обработчик API Headplane.
type APIHandler struct {
	health        *HealthHandler
	authenticator *auth.Authenticator
	sessions      *auth.SessionManager
	oidc          *auth.OIDCClient
	validator     *auth.IDTokenValidator
	login         *service.LoginService
	preAuthKeys   *service.PreAuthKeyService
	controlPlane  ControlPlane
	users         repository.UserRepository
	secureCookie  bool
	logger        *slog.Logger
}

// NewAPIHandler создаёт основной обработчик API.
func NewAPIHandler(
	health *HealthHandler,
	authenticator *auth.Authenticator,
	sessions *auth.SessionManager,
	oidc *auth.OIDCClient,
	validator *auth.IDTokenValidator,
	login *service.LoginService,
	preAuthKeys *service.PreAuthKeyService,
	controlPlane ControlPlane,
	users repository.UserRepository,
	secureCookie bool,
	logger *slog.Logger,
) *APIHandler {
	return &APIHandler{
		health:        health,
		authenticator: authenticator,
		sessions:      sessions,
		oidc:          oidc,
		validator:     validator,
		login:         login,
		preAuthKeys:   preAuthKeys,
		controlPlane:  controlPlane,
		users:         users,
		secureCookie:  secureCookie,
		logger:        logger.With(slog.String("component", "api_handler")),
	}
}

// HealthLive — liveness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthLive(w http.ResponseWriter, r *http.Request) {
	h.health.HealthLive(w, r)
}

// HealthReady — readiness probe (делегируется в HealthHandler).
func (h *APIHandler) HealthReady(w http.ResponseWriter, r *http.Request) {
	h.health.HealthReady(w, r)
}

// GetMetrics — Prometheus метрики (делегируется в HealthHandler).
func (h *APIHandler) GetMetrics(w http.ResponseWriter, r *http.Request) {
	h.health.GetMetrics(w, r)
}

// --- Вспомогательные функции ---

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// paginationDefaults нормализует limit и offset из query string.
func paginationDefaults(query url.Values) (int, int) {
	l := 100
	o := 0

	if v := query.Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			l = parsed
		}
	}
	if l < 1 {
		l = 1
	}
	if l > 1000 {
		l = 1000
	}

	if v := query.Get("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			o = parsed
		}
	}
	if o < 0 {
		o = 0
	}

	return l, o
}

// buildBaseURL формирует базовый URL (scheme + host) из заголовков запроса.
// Учитывает X-Forwarded-* заголовки от reverse proxy.
func buildBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	host := r.Host
	if fwdHost := r.Header.Get("X-Forwarded-Host"); fwdHost != "" {
		host = fwdHost
	}

	return scheme + "://" + host
}
