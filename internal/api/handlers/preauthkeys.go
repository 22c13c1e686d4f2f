// preauthkeys.go — обработчики pre-auth ключей.
// GET /api/v1/preauthkeys — группировка по владельцам (с partial failures)
// POST /api/v1/preauthkeys — создание ключа
// POST /api/v1/preauthkeys/expire — досрочное истечение ключа
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/drifterza/headplane/internal/api/errors"
	"github.com/drifterza/headplane/internal/api/middleware"
	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/domain/capabilities"
	"github.com/drifterza/headplane/internal/headscale"
	"github.com/drifterza/headplane/internal/repository"
	"github.com/drifterza/headplane/internal/service"
)

// partialFailure — отказ запроса ключей одного пользователя в fallback-режиме.
type partialFailure struct {
	User  headscale.User `json:"user"`
	Error string         `json:"error"`
}

// preAuthKeysResponse — ответ GET /api/v1/preauthkeys.
type preAuthKeysResponse struct {
	Groups          []service.KeyGroup `json:"groups"`
	PartialFailures []partialFailure   `json:"partial_failures,omitempty"`
}

// createPreAuthKeyRequest — тело запроса создания ключа.
type createPreAuthKeyRequest struct {
	// User — ID пользователя Headscale-владельца ключа.
	User string `json:"user"`
	// Reusable — ключ можно использовать многократно.
	Reusable bool `json:"reusable"`
	// Ephemeral — узлы по этому ключу удаляются при отключении.
	Ephemeral bool `json:"ephemeral"`
	// Expiration — время истечения (RFC 3339). Пусто — по умолчанию Headscale.
	Expiration string `json:"expiration,omitempty"`
	// ACLTags — теги ключа.
	ACLTags []string `json:"acl_tags,omitempty"`
}

// expirePreAuthKeyRequest — тело запроса истечения ключа.
type expirePreAuthKeyRequest struct {
	User string `json:"user"`
	Key  string `json:"key"`
}

// ListPreAuthKeys — GET /api/v1/preauthkeys.
// Группирует ключи по владельцам: tag-scoped группа первой, затем по
// одной группе на пользователя Headscale. Отказы отдельных пользователей
// в fallback-режиме возвращаются в partial_failures со статусом 200.
// Доступ: CapReadMachines (проверяется route middleware).
func (h *APIHandler) ListPreAuthKeys(w http.ResponseWriter, r *http.Request) {
	users, err := h.controlPlane.ListUsers(r.Context())
	if err != nil {
		h.logger.Error("Ошибка листинга пользователей Headscale",
			slog.String("error", err.Error()),
		)
		apierrors.CPUnavailable(w, "Headscale недоступен")
		return
	}

	groups, failures, err := h.preAuthKeys.List(r.Context(), users)
	if err != nil {
		apierrors.InternalError(w, "Ошибка агрегации ключей")
		return
	}
	if groups == nil {
		groups = []service.KeyGroup{}
	}

	resp := preAuthKeysResponse{Groups: groups}
	for _, f := range failures {
		resp.PartialFailures = append(resp.PartialFailures, partialFailure{
			User:  f.User,
			Error: f.Err.Error(),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

// CreatePreAuthKey — POST /api/v1/preauthkeys.
// Доступ: CapGenerateAuthKeys — любой пользователь-владелец;
// CapGenerateOwnAuthKeys — только собственный связанный пользователь.
func (h *APIHandler) CreatePreAuthKey(w http.ResponseWriter, r *http.Request) {
	var req createPreAuthKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.User == "" {
		apierrors.ValidationError(w, "Поле user обязательно")
		return
	}

	var expiresAt *time.Time
	if req.Expiration != "" {
		parsed, err := time.Parse(time.RFC3339, req.Expiration)
		if err != nil {
			apierrors.ValidationError(w, "Некорректный формат expiration (ожидается RFC 3339)")
			return
		}
		expiresAt = &parsed
	}

	if !h.authorizeKeyOperation(w, r, req.User) {
		return
	}

	key, err := h.controlPlane.CreatePreAuthKey(r.Context(), req.User, req.Ephemeral, req.Reusable, expiresAt, req.ACLTags)
	if err != nil {
		h.logger.Error("Ошибка создания pre-auth ключа",
			slog.String("user", req.User),
			slog.String("error", err.Error()),
		)
		apierrors.CPUnavailable(w, "Headscale недоступен")
		return
	}

	writeJSON(w, http.StatusCreated, key)
}

// ExpirePreAuthKey — POST /api/v1/preauthkeys/expire.
// Правила доступа совпадают с созданием ключа.
func (h *APIHandler) ExpirePreAuthKey(w http.ResponseWriter, r *http.Request) {
	var req expirePreAuthKeyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.User == "" || req.Key == "" {
		apierrors.ValidationError(w, "Поля user и key обязательны")
		return
	}

	if !h.authorizeKeyOperation(w, r, req.User) {
		return
	}

	if err := h.controlPlane.ExpirePreAuthKey(r.Context(), req.User, req.Key); err != nil {
		h.logger.Error("Ошибка истечения pre-auth ключа",
			slog.String("user", req.User),
			slog.String("error", err.Error()),
		)
		apierrors.CPUnavailable(w, "Headscale недоступен")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// authorizeKeyOperation проверяет право сессии на операцию с ключами
// указанного пользователя Headscale. При отказе пишет ответ и возвращает
// false. Ответ 403 всегда общий.
func (h *APIHandler) authorizeKeyOperation(w http.ResponseWriter, r *http.Request, targetUserID string) bool {
	session := middleware.SessionFromContext(r.Context())
	if session == nil {
		apierrors.Unauthorized(w, "Требуется аутентификация")
		return false
	}

	if capabilities.Has(session.Capabilities, capabilities.CapGenerateAuthKeys) {
		return true
	}

	if !capabilities.Has(session.Capabilities, capabilities.CapGenerateOwnAuthKeys) {
		apierrors.Forbidden(w)
		return false
	}

	// Право только на собственные ключи: цель обязана совпадать
	// со связанным пользователем Headscale.
	linked := h.linkedHeadscaleUserID(r, session)
	if linked == "" || linked != targetUserID {
		apierrors.Forbidden(w)
		return false
	}
	return true
}

// linkedHeadscaleUserID возвращает ID связанного пользователя Headscale
// для OIDC-сессии, либо пустую строку.
func (h *APIHandler) linkedHeadscaleUserID(r *http.Request, session *auth.SessionData) string {
	if session.Subject == "" {
		return ""
	}

	user, err := h.users.GetBySubject(r.Context(), session.Subject)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			h.logger.Error("Ошибка поиска пользователя по subject",
				slog.String("subject", session.Subject),
				slog.String("error", err.Error()),
			)
		}
		return ""
	}
	if user.HeadscaleUserID == nil {
		return ""
	}
	return *user.HeadscaleUserID
}
