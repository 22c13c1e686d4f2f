// users.go — обработчик GET /api/v1/users.
// Возвращает локальных пользователей Headplane вместе со списком
// пользователей Headscale (для сопоставления линковки).
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/drifterza/headplane/internal/api/errors"
	"github.com/drifterza/headplane/internal/domain/model"
	"github.com/drifterza/headplane/internal/headscale"
)

// usersResponse — ответ листинга пользователей.
type usersResponse struct {
	// Users — локальные пользователи (identity subsystem).
	Users []*model.User `json:"users"`
	// HeadscaleUsers — пользователи control plane.
	// null если Headscale недоступен (локальный список всё равно отдаётся).
	HeadscaleUsers []headscale.User `json:"headscale_users"`
}

// ListUsers — GET /api/v1/users.
// Доступ: CapReadUsers (проверяется route middleware).
func (h *APIHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := paginationDefaults(r.URL.Query())

	local, err := h.users.List(r.Context(), limit, offset)
	if err != nil {
		h.logger.Error("Ошибка листинга пользователей", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка получения списка пользователей")
		return
	}
	if local == nil {
		local = []*model.User{}
	}

	// Headscale best-effort: недоступность не ломает локальный листинг
	remote, err := h.controlPlane.ListUsers(r.Context())
	if err != nil {
		h.logger.Warn("Headscale недоступен при листинге пользователей",
			slog.String("error", err.Error()),
		)
		remote = nil
	}

	writeJSON(w, http.StatusOK, usersResponse{
		Users:          local,
		HeadscaleUsers: remote,
	})
}
