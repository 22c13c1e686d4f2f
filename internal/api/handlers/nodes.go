// nodes.go — обработчик POST /api/v1/nodes/register.
// Ручная регистрация узла по node key за пользователя Headscale.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	apierrors "github.com/drifterza/headplane/internal/api/errors"
)

// registerNodeRequest — тело запроса регистрации узла.
type registerNodeRequest struct {
	User    string `json:"user"`
	NodeKey string `json:"node_key"`
}

// RegisterNode — POST /api/v1/nodes/register.
// Доступ: CapWriteMachines (проверяется route middleware).
func (h *APIHandler) RegisterNode(w http.ResponseWriter, r *http.Request) {
	var req registerNodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}
	if req.User == "" || req.NodeKey == "" {
		apierrors.ValidationError(w, "Поля user и node_key обязательны")
		return
	}

	node, err := h.controlPlane.RegisterNode(r.Context(), req.User, req.NodeKey)
	if err != nil {
		h.logger.Error("Ошибка регистрации узла",
			slog.String("user", req.User),
			slog.String("error", err.Error()),
		)
		apierrors.CPUnavailable(w, "Headscale недоступен")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"node": node})
}
