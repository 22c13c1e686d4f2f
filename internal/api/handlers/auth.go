// auth.go — обработчики аутентификации Headplane.
// POST /api/v1/auth/apikey — вход по API-ключу Headscale
// GET /oidc/start, GET /oidc/callback — OIDC (Authorization Code + PKCE)
// POST /api/v1/auth/logout — выход
package handlers

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/drifterza/headplane/internal/api/errors"
	"github.com/drifterza/headplane/internal/api/middleware"
	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/domain/capabilities"
	"github.com/drifterza/headplane/internal/service"
)

// Имя cookie для хранения PKCE state (code_verifier + state).
const stateCookieName = "headplane_auth_state"

// stateCookieMaxAge — максимальный возраст state cookie (5 минут).
const stateCookieMaxAge = 5 * 60

// stateData — данные, сохраняемые в state cookie на время auth flow.
type stateData struct {
	// State — CSRF state parameter.
	State string `json:"state"`
	// CodeVerifier — PKCE code_verifier для обмена code → tokens.
	CodeVerifier string `json:"code_verifier"`
}

// apiKeyLoginRequest — тело запроса входа по API-ключу.
type apiKeyLoginRequest struct {
	APIKey string `json:"api_key"`
}

// loginResponse — ответ успешного входа.
type loginResponse struct {
	Method      string `json:"method"`
	KeyPrefix   string `json:"key_prefix,omitempty"`
	Subject     string `json:"subject,omitempty"`
	DisplayName string `json:"display_name,omitempty"`
	ExpiresAt   string `json:"expires_at"`
}

// LoginAPIKey — POST /api/v1/auth/apikey.
// Проверяет API-ключ через Headscale и создаёт зашифрованную cookie-сессию.
// Владелец валидного API-ключа control plane получает полную маску прав.
func (h *APIHandler) LoginAPIKey(w http.ResponseWriter, r *http.Request) {
	var req apiKeyLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса")
		return
	}

	session, err := h.authenticator.Authenticate(r.Context(), req.APIKey)
	if err != nil {
		var authErr *auth.AuthError
		if errors.As(err, &authErr) {
			// Текст ошибки — часть контракта, отдаётся как есть
			apierrors.Unauthorized(w, authErr.Message)
			return
		}
		h.logger.Error("Проверка API-ключа не удалась",
			slog.String("error", err.Error()),
		)
		apierrors.CPUnavailable(w, "Headscale недоступен")
		return
	}

	// Сессия живёт до истечения ключа, но не дольше лимита cookie
	expiresAt := session.ExpiresAt
	if maxExpiry := time.Now().Add(auth.SessionCookieMaxAge * time.Second); maxExpiry.Before(expiresAt) {
		expiresAt = maxExpiry
	}

	sessionData := &auth.SessionData{
		Method:       auth.MethodAPIKey,
		APIKey:       session.APIKey,
		KeyPrefix:    session.Prefix,
		Capabilities: capabilities.OwnerMask(),
		ExpiresAt:    expiresAt.Unix(),
	}
	if err := h.sessions.SetSessionCookie(w, sessionData); err != nil {
		h.logger.Error("Ошибка установки session cookie", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания сессии")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Method:    auth.MethodAPIKey,
		KeyPrefix: session.Prefix,
		ExpiresAt: expiresAt.UTC().Format(time.RFC3339),
	})
}

// OIDCStart — GET /oidc/start.
// Генерирует PKCE и state, сохраняет в short-lived cookie,
// redirect на authorize endpoint IdP.
func (h *APIHandler) OIDCStart(w http.ResponseWriter, r *http.Request) {
	pkce, err := auth.GeneratePKCE()
	if err != nil {
		h.logger.Error("Ошибка генерации PKCE", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("Ошибка генерации state", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка сервера")
		return
	}

	// Сохраняем state + code_verifier в short-lived cookie
	sd := &stateData{
		State:        state,
		CodeVerifier: pkce.CodeVerifier,
	}
	sdJSON, _ := json.Marshal(sd)
	sdEncoded := base64.URLEncoding.EncodeToString(sdJSON)

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    sdEncoded,
		Path:     "/oidc",
		MaxAge:   stateCookieMaxAge,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	redirectURI := buildBaseURL(r) + "/oidc/callback"
	authorizeURL := h.oidc.AuthorizeURL(redirectURI, state, pkce.CodeChallenge)

	h.logger.Debug("Redirect на IdP login",
		slog.String("authorize_url", authorizeURL),
	)

	http.Redirect(w, r, authorizeURL, http.StatusFound)
}

// OIDCCallback — GET /oidc/callback.
// Обменивает authorization code на tokens, валидирует ID-токен,
// выполняет bootstrap-upsert пользователя и линковку с Headscale,
// создаёт session cookie.
func (h *APIHandler) OIDCCallback(w http.ResponseWriter, r *http.Request) {
	// 1. Проверяем ошибку от IdP
	if errCode := r.URL.Query().Get("error"); errCode != "" {
		errDesc := r.URL.Query().Get("error_description")
		h.logger.Warn("IdP вернул ошибку авторизации",
			slog.String("error", errCode),
			slog.String("description", errDesc),
		)
		apierrors.ValidationError(w, "Ошибка авторизации: "+errCode)
		return
	}

	// 2. Извлекаем authorization code и state
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		apierrors.ValidationError(w, "Отсутствует code или state")
		return
	}

	// 3. Извлекаем и валидируем state cookie
	sd, err := h.readStateCookie(r)
	if err != nil {
		h.logger.Warn("Некорректный state cookie", slog.String("error", err.Error()))
		apierrors.ValidationError(w, "Сессия авторизации истекла, попробуйте ещё раз")
		return
	}

	// 4. Валидируем state (CSRF-защита)
	if sd.State != state {
		h.logger.Warn("State mismatch (возможная CSRF атака)",
			slog.String("remote_addr", r.RemoteAddr),
		)
		apierrors.ValidationError(w, "State mismatch")
		return
	}

	// 5. Удаляем state cookie (одноразовый)
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookieName,
		Value:    "",
		Path:     "/oidc",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})

	// 6. Обмениваем code на tokens
	redirectURI := buildBaseURL(r) + "/oidc/callback"
	tokenResp, err := h.oidc.ExchangeCode(r.Context(), code, redirectURI, sd.CodeVerifier)
	if err != nil {
		h.logger.Error("Ошибка обмена code на tokens", slog.String("error", err.Error()))
		apierrors.IDPUnavailable(w, "Ошибка аутентификации")
		return
	}

	// 7. Валидируем ID-токен (подпись, issuer, audience, exp)
	profile, err := h.validator.Validate(r.Context(), tokenResp.IDToken)
	if err != nil {
		h.logger.Warn("Невалидный ID-токен", slog.String("error", err.Error()))
		apierrors.Unauthorized(w, "Невалидный ID-токен")
		return
	}

	// 8. Bootstrap-upsert пользователя + линковка с Headscale
	user, err := h.login.CompleteOIDCLogin(r.Context(), profile)
	if err != nil {
		if errors.Is(err, service.ErrValidation) {
			apierrors.ValidationError(w, "Некорректный профиль пользователя")
			return
		}
		h.logger.Error("Ошибка завершения OIDC-логина",
			slog.String("subject", profile.Subject),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Ошибка создания пользователя")
		return
	}

	// 9. Устанавливаем session cookie
	sessionData := &auth.SessionData{
		Method:       auth.MethodOIDC,
		Subject:      user.Subject,
		Capabilities: user.Capabilities,
		DisplayName:  user.DisplayName,
		IDToken:      tokenResp.IDToken,
		ExpiresAt:    time.Now().Add(auth.SessionCookieMaxAge * time.Second).Unix(),
	}
	if err := h.sessions.SetSessionCookie(w, sessionData); err != nil {
		h.logger.Error("Ошибка установки session cookie", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Ошибка создания сессии")
		return
	}

	h.logger.Info("Пользователь аутентифицирован через OIDC",
		slog.String("subject", user.Subject),
	)

	http.Redirect(w, r, "/", http.StatusFound)
}

// Logout — POST /api/v1/auth/logout.
// Очищает session cookie. Для OIDC-сессий возвращает logout URL IdP
// с id_token_hint для завершения сессии на стороне провайдера.
func (h *APIHandler) Logout(w http.ResponseWriter, r *http.Request) {
	session := middleware.SessionFromContext(r.Context())

	h.sessions.ClearSessionCookie(w)

	var logoutURL string
	if session != nil && session.Method == auth.MethodOIDC {
		logoutURL = h.oidc.LogoutURL(session.IDToken, buildBaseURL(r)+"/")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"logout_url": logoutURL,
	})
}

// readStateCookie извлекает и парсит state cookie auth flow.
func (h *APIHandler) readStateCookie(r *http.Request) (*stateData, error) {
	stateCookie, err := r.Cookie(stateCookieName)
	if err != nil {
		return nil, err
	}

	sdJSON, err := base64.URLEncoding.DecodeString(stateCookie.Value)
	if err != nil {
		return nil, err
	}

	var sd stateData
	if err := json.Unmarshal(sdJSON, &sd); err != nil {
		return nil, err
	}
	return &sd, nil
}
