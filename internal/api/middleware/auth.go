// auth.go — middleware аутентификации по зашифрованному session cookie
// и проверка прав по битовой маске capabilities.
package middleware

import (
	"context"
	"log/slog"
	"net/http"

	apierrors "github.com/drifterza/headplane/internal/api/errors"
	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/domain/capabilities"
)

// contextKey — приватный тип ключа контекста (исключает коллизии между пакетами).
type contextKey string

// sessionContextKey — ключ для SessionData в request context.
const sessionContextKey contextKey = "headplane_session"

// SessionAuth — middleware аутентификации веб-сессий.
// Дешифрует session cookie и кладёт SessionData в request context.
type SessionAuth struct {
	sessions *auth.SessionManager
	logger   *slog.Logger
}

// NewSessionAuth создаёт middleware аутентификации сессий.
func NewSessionAuth(sessions *auth.SessionManager, logger *slog.Logger) *SessionAuth {
	return &SessionAuth{
		sessions: sessions,
		logger:   logger.With(slog.String("component", "session_auth")),
	}
}

// Middleware возвращает HTTP middleware проверки сессии.
// Запросы без валидной, не истёкшей сессии получают 401.
func (sa *SessionAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session, err := sa.sessions.GetSessionFromRequest(r)
			if err != nil {
				// Cookie есть, но не дешифруется: чужой ключ или мусор
				sa.logger.Warn("Невалидный session cookie",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Некорректная сессия")
				return
			}
			if session == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if session.IsExpired() {
				apierrors.Unauthorized(w, "Сессия истекла")
				return
			}

			ctx := context.WithValue(r.Context(), sessionContextKey, session)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionFromContext извлекает SessionData из request context.
// Возвращает nil если запрос не проходил через SessionAuth.
func SessionFromContext(ctx context.Context) *auth.SessionData {
	session, _ := ctx.Value(sessionContextKey).(*auth.SessionData)
	return session
}

// RequireCapability возвращает middleware, пропускающий запрос только
// при наличии указанного права в маске сессии. Ответ 403 всегда общий:
// имя недостающего права клиенту не сообщается.
func RequireCapability(required capabilities.Capability) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			session := SessionFromContext(r.Context())
			if session == nil {
				apierrors.Unauthorized(w, "Требуется аутентификация")
				return
			}
			if !capabilities.Has(session.Capabilities, required) {
				apierrors.Forbidden(w)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
