// apikey.go — аутентификация по API-ключу Headscale.
// Ключ имеет форму <prefix>.<secret>. Секрет локально не сравнивается:
// его валидность подтверждается тем, что весь ключ используется как
// Bearer-токен при запросе списка ключей. Локально сверяется только
// prefix — сервер отдаёт его частично скрытым символами '*'.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/drifterza/headplane/internal/headscale"
)

// Reason — категория ошибки аутентификации.
type Reason string

const (
	ReasonMissing   Reason = "missing"
	ReasonEmpty     Reason = "empty"
	ReasonNotFound  Reason = "not_found"
	ReasonExpired   Reason = "expired"
	ReasonMalformed Reason = "malformed"
)

// AuthError — ошибка аутентификации по API-ключу.
// Текст сообщения — часть контракта: содержит категорию
// ("missing", "empty", "not found", "expired", "malformed").
type AuthError struct {
	Reason  Reason
	Message string
}

func (e *AuthError) Error() string {
	return e.Message
}

// Session — результат успешной аутентификации по API-ключу.
// APIKey хранит полный ключ: он нужен для последующих
// привилегированных запросов. В логи целиком не попадает.
type Session struct {
	APIKey    string
	Prefix    string
	ExpiresAt time.Time
}

// KeyLister — минимальный интерфейс клиента control plane
// для аутентификатора: листинг API-ключей под произвольным Bearer.
type KeyLister interface {
	ListAPIKeys(ctx context.Context) ([]headscale.APIKey, error)
}

// Authenticator проверяет пользовательские API-ключи.
type Authenticator struct {
	// newClient создаёт клиент, авторизованный проверяемым ключом.
	newClient func(rawKey string) KeyLister
	logger    *slog.Logger
}

// NewAuthenticator создаёт аутентификатор.
// newClient — фабрика клиентов с подменой Bearer-ключа
// (обычно замыкание над headscale.Client.WithAPIKey).
func NewAuthenticator(newClient func(rawKey string) KeyLister, logger *slog.Logger) *Authenticator {
	return &Authenticator{
		newClient: newClient,
		logger:    logger.With(slog.String("component", "apikey_auth")),
	}
}

// Authenticate проверяет raw API-ключ и возвращает сессию.
// Алгоритм:
//  1. Пустой ключ или отсутствующий/пустой prefix — AuthError.
//  2. Листинг ключей под проверяемым ключом — неявная проверка секрета.
//  3. Wildcard-сравнение prefix: длины равны, '*' в хранимом prefix
//     совпадает с любым символом. Побеждает первое совпадение.
//  4. Совпавший ключ без expiration — malformed, с истёкшим — expired.
func (a *Authenticator) Authenticate(ctx context.Context, rawKey string) (*Session, error) {
	if rawKey == "" {
		return nil, &AuthError{Reason: ReasonMissing, Message: "api key is missing"}
	}

	dot := strings.Index(rawKey, ".")
	if dot < 0 {
		return nil, &AuthError{Reason: ReasonMissing, Message: "api key prefix is missing"}
	}
	prefix := rawKey[:dot]
	if prefix == "" {
		return nil, &AuthError{Reason: ReasonEmpty, Message: "api key prefix is empty"}
	}

	keys, err := a.newClient(rawKey).ListAPIKeys(ctx)
	if err != nil {
		// Невалидный секрет проявится здесь как 401 от сервера.
		a.logger.Debug("Листинг API-ключей не удался",
			slog.String("prefix", prefix),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("проверка API-ключа: %w", err)
	}

	var matched *headscale.APIKey
	for i := range keys {
		if matchPrefix(keys[i].Prefix, prefix) {
			matched = &keys[i]
			break
		}
	}
	if matched == nil {
		return nil, &AuthError{Reason: ReasonNotFound, Message: "api key not found"}
	}

	if matched.Expiration == nil {
		return nil, &AuthError{Reason: ReasonMalformed, Message: "api key is malformed: no expiration"}
	}
	if !time.Now().Before(*matched.Expiration) {
		return nil, &AuthError{Reason: ReasonExpired, Message: "api key is expired"}
	}

	a.logger.Info("API-ключ аутентифицирован",
		slog.String("prefix", prefix),
		slog.Time("expires_at", *matched.Expiration),
	)

	return &Session{
		APIKey:    rawKey,
		Prefix:    prefix,
		ExpiresAt: *matched.Expiration,
	}, nil
}

// matchPrefix сравнивает хранимый prefix (может содержать '*')
// с предъявленным. Длины обязаны совпадать; '*' в хранимом
// значении совпадает с любым символом на той же позиции.
func matchPrefix(stored, submitted string) bool {
	if len(stored) != len(submitted) {
		return false
	}
	for i := 0; i < len(stored); i++ {
		if stored[i] == '*' {
			continue
		}
		if stored[i] != submitted[i] {
			return false
		}
	}
	return true
}
