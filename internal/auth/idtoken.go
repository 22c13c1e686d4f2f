// idtoken.go — валидация ID-токена IdP через JWKS.
// Подпись проверяется ключами из JWKS endpoint (фоновое обновление),
// затем из claims извлекается профиль пользователя.
package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Profile — профиль пользователя из claims ID-токена.
type Profile struct {
	// Subject — sub (стабильный идентификатор пользователя в IdP).
	Subject string
	// Email — email.
	Email string
	// DisplayName — name.
	DisplayName string
	// PictureURL — picture.
	PictureURL string
}

// idTokenClaims — raw claims ID-токена для парсинга.
type idTokenClaims struct {
	jwt.RegisteredClaims
	Email   string `json:"email,omitempty"`
	Name    string `json:"name,omitempty"`
	Picture string `json:"picture,omitempty"`
}

// IDTokenValidator проверяет подпись и claims ID-токена.
type IDTokenValidator struct {
	jwks     keyfunc.Keyfunc
	issuer   string
	clientID string
	leeway   time.Duration
	logger   *slog.Logger
}

// NewIDTokenValidator создаёт валидатор с JWKS из IdP.
// jwksURL — URL JWKS endpoint (HP_OIDC_JWKS_URL).
// caCertPath — опциональный путь к CA-сертификату для TLS.
// issuer — ожидаемый issuer ID-токена.
// clientID — ожидаемый audience (Client ID).
// refreshInterval — интервал фонового обновления JWKS (HP_JWKS_REFRESH_INTERVAL).
// leeway — допустимое отклонение времени (HP_JWT_LEEWAY).
func NewIDTokenValidator(
	jwksURL string,
	caCertPath string,
	issuer string,
	clientID string,
	refreshInterval time.Duration,
	leeway time.Duration,
	logger *slog.Logger,
) (*IDTokenValidator, error) {
	// HTTP-клиент для JWKS (с кастомным CA или стандартный)
	httpClient := http.DefaultClient
	if caCertPath != "" {
		var err error
		httpClient, err = httpClientWithCA(caCertPath, 30*time.Second)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата %s: %w", caCertPath, err)
		}
		logger.Info("CA-сертификат для JWKS добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    httpClient,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           refreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	return &IDTokenValidator{
		jwks:     k,
		issuer:   issuer,
		clientID: clientID,
		leeway:   leeway,
		logger:   logger.With(slog.String("component", "idtoken_validator")),
	}, nil
}

// NewIDTokenValidatorWithKeyfunc создаёт валидатор с предоставленной keyfunc.
// Используется в тестах для подстановки mock JWKS.
func NewIDTokenValidatorWithKeyfunc(kf keyfunc.Keyfunc, issuer, clientID string, logger *slog.Logger) *IDTokenValidator {
	return &IDTokenValidator{
		jwks:     kf,
		issuer:   issuer,
		clientID: clientID,
		logger:   logger.With(slog.String("component", "idtoken_validator")),
	}
}

// Validate проверяет подпись (RS256), issuer, audience и срок действия
// ID-токена. Возвращает профиль пользователя из claims.
func (v *IDTokenValidator) Validate(ctx context.Context, rawToken string) (*Profile, error) {
	rawClaims := &idTokenClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(v.leeway),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.clientID != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.clientID))
	}

	token, err := jwt.ParseWithClaims(rawToken, rawClaims, v.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return nil, fmt.Errorf("валидация ID-токена: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("невалидный ID-токен")
	}

	subject, err := rawClaims.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("отсутствует sub в ID-токене")
	}

	return &Profile{
		Subject:     subject,
		Email:       rawClaims.Email,
		DisplayName: rawClaims.Name,
		PictureURL:  rawClaims.Picture,
	}, nil
}

// httpClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func httpClientWithCA(caCertPath string, timeout time.Duration) (*http.Client, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
