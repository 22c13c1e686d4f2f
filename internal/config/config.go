// Пакет config — загрузка и валидация конфигурации Headplane
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drifterza/headplane/internal/domain/capabilities"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Headplane.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Headscale (control plane) ---

	// URL Headscale API (например, https://headscale.example.com)
	HeadscaleURL string
	// Привилегированный API-ключ для серверных операций
	HeadscaleAPIKey string
	// Путь к CA-сертификату для TLS-соединений с Headscale (опционально)
	HeadscaleCACertPath string

	// --- OIDC ---

	// Issuer URL внешнего Identity Provider
	OIDCIssuer string
	// Client ID (public client, PKCE)
	OIDCClientID string
	// URL JWKS endpoint (авто-вычисляется из Issuer, если не задан)
	OIDCJWKSURL string
	// Связывать локальных пользователей с пользователями Headscale по providerId
	OIDCLinkRemoteUsers bool
	// Роль, назначаемая новым пользователям после появления владельца
	OIDCDefaultRole capabilities.Role
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Допустимое отклонение времени при проверке ID-токена
	JWTLeeway time.Duration

	// --- Сессии ---

	// Секрет шифрования UI-сессий (AES-256-GCM)
	SessionSecret string

	// --- Мониторинг зависимостей ---

	// Группа topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// HP_PORT — порт HTTP-сервера (по умолчанию 3000)
	cfg.Port, err = getEnvInt("HP_PORT", 3000)
	if err != nil {
		return nil, fmt.Errorf("HP_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("HP_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// HP_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("HP_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("HP_LOG_LEVEL: %w", err)
	}

	// HP_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("HP_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("HP_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// HP_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("HP_DB_HOST")
	if err != nil {
		return nil, err
	}

	// HP_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("HP_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("HP_DB_PORT: %w", err)
	}

	// HP_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("HP_DB_NAME")
	if err != nil {
		return nil, err
	}

	// HP_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("HP_DB_USER")
	if err != nil {
		return nil, err
	}

	// HP_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("HP_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// HP_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("HP_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("HP_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Headscale ---

	// HP_HEADSCALE_URL — обязательный
	cfg.HeadscaleURL, err = getEnvRequired("HP_HEADSCALE_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.HeadscaleURL = strings.TrimRight(cfg.HeadscaleURL, "/")

	// HP_HEADSCALE_API_KEY — обязательный
	cfg.HeadscaleAPIKey, err = getEnvRequired("HP_HEADSCALE_API_KEY")
	if err != nil {
		return nil, err
	}

	// HP_HEADSCALE_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.HeadscaleCACertPath = getEnvDefault("HP_HEADSCALE_CA_CERT_PATH", "")

	// --- OIDC ---

	// HP_OIDC_ISSUER — обязательный
	cfg.OIDCIssuer, err = getEnvRequired("HP_OIDC_ISSUER")
	if err != nil {
		return nil, err
	}
	cfg.OIDCIssuer = strings.TrimRight(cfg.OIDCIssuer, "/")

	// HP_OIDC_CLIENT_ID — обязательный
	cfg.OIDCClientID, err = getEnvRequired("HP_OIDC_CLIENT_ID")
	if err != nil {
		return nil, err
	}

	// HP_OIDC_JWKS_URL — авто-вычисляется из Issuer, если не задан
	cfg.OIDCJWKSURL = getEnvDefault("HP_OIDC_JWKS_URL",
		cfg.OIDCIssuer+"/protocol/openid-connect/certs")

	// HP_OIDC_LINK_REMOTE_USERS — связывание с пользователями Headscale (по умолчанию true)
	cfg.OIDCLinkRemoteUsers, err = getEnvBool("HP_OIDC_LINK_REMOTE_USERS", true)
	if err != nil {
		return nil, fmt.Errorf("HP_OIDC_LINK_REMOTE_USERS: %w", err)
	}

	// HP_OIDC_DEFAULT_ROLE — роль новых пользователей (по умолчанию member)
	defaultRole := getEnvDefault("HP_OIDC_DEFAULT_ROLE", string(capabilities.RoleMember))
	if !capabilities.ValidRole(defaultRole) {
		return nil, fmt.Errorf("HP_OIDC_DEFAULT_ROLE: недопустимая роль %q", defaultRole)
	}
	cfg.OIDCDefaultRole = capabilities.Role(defaultRole)

	// HP_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("HP_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("HP_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// HP_JWT_LEEWAY — допустимое отклонение времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("HP_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HP_JWT_LEEWAY: %w", err)
	}

	// --- Сессии ---

	// HP_SESSION_SECRET — секрет шифрования сессий (опционально,
	// без него сессии не переживают рестарт)
	cfg.SessionSecret = getEnvDefault("HP_SESSION_SECRET", "")

	// --- Мониторинг зависимостей ---

	// HP_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию headplane)
	cfg.DephealthGroup = getEnvDefault("HP_DEPHEALTH_GROUP", "headplane")

	// HP_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("HP_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HP_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// HP_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("HP_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("HP_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL (для метрик topologymetrics).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
