package config

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/drifterza/headplane/internal/domain/capabilities"
)

// setEnvs устанавливает переменные окружения и возвращает функцию для их очистки.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"HP_DB_HOST":           "localhost",
		"HP_DB_NAME":           "headplane",
		"HP_DB_USER":           "headplane",
		"HP_DB_PASSWORD":       "secret",
		"HP_HEADSCALE_URL":     "https://headscale.example.com",
		"HP_HEADSCALE_API_KEY": "hs-api-key",
		"HP_OIDC_ISSUER":       "https://idp.example.com/realms/headplane",
		"HP_OIDC_CLIENT_ID":    "headplane",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 3000 {
		t.Errorf("Port = %d, ожидается 3000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.DBPort != 5432 {
		t.Errorf("DBPort = %d, ожидается 5432", cfg.DBPort)
	}
	if cfg.DBSSLMode != "disable" {
		t.Errorf("DBSSLMode = %q, ожидается disable", cfg.DBSSLMode)
	}
	if !cfg.OIDCLinkRemoteUsers {
		t.Error("OIDCLinkRemoteUsers должен быть true по умолчанию")
	}
	if cfg.OIDCDefaultRole != capabilities.RoleMember {
		t.Errorf("OIDCDefaultRole = %q, ожидается member", cfg.OIDCDefaultRole)
	}
	if cfg.JWKSRefreshInterval != time.Hour {
		t.Errorf("JWKSRefreshInterval = %v, ожидается 1h", cfg.JWKSRefreshInterval)
	}
	if cfg.JWTLeeway != 30*time.Second {
		t.Errorf("JWTLeeway = %v, ожидается 30s", cfg.JWTLeeway)
	}
	if cfg.DephealthGroup != "headplane" {
		t.Errorf("DephealthGroup = %q, ожидается headplane", cfg.DephealthGroup)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval = %v, ожидается 15s", cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_JWKSAutoDerive(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	expectedJWKS := "https://idp.example.com/realms/headplane/protocol/openid-connect/certs"
	if cfg.OIDCJWKSURL != expectedJWKS {
		t.Errorf("OIDCJWKSURL = %q, ожидается %q", cfg.OIDCJWKSURL, expectedJWKS)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_PORT"] = "8080"
	envs["HP_LOG_LEVEL"] = "debug"
	envs["HP_LOG_FORMAT"] = "text"
	envs["HP_DB_PORT"] = "5433"
	envs["HP_DB_SSL_MODE"] = "require"
	envs["HP_OIDC_LINK_REMOTE_USERS"] = "false"
	envs["HP_OIDC_DEFAULT_ROLE"] = "auditor"
	envs["HP_JWKS_REFRESH_INTERVAL"] = "30m"
	envs["HP_JWT_LEEWAY"] = "1m"
	envs["HP_HEADSCALE_CA_CERT_PATH"] = "/certs/ca.pem"
	envs["HP_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Port = %d, ожидается 8080", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.DBPort != 5433 {
		t.Errorf("DBPort = %d, ожидается 5433", cfg.DBPort)
	}
	if cfg.DBSSLMode != "require" {
		t.Errorf("DBSSLMode = %q, ожидается require", cfg.DBSSLMode)
	}
	if cfg.OIDCLinkRemoteUsers {
		t.Error("OIDCLinkRemoteUsers = true, ожидается false")
	}
	if cfg.OIDCDefaultRole != capabilities.RoleAuditor {
		t.Errorf("OIDCDefaultRole = %q, ожидается auditor", cfg.OIDCDefaultRole)
	}
	if cfg.JWKSRefreshInterval != 30*time.Minute {
		t.Errorf("JWKSRefreshInterval = %v, ожидается 30m", cfg.JWKSRefreshInterval)
	}
	if cfg.JWTLeeway != time.Minute {
		t.Errorf("JWTLeeway = %v, ожидается 1m", cfg.JWTLeeway)
	}
	if cfg.HeadscaleCACertPath != "/certs/ca.pem" {
		t.Errorf("HeadscaleCACertPath = %q, ожидается /certs/ca.pem", cfg.HeadscaleCACertPath)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	requiredVars := []string{
		"HP_DB_HOST", "HP_DB_NAME", "HP_DB_USER", "HP_DB_PASSWORD",
		"HP_HEADSCALE_URL", "HP_HEADSCALE_API_KEY",
		"HP_OIDC_ISSUER", "HP_OIDC_CLIENT_ID",
	}

	for _, missing := range requiredVars {
		t.Run(missing, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, missing)
			// Очищаем все переменные окружения
			for k := range minimalEnvs() {
				os.Unsetenv(k)
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при отсутствии %s", missing)
			}
		})
	}
}

func TestLoad_InvalidPort(t *testing.T) {
	tests := []struct {
		name  string
		value string
	}{
		{"ноль", "0"},
		{"выше диапазона", "70000"},
		{"не число", "abc"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs["HP_PORT"] = tt.value
			for k := range minimalEnvs() {
				os.Unsetenv(k)
			}
			setEnvs(t, envs)

			_, err := Load()
			if err == nil {
				t.Errorf("Load() не вернул ошибку при HP_PORT=%q", tt.value)
			}
		})
	}
}

func TestLoad_InvalidLogFormat(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_LOG_FORMAT"] = "xml"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при HP_LOG_FORMAT=xml")
	}
}

func TestLoad_InvalidSSLMode(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_DB_SSL_MODE"] = "prefer"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при HP_DB_SSL_MODE=prefer")
	}
}

func TestLoad_InvalidDefaultRole(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_OIDC_DEFAULT_ROLE"] = "superuser"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при HP_OIDC_DEFAULT_ROLE=superuser")
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_JWKS_REFRESH_INTERVAL"] = "abc"
	setEnvs(t, envs)

	_, err := Load()
	if err == nil {
		t.Error("Load() не вернул ошибку при HP_JWKS_REFRESH_INTERVAL=abc")
	}
}

func TestLoad_URLTrailingSlash(t *testing.T) {
	envs := minimalEnvs()
	envs["HP_HEADSCALE_URL"] = "https://headscale.example.com/"
	envs["HP_OIDC_ISSUER"] = "https://idp.example.com/realms/headplane/"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}
	if cfg.HeadscaleURL != "https://headscale.example.com" {
		t.Errorf("HeadscaleURL = %q, ожидается без trailing slash", cfg.HeadscaleURL)
	}
	if cfg.OIDCIssuer != "https://idp.example.com/realms/headplane" {
		t.Errorf("OIDCIssuer = %q, ожидается без trailing slash", cfg.OIDCIssuer)
	}
}

func TestDatabaseDSN(t *testing.T) {
	cfg := &Config{
		DBHost:     "db.example.com",
		DBPort:     5432,
		DBName:     "headplane",
		DBUser:     "user",
		DBPassword: "pass",
		DBSSLMode:  "disable",
	}
	expected := "host=db.example.com port=5432 dbname=headplane user=user password=pass sslmode=disable"
	if dsn := cfg.DatabaseDSN(); dsn != expected {
		t.Errorf("DatabaseDSN() = %q, ожидается %q", dsn, expected)
	}
}

func TestSetupLogger(t *testing.T) {
	tests := []struct {
		name   string
		format string
	}{
		{"json", "json"},
		{"text", "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				LogLevel:  slog.LevelInfo,
				LogFormat: tt.format,
			}
			logger := SetupLogger(cfg)
			if logger == nil {
				t.Error("SetupLogger() вернул nil")
			}
		})
	}
}
