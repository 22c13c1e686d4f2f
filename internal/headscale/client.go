// Пакет headscale — HTTP-клиент к Headscale REST API.
// Поддерживает TLS с кастомным CA (HP_HEADSCALE_CA_CERT_PATH).
// Авторизация — Bearer API-ключ; WithAPIKey создаёт копию клиента
// с другим ключом (для проверки пользовательских ключей).
package headscale

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

// ErrUnsupportedEndpoint — endpoint отсутствует в этой версии Headscale.
// Внутренний сигнал: потребляется только fallback-логикой агрегатора,
// наружу не отдаётся.
var ErrUnsupportedEndpoint = errors.New("endpoint не поддерживается этой версией Headscale")

// Client — HTTP-клиент к Headscale REST API.
type Client struct {
	baseURL string // Базовый URL Headscale (без trailing slash)
	apiKey  string // Bearer API-ключ

	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент Headscale.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, apiKey, caCertPath string, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: 30 * time.Second}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата Headscale: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат Headscale добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "headscale_client")),
	}, nil
}

// WithAPIKey возвращает копию клиента с другим Bearer-ключом.
// Используется аутентификатором: пользовательский ключ проверяется
// тем, что им выполняется привилегированный запрос.
func (c *Client) WithAPIKey(apiKey string) *Client {
	clone := *c
	clone.apiKey = apiKey
	return &clone
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет HTTP-запрос к Headscale API с Bearer-авторизацией.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	reqURL := c.baseURL + "/api/v1" + path
	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("создание запроса: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("Headscale API вернул статус %d: %s", resp.StatusCode, string(body))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Headscale: %w", err)
		}
	}

	return nil
}

// --- Users API ---

// ListUsers возвращает всех пользователей Headscale.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/user", nil)
	if err != nil {
		return nil, fmt.Errorf("запрос списка пользователей: %w", err)
	}

	var out usersResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("ListUsers: %w", err)
	}

	return out.Users, nil
}

// CreateUser создаёт пользователя Headscale.
// email, displayName, pictureURL — опциональные (пустая строка — не задано).
func (c *Client) CreateUser(ctx context.Context, name, email, displayName, pictureURL string) (*User, error) {
	createReq := createUserRequest{
		Name:        name,
		DisplayName: displayName,
		Email:       email,
		PictureURL:  pictureURL,
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/user", createReq)
	if err != nil {
		return nil, fmt.Errorf("запрос создания пользователя: %w", err)
	}

	var out userResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("CreateUser: %w", err)
	}

	return &out.User, nil
}

// --- API keys ---

// ListAPIKeys возвращает список API-ключей. Сервер скрывает часть
// символов prefix символом '*'.
func (c *Client) ListAPIKeys(ctx context.Context) ([]APIKey, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/apikey", nil)
	if err != nil {
		return nil, fmt.Errorf("запрос списка API-ключей: %w", err)
	}

	var out apiKeysResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("ListAPIKeys: %w", err)
	}

	return out.APIKeys, nil
}

// --- Pre-auth keys ---

// ListAllPreAuthKeys возвращает pre-auth ключи всех пользователей одним
// запросом. Старые версии Headscale не поддерживают листинг без параметра
// user — в этом случае возвращается ErrUnsupportedEndpoint.
func (c *Client) ListAllPreAuthKeys(ctx context.Context) ([]PreAuthKey, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/preauthkey", nil)
	if err != nil {
		return nil, fmt.Errorf("запрос всех pre-auth ключей: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusNotImplemented:
		resp.Body.Close()
		return nil, ErrUnsupportedEndpoint
	}

	var out preAuthKeysResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("ListAllPreAuthKeys: %w", err)
	}

	return out.PreAuthKeys, nil
}

// ListPreAuthKeys возвращает pre-auth ключи одного пользователя.
func (c *Client) ListPreAuthKeys(ctx context.Context, userID string) ([]PreAuthKey, error) {
	path := "/preauthkey?user=" + url.QueryEscape(userID)
	resp, err := c.doAuthorized(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("запрос pre-auth ключей пользователя %s: %w", userID, err)
	}

	var out preAuthKeysResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("ListPreAuthKeys: %w", err)
	}

	return out.PreAuthKeys, nil
}

// CreatePreAuthKey создаёт pre-auth ключ.
// userID == "" — tag-scoped ключ (владелец отсутствует, нужны aclTags).
func (c *Client) CreatePreAuthKey(ctx context.Context, userID string, ephemeral, reusable bool, expiresAt *time.Time, tags []string) (*PreAuthKey, error) {
	createReq := createPreAuthKeyRequest{
		User:       userID,
		Reusable:   reusable,
		Ephemeral:  ephemeral,
		Expiration: expiresAt,
		ACLTags:    tags,
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/preauthkey", createReq)
	if err != nil {
		return nil, fmt.Errorf("запрос создания pre-auth ключа: %w", err)
	}

	var out preAuthKeyResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("CreatePreAuthKey: %w", err)
	}

	return &out.PreAuthKey, nil
}

// ExpirePreAuthKey досрочно завершает срок действия pre-auth ключа.
func (c *Client) ExpirePreAuthKey(ctx context.Context, userID, key string) error {
	expireReq := expirePreAuthKeyRequest{
		User: userID,
		Key:  key,
	}

	resp, err := c.doAuthorized(ctx, http.MethodPost, "/preauthkey/expire", expireReq)
	if err != nil {
		return fmt.Errorf("запрос завершения pre-auth ключа: %w", err)
	}

	if err := decodeResponse(resp, nil); err != nil {
		return fmt.Errorf("ExpirePreAuthKey: %w", err)
	}

	return nil
}

// --- Nodes ---

// RegisterNode регистрирует узел за пользователем по node key.
func (c *Client) RegisterNode(ctx context.Context, userID, nodeKey string) (*Node, error) {
	path := fmt.Sprintf("/node/register?user=%s&key=%s",
		url.QueryEscape(userID), url.QueryEscape(nodeKey))

	resp, err := c.doAuthorized(ctx, http.MethodPost, path, nil)
	if err != nil {
		return nil, fmt.Errorf("запрос регистрации узла: %w", err)
	}

	var out nodeResponse
	if err := decodeResponse(resp, &out); err != nil {
		return nil, fmt.Errorf("RegisterNode: %w", err)
	}

	return &out.Node, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Headscale через листинг пользователей.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := c.ListUsers(ctx); err != nil {
		return "fail", fmt.Sprintf("Headscale недоступен: %v", err)
	}

	return "ok", "Headscale доступен"
}

// BaseURL возвращает базовый URL Headscale (для dephealth-проверок).
func (c *Client) BaseURL() string {
	return c.baseURL
}
