// client.go — HTTP-клиент к Keycloak Admin REST API.
// Токен service account (Client Credentials) кэшируется и обновляется
// за tokenMargin до истечения.
// Операции: GetRealmRole, CreateRealmRole, UpdateRealmRole, RoleComposites,
// UserRealmRoles, AddUserRealmRoles, RemoveUserRealmRoles, RealmInfo.
package keycloak

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/arturkryukov/artstore/federation-module/internal/domain/model"
)

// Ошибки клиента Keycloak.
var (
	// ErrNotFound — ресурс не найден (HTTP 404).
	ErrNotFound = model.ErrNotFound
	// ErrConflict — ресурс уже существует (HTTP 409).
	ErrConflict = model.ErrConflict
	// ErrUnavailable — Keycloak недоступен (сетевая ошибка, 5xx, ошибка получения токена).
	ErrUnavailable = model.ErrDirectoryUnavailable
)

// Client — HTTP-клиент к Keycloak Admin REST API.
type Client struct {
	baseURL      string // Базовый URL Keycloak (без trailing slash)
	realm        string // Имя realm
	clientID     string // Client ID для Client Credentials flow
	clientSecret string // Client Secret

	httpClient *http.Client
	logger     *slog.Logger

	// Кэш токена доступа
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// New создаёт клиент к Keycloak Admin REST API.
// baseURL — базовый URL Keycloak (например, https://keycloak.kryukov.lan).
// realm — имя realm (например, artstore).
// clientID, clientSecret — credentials для Client Credentials flow.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func New(baseURL, realm, clientID, clientSecret string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		realm:        realm,
		clientID:     clientID,
		clientSecret: clientSecret,
		httpClient:   httpClient,
		logger:       logger.With(slog.String("component", "keycloak_client")),
	}
}

// --- Аутентификация ---

// tokenEndpoint возвращает URL endpoint'а получения токена.
func (c *Client) tokenEndpoint() string {
	return fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token", c.baseURL, c.realm)
}

// adminBaseURL возвращает базовый URL Admin REST API для realm.
func (c *Client) adminBaseURL() string {
	return fmt.Sprintf("%s/admin/realms/%s", c.baseURL, c.realm)
}

// tokenMargin — за сколько до истечения кэшированный токен считается устаревшим.
const tokenMargin = 30 * time.Second

// getToken возвращает кэшированный токен service account или запрашивает новый.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Add(tokenMargin).Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	token, err := c.requestToken(ctx)
	if err != nil {
		return "", err
	}
	c.accessToken = token.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)

	c.logger.Debug("Токен service account обновлён", slog.Time("expires_at", c.tokenExpiry))
	return c.accessToken, nil
}

// invalidateToken сбрасывает кэш, если в нём всё ещё отвергнутый токен.
func (c *Client) invalidateToken(rejected string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken == rejected {
		c.accessToken = ""
		c.tokenExpiry = time.Time{}
	}
}

// requestToken выполняет Client Credentials flow.
func (c *Client) requestToken(ctx context.Context) (*TokenResponse, error) {
	data := url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {c.clientID},
		"client_secret": {c.clientSecret},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenEndpoint(), strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w: %w", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: статус %d при запросе токена: %s", ErrUnavailable, resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}

	return &token, nil
}

// --- HTTP helpers ---

// doAuthorized выполняет запрос к Admin REST API. Токен могут отозвать
// до истечения срока (смена секрета клиента, выход сессии): на 401
// кэш сбрасывается и запрос повторяется один раз.
func (c *Client) doAuthorized(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("сериализация тела запроса: %w", err)
		}
	}

	resp, token, err := c.send(ctx, method, path, payload)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	resp.Body.Close()

	c.logger.Debug("Keycloak отверг токен, повтор со свежим", slog.String("path", path))
	c.invalidateToken(token)
	resp, _, err = c.send(ctx, method, path, payload)
	return resp, err
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, string, error) {
	token, err := c.getToken(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("получение токена: %w", err)
	}

	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.adminBaseURL()+path, bodyReader)
	if err != nil {
		return nil, "", fmt.Errorf("создание запроса: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return resp, token, nil
}

// decodeResponse декодирует JSON ответ в target.
func decodeResponse(resp *http.Response, target any) error {
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, fmt.Sprintf("Keycloak API вернул статус %d: %s", resp.StatusCode, string(body)))
	}

	if target != nil {
		if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
			return fmt.Errorf("декодирование ответа Keycloak: %w", err)
		}
	}

	return nil
}

// checkResponse проверяет статус ответа (для запросов без тела ответа).
func checkResponse(resp *http.Response, expectedStatus int) error {
	defer resp.Body.Close()

	if resp.StatusCode != expectedStatus {
		body, _ := io.ReadAll(resp.Body)
		return statusError(resp.StatusCode, fmt.Sprintf("Keycloak API вернул статус %d (ожидался %d): %s",
			resp.StatusCode, expectedStatus, string(body)))
	}

	return nil
}

// statusError сопоставляет HTTP-статус виду ошибки.
func statusError(status int, msg string) error {
	switch {
	case status == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrNotFound, msg)
	case status == http.StatusConflict:
		return fmt.Errorf("%w: %s", ErrConflict, msg)
	case status >= http.StatusInternalServerError:
		return fmt.Errorf("%w: %s", ErrUnavailable, msg)
	default:
		return errors.New(msg)
	}
}

// --- Roles API ---

// GetRealmRole возвращает realm-роль по имени. Отсутствие роли — ErrNotFound.
func (c *Client) GetRealmRole(ctx context.Context, name string) (*RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/roles/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}

	var role RoleRepresentation
	if err := decodeResponse(resp, &role); err != nil {
		return nil, fmt.Errorf("GetRealmRole: %w", err)
	}

	return &role, nil
}

// CreateRealmRole создаёт realm-роль вместе с описанием и атрибутами.
// Роль с таким именем уже существует — ErrConflict.
func (c *Client) CreateRealmRole(ctx context.Context, role *RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, "/roles", role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusCreated); err != nil {
		return fmt.Errorf("CreateRealmRole: %w", err)
	}
	return nil
}

// UpdateRealmRole заменяет описание и атрибуты realm-роли.
func (c *Client) UpdateRealmRole(ctx context.Context, name string, role *RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPut, "/roles/"+url.PathEscape(name), role)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("UpdateRealmRole: %w", err)
	}
	return nil
}

// RoleComposites возвращает realm-роли, входящие в композитную роль.
func (c *Client) RoleComposites(ctx context.Context, roleID string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "/roles-by-id/"+url.PathEscape(roleID)+"/composites/realm", nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("RoleComposites: %w", err)
	}

	return roles, nil
}

// --- Role mappings API ---

// userRealmMappingsPath — путь к realm role-mappings пользователя.
// Составной id федеративного пользователя содержит ':' и экранируется.
func userRealmMappingsPath(userID string) string {
	return "/users/" + url.PathEscape(userID) + "/role-mappings/realm"
}

// UserRealmRoles возвращает realm-роли, назначенные пользователю напрямую.
func (c *Client) UserRealmRoles(ctx context.Context, userID string) ([]RoleRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, userRealmMappingsPath(userID), nil)
	if err != nil {
		return nil, err
	}

	var roles []RoleRepresentation
	if err := decodeResponse(resp, &roles); err != nil {
		return nil, fmt.Errorf("UserRealmRoles: %w", err)
	}

	return roles, nil
}

// AddUserRealmRoles назначает пользователю realm-роли.
func (c *Client) AddUserRealmRoles(ctx context.Context, userID string, roles []RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodPost, userRealmMappingsPath(userID), roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("AddUserRealmRoles: %w", err)
	}
	return nil
}

// RemoveUserRealmRoles снимает с пользователя realm-роли.
func (c *Client) RemoveUserRealmRoles(ctx context.Context, userID string, roles []RoleRepresentation) error {
	resp, err := c.doAuthorized(ctx, http.MethodDelete, userRealmMappingsPath(userID), roles)
	if err != nil {
		return err
	}

	if err := checkResponse(resp, http.StatusNoContent); err != nil {
		return fmt.Errorf("RemoveUserRealmRoles: %w", err)
	}
	return nil
}

// --- Realm API ---

// RealmInfo возвращает информацию о realm.
func (c *Client) RealmInfo(ctx context.Context) (*RealmRepresentation, error) {
	resp, err := c.doAuthorized(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}

	var realm RealmRepresentation
	if err := decodeResponse(resp, &realm); err != nil {
		return nil, fmt.Errorf("RealmInfo: %w", err)
	}

	return &realm, nil
}

// --- Readiness checker ---

// CheckReady проверяет доступность Keycloak через realm info.
// Реализует handlers.ReadinessChecker.
func (c *Client) CheckReady() (string, string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	realm, err := c.RealmInfo(ctx)
	if err != nil {
		return "fail", fmt.Sprintf("Keycloak недоступен: %v", err)
	}

	if !realm.Enabled {
		return "degraded", fmt.Sprintf("Realm %s отключён", realm.Realm)
	}

	return "ok", fmt.Sprintf("Realm %s доступен", realm.Realm)
}
