package middleware

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/drifterza/headplane/internal/auth"
	"github.com/drifterza/headplane/internal/domain/capabilities"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSessionManager(t *testing.T) *auth.SessionManager {
	t.Helper()
	sm, err := auth.NewSessionManager("test-secret", false)
	if err != nil {
		t.Fatalf("NewSessionManager() ошибка: %v", err)
	}
	return sm
}

// okHandler отвечает 200 и отдаёт subject из контекста (если есть).
func okHandler(t *testing.T) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if session := SessionFromContext(r.Context()); session != nil {
			_, _ = w.Write([]byte(session.Subject))
			return
		}
		w.WriteHeader(http.StatusOK)
	})
}

func requestWithSession(t *testing.T, sm *auth.SessionManager, data *auth.SessionData) *http.Request {
	t.Helper()
	rec := httptest.NewRecorder()
	if err := sm.SetSessionCookie(rec, data); err != nil {
		t.Fatalf("SetSessionCookie() ошибка: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	for _, c := range rec.Result().Cookies() {
		req.AddCookie(c)
	}
	return req
}

func TestSessionAuth_ValidSession(t *testing.T) {
	sm := newTestSessionManager(t)
	mw := NewSessionAuth(sm, testLogger()).Middleware()

	req := requestWithSession(t, sm, &auth.SessionData{
		Method:    auth.MethodOIDC,
		Subject:   "user-1",
		ExpiresAt: time.Now().Add(time.Hour).Unix(),
	})
	rec := httptest.NewRecorder()

	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("статус %d, хотели 200", rec.Code)
	}
	if rec.Body.String() != "user-1" {
		t.Errorf("subject из контекста %q, хотели %q", rec.Body.String(), "user-1")
	}
}

func TestSessionAuth_NoCookie(t *testing.T) {
	sm := newTestSessionManager(t)
	mw := NewSessionAuth(sm, testLogger()).Middleware()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rec := httptest.NewRecorder()

	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус %d, хотели 401", rec.Code)
	}
}

func TestSessionAuth_GarbageCookie(t *testing.T) {
	sm := newTestSessionManager(t)
	mw := NewSessionAuth(sm, testLogger()).Middleware()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	req.AddCookie(&http.Cookie{Name: auth.SessionCookieName, Value: "not-a-session"})
	rec := httptest.NewRecorder()

	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус %d, хотели 401", rec.Code)
	}
}

func TestSessionAuth_ExpiredSession(t *testing.T) {
	sm := newTestSessionManager(t)
	mw := NewSessionAuth(sm, testLogger()).Middleware()

	req := requestWithSession(t, sm, &auth.SessionData{
		Method:    auth.MethodOIDC,
		Subject:   "user-1",
		ExpiresAt: time.Now().Add(-time.Hour).Unix(),
	})
	rec := httptest.NewRecorder()

	mw(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус %d, хотели 401", rec.Code)
	}
}

func TestRequireCapability(t *testing.T) {
	sm := newTestSessionManager(t)
	sessionMw := NewSessionAuth(sm, testLogger()).Middleware()

	tests := []struct {
		name       string
		mask       uint64
		required   capabilities.Capability
		wantStatus int
	}{
		{
			name:       "право есть",
			mask:       capabilities.RoleMask(capabilities.RoleAuditor),
			required:   capabilities.CapReadUsers,
			wantStatus: http.StatusOK,
		},
		{
			name:       "права нет",
			mask:       capabilities.RoleMask(capabilities.RoleMember),
			required:   capabilities.CapReadUsers,
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "владелец проходит везде",
			mask:       capabilities.OwnerMask(),
			required:   capabilities.CapWritePolicy,
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := requestWithSession(t, sm, &auth.SessionData{
				Method:       auth.MethodOIDC,
				Subject:      "user-1",
				Capabilities: tt.mask,
				ExpiresAt:    time.Now().Add(time.Hour).Unix(),
			})
			rec := httptest.NewRecorder()

			handler := sessionMw(RequireCapability(tt.required)(okHandler(t)))
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("статус %d, хотели %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// Ответ 403 не должен раскрывать имя недостающего права.
func TestRequireCapability_GenericForbidden(t *testing.T) {
	sm := newTestSessionManager(t)
	sessionMw := NewSessionAuth(sm, testLogger()).Middleware()

	req := requestWithSession(t, sm, &auth.SessionData{
		Method:       auth.MethodOIDC,
		Subject:      "user-1",
		Capabilities: 0,
		ExpiresAt:    time.Now().Add(time.Hour).Unix(),
	})
	rec := httptest.NewRecorder()

	handler := sessionMw(RequireCapability(capabilities.CapWriteUsers)(okHandler(t)))
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("статус %d, хотели 403", rec.Code)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ошибка декодирования тела: %v", err)
	}
	if body.Error.Code != "FORBIDDEN" {
		t.Errorf("code = %q, хотели FORBIDDEN", body.Error.Code)
	}
	for _, leak := range []string{"capability", "WriteUsers", "write_users"} {
		if strings.Contains(body.Error.Message, leak) {
			t.Errorf("сообщение 403 раскрывает право: %q", body.Error.Message)
		}
	}
}

func TestRequireCapability_NoSession(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/users", nil)
	rec := httptest.NewRecorder()

	// RequireCapability без SessionAuth в цепочке
	RequireCapability(capabilities.CapReadUsers)(okHandler(t)).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("статус %d, хотели 401", rec.Code)
	}
}
