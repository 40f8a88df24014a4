package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

const testKey = "0123456789abcdef0123456789abcdef"

func authedHandler(cfg AuthConfig) http.Handler {
	return AuthMiddleware(cfg, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
}

func TestAuthMiddlewareDisabled(t *testing.T) {
	handler := authedHandler(AuthConfig{Enabled: false})
	req := httptest.NewRequest(http.MethodGet, "/documents", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestAuthMiddlewareEnabled(t *testing.T) {
	handler := authedHandler(AuthConfig{Enabled: true, APIKey: testKey})

	t.Run("missing key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		req.Header.Set("X-API-Key", "wrong")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", rec.Code)
		}
	})

	t.Run("correct key", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/documents", nil)
		req.Header.Set("X-API-Key", testKey)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})

	t.Run("health bypasses auth", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("status = %d, want 200", rec.Code)
		}
	})
}

func TestValidateAuthConfig(t *testing.T) {
	if err := ValidateAuthConfig(AuthConfig{Enabled: false}); err != nil {
		t.Errorf("disabled auth should validate: %v", err)
	}
	if err := ValidateAuthConfig(AuthConfig{Enabled: true}); err == nil {
		t.Error("enabled auth without key should fail")
	}
	if err := ValidateAuthConfig(AuthConfig{Enabled: true, APIKey: "short"}); err == nil {
		t.Error("short key should fail")
	}
	if err := ValidateAuthConfig(AuthConfig{Enabled: true, APIKey: testKey}); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}
