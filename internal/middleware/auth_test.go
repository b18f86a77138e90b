package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/socialapi/internal/model"
)

// --- モック定義 ---

type mockAuthenticator struct {
	authenticateFn func(ctx context.Context, token string) (string, error)
}

func (m *mockAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	return m.authenticateFn(ctx, token)
}

func tokenAuthenticator(valid map[string]string) *mockAuthenticator {
	return &mockAuthenticator{
		authenticateFn: func(ctx context.Context, token string) (string, error) {
			if userID, ok := valid[token]; ok {
				return userID, nil
			}
			return "", model.NewTokenInvalidError()
		},
	}
}

// --- テスト ---

func TestAuthMiddleware_ValidToken_InjectsUserID(t *testing.T) {
	mw := NewAuthMiddleware(tokenAuthenticator(map[string]string{"good-token": "user-123"}))

	var capturedUserID string
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := UserIDFromContext(r.Context())
		if err != nil {
			t.Errorf("expected no error, got %v", err)
		}
		capturedUserID = userID
		w.WriteHeader(http.StatusOK)
	}))

	for _, header := range []string{"Bearer good-token", "bearer good-token", "Bearer  good-token "} {
		req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
		req.Header.Set("Authorization", header)

		resp := serve(handler, req)
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Authorization %q: status = %d, want %d", header, resp.StatusCode, http.StatusOK)
		}
		if capturedUserID != "user-123" {
			t.Errorf("userID = %q, want %q", capturedUserID, "user-123")
		}
	}
}

func TestAuthMiddleware_Rejects(t *testing.T) {
	mw := NewAuthMiddleware(tokenAuthenticator(map[string]string{"good-token": "user-123"}))
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	tests := []struct {
		name   string
		header string
	}{
		{"ヘッダーなし", ""},
		{"スキームのみ", "Bearer "},
		{"Basic認証", "Basic dXNlcjpwYXNz"},
		{"無効なトークン", "Bearer bad-token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp := serve(handler, req)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
			}
			if resp.Header.Get("WWW-Authenticate") == "" {
				t.Error("WWW-Authenticate header should be set")
			}
			var body ErrorResponseBody
			if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode: %v", err)
			}
			if body.Code != model.ErrCodeTokenInvalid {
				t.Errorf("code = %q, want %q", body.Code, model.ErrCodeTokenInvalid)
			}
		})
	}
}

// 退会済みユーザーのトークンは後段のハンドラーに届かず401になることを検証
func TestAuthMiddleware_DeletedUser_Returns401(t *testing.T) {
	users := map[string]bool{"user-123": true}
	mw := NewAuthMiddleware(&mockAuthenticator{
		authenticateFn: func(ctx context.Context, token string) (string, error) {
			if token != "good-token" || !users["user-123"] {
				return "", model.NewTokenInvalidError()
			}
			return "user-123", nil
		},
	})
	called := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called++
		w.WriteHeader(http.StatusCreated)
	}))

	newReq := func() *http.Request {
		req := httptest.NewRequest(http.MethodPost, "/api/posts/", nil)
		req.Header.Set("Authorization", "Bearer good-token")
		return req
	}

	if resp := serve(handler, newReq()); resp.StatusCode != http.StatusCreated {
		t.Fatalf("退会前 status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	delete(users, "user-123")
	resp := serve(handler, newReq())
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("退会後 status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if resp.Header.Get("WWW-Authenticate") == "" {
		t.Error("WWW-Authenticate header should be set")
	}
	if called != 1 {
		t.Errorf("handler called %d times, want 1", called)
	}
}

func TestAuthMiddleware_StorageError_Returns500(t *testing.T) {
	mw := NewAuthMiddleware(&mockAuthenticator{
		authenticateFn: func(ctx context.Context, token string) (string, error) {
			return "", errors.New("db down")
		},
	})
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not be called")
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
	req.Header.Set("Authorization", "Bearer some-token")

	if resp := serve(handler, req); resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusInternalServerError)
	}
}

func TestUserIDFromContext_Missing(t *testing.T) {
	if _, err := UserIDFromContext(context.Background()); err == nil {
		t.Error("expected error for context without user ID")
	}
	ctx := ContextWithUserID(context.Background(), "user-1")
	if got, err := UserIDFromContext(ctx); err != nil || got != "user-1" {
		t.Errorf("UserIDFromContext() = %q, %v", got, err)
	}
}

// TestMiddlewareChain_WithChiRouter は RealIP → CORS → 認証 → レート制限 の
// チェーンがchi.Routerで正しく動作することを検証する。
func TestMiddlewareChain_WithChiRouter(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    2,
		AuthRate:        1,
		AuthBurst:       1,
		CleanupInterval: time.Minute,
	})
	defer rl.Stop()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(NewCORSMiddleware("http://localhost:3000"))

	r.With(rl.AuthMiddleware()).Post("/api/user/login/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(tokenAuthenticator(map[string]string{"chain-token": "user-chain"})))
		r.Use(rl.GeneralMiddleware())
		r.Get("/api/user/me/", func(w http.ResponseWriter, r *http.Request) {
			userID, _ := UserIDFromContext(r.Context())
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
	})

	t.Run("authenticated_requests_until_limit", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
			req.Header.Set("Authorization", "Bearer chain-token")
			resp := serve(r, req)
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("request %d: status = %d", i, resp.StatusCode)
			}
			var body map[string]string
			json.NewDecoder(resp.Body).Decode(&body)
			if body["user_id"] != "user-chain" {
				t.Errorf("user_id = %q", body["user_id"])
			}
		}

		req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
		req.Header.Set("Authorization", "Bearer chain-token")
		if resp := serve(r, req); resp.StatusCode != http.StatusTooManyRequests {
			t.Errorf("request 3: status = %d, want 429", resp.StatusCode)
		}
	})

	t.Run("unauthenticated_is_rejected_before_rate_limit", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/user/me/", nil)
		if resp := serve(r, req); resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("status = %d, want 401", resp.StatusCode)
		}
	})

	t.Run("login_limited_by_forwarded_ip", func(t *testing.T) {
		login := func(forwardedFor string) int {
			req := httptest.NewRequest(http.MethodPost, "/api/user/login/", nil)
			req.Header.Set("X-Forwarded-For", forwardedFor)
			return serve(r, req).StatusCode
		}
		if code := login("198.51.100.1"); code != http.StatusOK {
			t.Errorf("first login: status = %d", code)
		}
		if code := login("198.51.100.1"); code != http.StatusTooManyRequests {
			t.Errorf("second login: status = %d, want 429", code)
		}
		if code := login("198.51.100.2"); code != http.StatusOK {
			t.Errorf("other client login: status = %d", code)
		}
	})
}
