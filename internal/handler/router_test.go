package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hitoshi/socialapi/internal/middleware"
	"github.com/hitoshi/socialapi/internal/model"
)

type fakeAuthenticator struct{}

func (fakeAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "alice-token" {
		return aliceID, nil
	}
	return "", model.NewTokenInvalidError()
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

type userAndRegistrar struct {
	*mockUserService
	*mockRegistrar
}

// createTestRouter はテスト用の完全なルーターを構築するヘルパー。
func createTestRouter(t *testing.T, mediaRoot string, ping pingFunc) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig())
	t.Cleanup(rl.Stop)

	users := &mockUserService{
		getFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "alice@example.com"}, nil
		},
	}
	follows := &mockFollowService{
		listFollowingFn: func(ctx context.Context, userID string) ([]*model.User, error) {
			return []*model.User{{ID: bobID}}, nil
		},
	}
	posts := &mockPostService{
		listFn: func(ctx context.Context, filter model.PostFilter) ([]*model.Post, error) {
			return nil, nil
		},
	}

	deps := &RouterDeps{
		Authenticator:     fakeAuthenticator{},
		CORSAllowedOrigin: "http://localhost:3000",
		RateLimiter:       rl,
		MetricsHandler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "# metrics")
		}),
		AuthService: &mockAuthService{
			loginFn: func(ctx context.Context, email, password string) (*model.TokenPair, error) {
				return &model.TokenPair{Access: "a", Refresh: "r"}, nil
			},
		},
		UserService:   userAndRegistrar{users, &mockRegistrar{}},
		UserConfig:    UserHandlerConfig{BaseURL: "http://api.test"},
		FollowService: follows,
		PostService:   posts,
		MediaURLs:     fakeURLs{},
		MediaRoot:     mediaRoot,
	}
	if ping != nil {
		deps.HealthChecker = ping
	}
	return NewRouter(deps)
}

func doRequest(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func authed(req *http.Request) *http.Request {
	req.Header.Set("Authorization", "Bearer alice-token")
	return req
}

func TestRouter_Health(t *testing.T) {
	router := createTestRouter(t, "", func(ctx context.Context) error { return nil })
	if w := doRequest(router, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusOK {
		t.Errorf("GET /health status = %d, want %d", w.Code, http.StatusOK)
	}

	down := createTestRouter(t, "", func(ctx context.Context) error { return errors.New("db down") })
	if w := doRequest(down, httptest.NewRequest(http.MethodGet, "/health", nil)); w.Code != http.StatusServiceUnavailable {
		t.Errorf("GET /health (db down) status = %d, want %d", w.Code, http.StatusServiceUnavailable)
	}
}

func TestRouter_ProtectedRoutesRequireToken(t *testing.T) {
	router := createTestRouter(t, "", nil)

	paths := []struct{ method, path string }{
		{http.MethodGet, "/api/posts/"},
		{http.MethodGet, "/api/user/me/"},
		{http.MethodGet, "/api/users/"},
		{http.MethodPost, "/api/user/logout/"},
		{http.MethodPost, "/api/user/profiles/" + bobID + "/follow/"},
	}
	for _, p := range paths {
		w := doRequest(router, httptest.NewRequest(p.method, p.path, nil))
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", p.method, p.path, w.Code, http.StatusUnauthorized)
		}
	}
}

func TestRouter_PublicAuthRoutes(t *testing.T) {
	router := createTestRouter(t, "", nil)

	w := doRequest(router, jsonRequest(http.MethodPost, "/api/user/login/", `{"email":"a@example.com","password":"secret1"}`))
	if w.Code != http.StatusOK {
		t.Errorf("POST /api/user/login/ status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestRouter_AuthenticatedRoutes(t *testing.T) {
	router := createTestRouter(t, "", nil)

	tests := []struct {
		path string
		want int
	}{
		{"/api/posts/", http.StatusOK},
		{"/api/user/me/", http.StatusOK},
		// following は {id} より優先される
		{"/api/users/following/", http.StatusOK},
		{"/api/users/not-a-uuid/", http.StatusNotFound},
	}
	for _, tt := range tests {
		w := doRequest(router, authed(httptest.NewRequest(http.MethodGet, tt.path, nil)))
		if w.Code != tt.want {
			t.Errorf("GET %s status = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestRouter_SecurityAndCORSHeaders(t *testing.T) {
	router := createTestRouter(t, "", nil)

	req := authed(httptest.NewRequest(http.MethodGet, "/api/posts/", nil))
	req.Header.Set("Origin", "http://localhost:3000")
	w := doRequest(router, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if got := w.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q", got)
	}
}

func TestRouter_MetricsAndMedia(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "uploads"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "uploads", "a.txt"), []byte("media"), 0o644); err != nil {
		t.Fatal(err)
	}
	router := createTestRouter(t, dir, nil)

	if w := doRequest(router, httptest.NewRequest(http.MethodGet, "/metrics", nil)); w.Code != http.StatusOK || w.Body.String() != "# metrics" {
		t.Errorf("GET /metrics status = %d body = %q", w.Code, w.Body.String())
	}
	if w := doRequest(router, httptest.NewRequest(http.MethodGet, "/media/uploads/a.txt", nil)); w.Code != http.StatusOK || w.Body.String() != "media" {
		t.Errorf("GET /media/uploads/a.txt status = %d body = %q", w.Code, w.Body.String())
	}
}

func TestRouter_MediaHidesDirectoriesAndTempFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "uploads", "posts"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "uploads", "posts", ".upload-42"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	router := createTestRouter(t, dir, nil)

	for _, target := range []string{"/media/", "/media/uploads/", "/media/uploads/posts/", "/media/uploads/posts/.upload-42"} {
		w := doRequest(router, httptest.NewRequest(http.MethodGet, target, nil))
		if w.Code != http.StatusNotFound {
			t.Errorf("GET %s status = %d, want %d", target, w.Code, http.StatusNotFound)
		}
		if strings.Contains(w.Body.String(), ".upload-42") {
			t.Errorf("GET %s body = %q, 一時ファイル名が露出している", target, w.Body.String())
		}
	}
}

func TestRouter_UnknownRouteAndMethod(t *testing.T) {
	router := createTestRouter(t, "", nil)

	w := doRequest(router, httptest.NewRequest(http.MethodGet, "/api/unknown/", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("GET /api/unknown/ status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != "ROUTE_NOT_FOUND" {
		t.Errorf("code = %q, want ROUTE_NOT_FOUND", body["code"])
	}

	w = doRequest(router, httptest.NewRequest(http.MethodPut, "/api/user/login/", nil))
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("PUT /api/user/login/ status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}
