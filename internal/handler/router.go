package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/socialapi/internal/media"
	"github.com/hitoshi/socialapi/internal/metrics"
	"github.com/hitoshi/socialapi/internal/middleware"
)

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DB が実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.TokenAuthenticator
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合 /metrics を公開しない
	HealthChecker     HealthChecker

	// 認証・アカウント
	AuthService AuthServiceInterface
	UserService interface {
		UserServiceInterface
		RegistrarInterface
	}
	UserConfig UserHandlerConfig

	// フォロー
	FollowService FollowServiceInterface

	// 投稿
	PostService PostServiceInterface

	// メディア
	MediaURLs URLResolver
	MediaRoot string // 空の場合 /media/* を公開しない
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → SecurityHeaders → Logging → Metrics → CORS
//	  ├ 認証不要ルート: RateLimit(Auth, クライアントIP単位)
//	  └ 認証ルート: Auth → RateLimit(General, ユーザー単位)
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// RealIPはレート制限のクライアント識別より前に適用する
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware("/media/"))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.Metrics))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(middleware.NotFoundHandler)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler)

	authHandler := NewAuthHandler(deps.AuthService, deps.UserService)
	userHandler := NewUserHandler(deps.UserService, deps.FollowService, deps.MediaURLs, deps.UserConfig)
	postHandler := NewPostHandler(deps.PostService, deps.MediaURLs, deps.UserConfig.MaxUploadSize)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	if deps.MediaRoot != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(media.NewPublicFS(deps.MediaRoot))))
	}

	// --- 認証不要のルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.AuthMiddleware())

		r.Post("/api/user/register/", authHandler.Register)
		r.Post("/api/user/login/", authHandler.Login)
		r.Post("/api/user/token/refresh/", authHandler.Refresh)
		r.Post("/api/user/token/verify/", authHandler.Verify)
	})

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Authenticator))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/user", func(r chi.Router) {
			r.Post("/logout/", authHandler.Logout)

			r.Get("/me/", userHandler.Me)
			r.Patch("/me/", userHandler.UpdateMe)
			r.Post("/me/upload-image/", userHandler.UploadMyImage)

			r.Get("/profiles/", userHandler.ListProfiles)
			r.Route("/profiles/{id}", func(r chi.Router) {
				r.Get("/", userHandler.GetProfile)
				r.Patch("/", userHandler.UpdateProfile)
				r.Delete("/", userHandler.DeleteProfile)
				r.Post("/follow/", userHandler.Follow)
			})
		})

		r.Route("/api/users", func(r chi.Router) {
			r.Get("/", userHandler.ListUsers)
			// 固定パスは {id} より先に登録する
			r.Get("/following/", userHandler.ListFollowing)
			r.Get("/followers/", userHandler.ListFollowers)
			r.Get("/{id}/", userHandler.GetUser)
		})

		r.Route("/api/posts", func(r chi.Router) {
			r.Get("/", postHandler.List)
			r.Post("/", postHandler.Create)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", postHandler.Get)
				r.Delete("/", postHandler.Delete)
				r.Post("/upload-image/", postHandler.UploadImage)
				r.Post("/import-image/", postHandler.ImportImage)
			})
		})
	})

	return r
}

// healthHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				slog.Error("health check failed", slog.String("error", err.Error()))
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
