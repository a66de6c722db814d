package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/blogman/internal/middleware"
)

// HealthChecker はDB疎通確認のインターフェース。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	HealthChecker     HealthChecker
	SessionFinder     middleware.SessionFinder
	CORSAllowedOrigin string
	CSRFConfig        middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger

	// Prometheusスクレイプ用ハンドラー（nil可）
	MetricsHandler http.Handler

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// 記事・いいね
	PostService PostServiceInterface
	LikeService LikeServiceInterface
	UserFinder  UserFinder

	// 画像
	ImageService ImageServiceInterface
	ImageMaxSize int64

	// ユーザー
	UserService UserServiceInterface

	// メトリクス（nil可）
	AuthMetrics  LoginRecorder
	PostMetrics  PostRecorder
	ImageMetrics ImageFetchRecorder
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CORS → CSRF
//
// その下で閲覧系ルートはOptionalSessionMiddleware、
// 認証必須ルートはSessionMiddleware → RateLimit(General)を通す。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	if deps.Logger != nil {
		r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	}
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

	authHandler := NewAuthHandler(deps.AuthService, deps.AuthConfig, deps.AuthMetrics)
	postHandler := NewPostHandler(deps.PostService, deps.LikeService, deps.UserFinder, deps.PostMetrics)
	imageHandler := NewImageHandler(deps.ImageService, deps.ImageMaxSize, deps.ImageMetrics)
	userHandler := NewUserHandler(deps.UserService)

	// ヘルスチェック
	r.Get("/health", newHealthHandler(deps.HealthChecker))

	// Prometheusスクレイプ
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// --- 認証ルート（セッションミドルウェアの外） ---
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/logout", authHandler.Logout)
		r.Get("/me", authHandler.Me)
	})

	// CSRFトークン取得
	r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))

	// --- 閲覧系ルート（認証は任意） ---
	// 認証済みの場合はliked_by_me・can_editを閲覧ユーザー視点で返す
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewOptionalSessionMiddleware(deps.SessionFinder))

		r.Get("/api/posts", postHandler.ListPosts)
		r.Get("/api/posts/{id}", postHandler.GetPost)
		r.Get("/api/images/{id}", imageHandler.Serve)
	})

	// --- 認証必須ルート ---
	// ミドルウェアスタック: Session → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSessionMiddleware(deps.SessionFinder))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 記事管理
		// POST /api/posts - 記事作成（作成専用レート制限を追加）
		r.With(deps.RateLimiter.PostCreationMiddleware()).Post("/api/posts", postHandler.CreatePost)
		r.Get("/api/posts/mine", postHandler.ListMyPosts)
		r.Put("/api/posts/{id}", postHandler.UpdatePost)
		r.Delete("/api/posts/{id}", postHandler.DeletePost)
		r.Put("/api/posts/{id}/like", postHandler.SetLike)

		// 画像アップロード
		r.Post("/api/images", imageHandler.Upload)

		// ユーザー管理
		r.Delete("/api/users/me", userHandler.Withdraw)
	})

	return r
}

// newHealthHandler はDB疎通を確認するヘルスチェックハンドラーを返す。
func newHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			if err := checker.PingContext(r.Context()); err != nil {
				slog.Error("health check: database ping failed", slog.String("error", err.Error()))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy"})
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}
}
