package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/middleware"
)

// webhookPath は外部IdPのユーザーライフサイクルWebhookの受け口。
const webhookPath = "/webhooks/identity"

// HealthChecker はヘルスチェックで疎通を確認する依存先。*sql.DBが満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
// 認証モードに応じて、AccountServiceとCSRF（sessionモード）または
// WebhookVerifierとIdentityEvents（externalモード）のどちらかを設定する。
type RouterDeps struct {
	Logger        *slog.Logger
	HealthChecker HealthChecker

	// ミドルウェア依存
	Resolver          middleware.UserResolver
	CORSAllowedOrigin string
	CSRF              *middleware.CSRFConfig
	RateLimiter       *middleware.RateLimiter
	HTTPMetrics       middleware.HTTPRecorder
	MetricsHandler    http.Handler

	// ローカル認証
	AccountService AccountServiceInterface
	SessionClearer SessionCookieClearer

	// 外部IdP
	WebhookVerifier WebhookVerifier
	IdentityEvents  IdentityEventApplier

	TaskService TaskServiceInterface
	UserService UserServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → Logging → Metrics → SecurityHeaders → CORS → CurrentUser
//	  → (/auth) CSRF → RateLimit(SignIn)
//	  → (認証必須ルート) RequireUser → CSRF → RateLimit(General)
//
// /health、/metrics、Webhookはユーザー解決の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.HTTPMetrics != nil {
		r.Use(middleware.NewMetricsMiddleware(deps.HTTPMetrics))
	}
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "Not Found"})
	})

	// --- 認証不要のルート ---

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	if deps.WebhookVerifier != nil && deps.IdentityEvents != nil {
		webhookHandler := NewWebhookHandler(deps.WebhookVerifier, deps.IdentityEvents)
		r.Post(webhookPath, webhookHandler.Identity)
	}

	taskHandler := NewTaskHandler(deps.TaskService)
	userHandler := NewUserHandler(deps.UserService, deps.SessionClearer)

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCurrentUserMiddleware(deps.Resolver))

		// CSRF検証は認証判定の後に行い、未認証の状態変更リクエストには401を返す
		var csrf func(http.Handler) http.Handler
		if deps.CSRF != nil {
			csrf = middleware.NewCSRFMiddleware(*deps.CSRF)
			r.Method(http.MethodGet, "/api/csrf-token", middleware.NewCSRFTokenHandler(*deps.CSRF))
		}

		// ローカル認証（sessionモードのみ）
		if deps.AccountService != nil {
			authHandler := NewAuthHandler(deps.AccountService)
			r.Route("/auth", func(r chi.Router) {
				if csrf != nil {
					r.Use(csrf)
				}
				r.Group(func(r chi.Router) {
					if deps.RateLimiter != nil {
						r.Use(deps.RateLimiter.SignInMiddleware())
					}
					r.Post("/sign-up", authHandler.SignUp)
					r.Post("/sign-in", authHandler.SignIn)
				})
				r.Post("/sign-out", authHandler.SignOut)
			})
		}

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireUser)
			if csrf != nil {
				r.Use(csrf)
			}
			if deps.RateLimiter != nil {
				r.Use(deps.RateLimiter.GeneralMiddleware())
			}

			r.Get("/user", userHandler.Me)
			r.Delete("/user", userHandler.Withdraw)

			r.Get("/tasks", taskHandler.List)
			r.Post("/tasks", taskHandler.Create)
			r.Get("/tasks/{id}", taskHandler.Get)
			r.Put("/tasks/{id}", taskHandler.Update)
			r.Delete("/tasks/{id}", taskHandler.Delete)
		})
	})

	return r
}

// NewHealthHandler はDBへの疎通を確認するヘルスチェックハンドラーを返す。
// APIサーバーとワーカーの両方で使用する。
// GET /health
func NewHealthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
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
