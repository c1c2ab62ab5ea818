package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/docanalyzer/internal/metrics"
	"github.com/hitoshi/docanalyzer/internal/middleware"
)

// HealthChecker はヘルスチェックでDB疎通を確認するインターフェース。*sql.DB が満たす。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	TokenVerifier     middleware.TokenVerifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler // nilの場合は /metrics を公開しない
	HealthChecker     HealthChecker
	Logger            *slog.Logger

	// 認証・プロフィール
	AuthService    AuthServiceInterface
	ProfileService ProfileServiceInterface
	AuthConfig     AuthHandlerConfig

	// ドキュメント
	DocumentService DocumentServiceInterface
	MaxFileSize     int64
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP → Recovery → Logging → SecurityHeaders → CORS
//	  認証系: RateLimit(Auth)
//	  認証済み: Auth → RateLimit(General)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.ProfileService, deps.Metrics, deps.AuthConfig, logger)
	docHandler := NewDocumentHandler(deps.DocumentService, deps.MaxFileSize, logger)
	requireAuth := middleware.NewAuthMiddleware(deps.TokenVerifier)

	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/auth", func(r chi.Router) {
		// --- 認証不要のルート（IP単位のレート制限） ---
		r.Group(func(r chi.Router) {
			r.Use(deps.RateLimiter.AuthMiddleware())

			r.Post("/signup", authHandler.Signup)
			r.Post("/verify-otp", authHandler.VerifyOTP)
			r.Post("/login", authHandler.Login)
			r.Post("/google-login", authHandler.GoogleLogin)
			r.Get("/google/login", authHandler.GoogleStart)
			r.Get("/google/callback", authHandler.GoogleCallback)
			r.Post("/forgot-password", authHandler.ForgotPassword)
			r.Put("/reset-password/{token}", authHandler.ResetPassword)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireAuth)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/me", authHandler.Me)
			r.Put("/me", authHandler.UpdateMe)
			r.Put("/me/password", authHandler.ChangePassword)
		})
	})

	r.Route("/api/documents", func(r chi.Router) {
		r.Use(requireAuth)
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Post("/", docHandler.Upload)
		r.Get("/", docHandler.List)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", docHandler.Get)
			r.Delete("/", docHandler.Delete)
			r.Put("/share", docHandler.Share)
			r.Put("/visibility", docHandler.SetVisibility)
		})
	})

	return r
}

// healthHandler はDBに疎通できれば200、できなければ503を返す。
// GET /health
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
