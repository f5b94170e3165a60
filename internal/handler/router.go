package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/edumarket/internal/middleware"
)

// HealthChecker はDBへの疎通を確認する。*sql.DBが実装する。
type HealthChecker interface {
	PingContext(ctx context.Context) error
}

// healthCheckTimeout は/healthでのDB疎通確認のタイムアウト。
const healthCheckTimeout = 2 * time.Second

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger            *slog.Logger
	TokenVerifier     middleware.TokenVerifier
	RoleReader        middleware.RoleReader
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter

	// 運用
	HealthChecker  HealthChecker
	MetricsHandler http.Handler

	// Webhook
	Webhooks *WebhookHandler

	// 講座カタログ
	CourseService CourseServiceInterface

	// 受講者
	UserService     UserServiceInterface
	CheckoutService CheckoutServiceInterface
	FrontendURL     string

	// 講師
	EducatorService EducatorServiceInterface
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Logging → Recovery → SecurityHeaders → CORS
//	  → (認証が必要なルート) Auth → RateLimit(General) [→ EducatorOnly | RateLimit(Checkout)]
//
// Webhookルートは署名で検証するため認証とレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	courseHandler := NewCourseHandler(deps.CourseService)
	userHandler := NewUserHandler(deps.UserService, deps.CheckoutService, deps.FrontendURL)
	educatorHandler := NewEducatorHandler(deps.EducatorService)

	// --- 運用エンドポイント ---
	r.Get("/health", healthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// --- Webhook（署名検証） ---
	r.Route("/api/webhooks", func(r chi.Router) {
		r.Post("/clerk", deps.Webhooks.Clerk)
		r.Post("/stripe", deps.Webhooks.Stripe)
	})

	// --- 公開カタログ ---
	r.Route("/api/course", func(r chi.Router) {
		r.Get("/all", courseHandler.ListCourses)
		r.Get("/{id}", courseHandler.GetCourse)
	})

	// --- 認証が必要なルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.TokenVerifier))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		r.Route("/api/user", func(r chi.Router) {
			r.Get("/data", userHandler.GetUserData)
			r.Get("/enrolled-courses", userHandler.EnrolledCourses)
			r.With(deps.RateLimiter.CheckoutMiddleware()).Post("/purchase", userHandler.Purchase)
			r.Post("/add-rating", userHandler.AddRating)
		})

		r.Route("/api/educator", func(r chi.Router) {
			// 講師への昇格はロール確認の対象外
			r.Patch("/update-role", educatorHandler.UpdateRole)

			r.Group(func(r chi.Router) {
				r.Use(middleware.NewEducatorOnlyMiddleware(deps.RoleReader))
				r.Post("/add-course", educatorHandler.AddCourse)
				r.Get("/courses", educatorHandler.Courses)
				r.Get("/dashboard", educatorHandler.Dashboard)
				r.Get("/enrolled-students", educatorHandler.EnrolledStudents)
			})
		})
	})

	return r
}

// NewOpsRouter はworkerプロセス用に/healthと/metricsのみを公開するルーターを返す。
// /healthの応答はAPIサーバーと同じ形式とする。
func NewOpsRouter(logger *slog.Logger, checker HealthChecker, metricsHandler http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())

	r.Get("/health", healthHandler(checker))
	if metricsHandler != nil {
		r.Handle("/metrics", metricsHandler)
	}
	return r
}

// healthHandler はDBに疎通できれば200、できなければ503を返す。
func healthHandler(checker HealthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if checker != nil {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()
			if err := checker.PingContext(ctx); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
