package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/mfgconsole/internal/metrics"
	"github.com/hitoshi/mfgconsole/internal/middleware"
	"github.com/hitoshi/mfgconsole/internal/navigation"
	"github.com/hitoshi/mfgconsole/internal/resource"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// 画面
	Console *Console

	// ミドルウェア依存
	Users       middleware.UserSource
	RateLimiter *middleware.RateLimiter
	CSRFConfig  middleware.CSRFConfig

	// Gatherer が設定されている場合は/metricsを公開する
	Gatherer prometheus.Gatherer
	// Recorder はルート別のリクエスト数と応答時間を記録する（nil可）
	Recorder middleware.RequestRecorder

	Logger *slog.Logger
}

// NewRouter は全画面のルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → CSRF → SessionMiddleware → RateLimitMiddleware(GeneralMiddleware)
//
// ログイン画面、JSON API、/metrics、/healthz はセッションのアクセス判定の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := deps.Console

	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware(logger))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	// 監視系のルートはログとCSRFの対象外
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("ok"))
	})
	if deps.Gatherer != nil {
		r.Handle("/metrics", metrics.Handler(deps.Gatherer))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewLoggingMiddleware(logger, deps.Recorder))
		r.Use(middleware.NewCSRFMiddleware(deps.CSRFConfig))

		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, navigation.PathDashboard, http.StatusSeeOther)
		})

		// --- 認証不要のルート ---
		r.Get(navigation.PathLogin, c.LoginForm)
		r.With(deps.RateLimiter.LoginMiddleware()).Post(navigation.PathLogin, c.Login)
		r.Post("/logout", c.Logout)

		r.Route("/api", func(r chi.Router) {
			r.Use(deps.RateLimiter.GeneralMiddleware())
			r.Method(http.MethodGet, "/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRFConfig))
			r.Get("/session", c.Session)
			r.Get("/resources/{name}", c.ResourcePage)
		})

		// --- ログインが必要なルート ---
		// ミドルウェアスタック: Session → RateLimit(General)
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewSessionMiddleware(deps.Users))
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get(navigation.PathDashboard, c.Dashboard)

			r.Get(pathProfile, c.Profile)
			r.Post(pathProfile, c.UpdateProfile)
			r.Post(pathProfile+"/password", c.ChangePassword)

			for _, item := range navigation.Menu() {
				if item.Resource == "" {
					continue
				}
				name := item.Resource
				r.Route(item.Path, func(r chi.Router) {
					r.Get("/", c.List(name))
					r.Get("/export", c.Export(name))
					r.Get("/{id}", c.Detail(name))
					r.Post("/{id}/actions/{action}", c.Action(name))
					if name == resource.Dispatches {
						r.Get("/{id}/documents/{docID}", c.Document)
					}
				})
			}
		})

		r.NotFound(c.NotFound)
	})

	return r
}
