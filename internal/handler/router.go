package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/blogdigest/internal/metrics"
	"github.com/hitoshi/blogdigest/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// ヘルスチェック・メトリクス
	DB       Pinger
	Gatherer prometheus.Gatherer

	PublisherService    PublisherServiceInterface
	SubscriptionService SubscriptionServiceInterface
}

// NewRouter は運用エンドポイントと購読管理APIのルーティングを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → Recovery → Logging
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	healthHandler := NewHealthHandler(deps.DB, deps.Logger)
	pubHandler := NewPublisherHandler(deps.PublisherService, deps.Logger)
	subHandler := NewSubscriptionHandler(deps.SubscriptionService, deps.Logger)

	r.Get("/health", healthHandler.Health)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	r.Route("/api", func(r chi.Router) {
		r.Get("/techteams", pubHandler.ListTechTeams)
		r.Get("/publishers", pubHandler.ListPublishers)

		r.Route("/subscriptions", func(r chi.Router) {
			r.Get("/", subHandler.ListSubscriptions)
			r.Post("/", subHandler.Subscribe)
			r.Delete("/", subHandler.Unsubscribe)
			r.Post("/resume", subHandler.Resume)
		})
	})

	return r
}
