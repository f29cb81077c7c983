package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/vpswatch/internal/metrics"
	"github.com/hitoshi/vpswatch/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger            *slog.Logger
	CORSAllowedOrigin string
	CronSecret        string
	RateLimiter       *middleware.RateLimiter

	Poller     PollRunner
	Dispatcher DispatchRunner
	Breaker    BreakerController
	StatusRepo StatusReader
	Hub        EventHub
	HubMaxConn int
	DB         DBPinger

	MetricsGatherer prometheus.Gatherer
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	CORSMiddleware → RecoveryMiddleware → LoggingMiddleware
//
// トリガーエンドポイント（/api/cron/*、/api/admin/*）は共有シークレット認証、
// 公開エンドポイント（/api/status、/api/events）はIPごとのレート制限で保護する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	pollHandler := NewPollHandler(deps.Poller, deps.Breaker)
	dispatchHandler := NewDispatchHandler(deps.Dispatcher)
	breakerHandler := NewBreakerHandler(deps.Breaker)
	statusHandler := NewStatusHandler(deps.StatusRepo)
	eventsHandler := NewEventsHandler(deps.Hub, deps.HubMaxConn, deps.Logger)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 運用エンドポイント ---
	r.Get("/healthz", healthHandler.Check)
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.MetricsGatherer))

	// --- トリガーエンドポイント（共有シークレット認証）---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCronAuthMiddleware(deps.CronSecret))

		r.Post("/api/cron/poll", pollHandler.TriggerPoll)
		r.Post("/api/cron/dispatch", dispatchHandler.TriggerDispatch)

		r.Route("/api/admin/breaker", func(r chi.Router) {
			r.Get("/", breakerHandler.GetStatus)
			r.Post("/", breakerHandler.ExecuteAction)
		})
	})

	// --- 公開エンドポイント（IPレート制限）---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.Middleware())

		r.Get("/api/status", statusHandler.ListStatus)
		r.Get("/api/events", eventsHandler.Stream)
	})

	return r
}
