// Package app はアプリケーションの起動と依存関係のワイヤリングを提供する。
package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/vpswatch/internal/breaker"
	"github.com/hitoshi/vpswatch/internal/config"
	"github.com/hitoshi/vpswatch/internal/database"
	"github.com/hitoshi/vpswatch/internal/handler"
	"github.com/hitoshi/vpswatch/internal/hub"
	"github.com/hitoshi/vpswatch/internal/logger"
	"github.com/hitoshi/vpswatch/internal/metrics"
	"github.com/hitoshi/vpswatch/internal/middleware"
	"github.com/hitoshi/vpswatch/internal/notify"
	"github.com/hitoshi/vpswatch/internal/poller"
	"github.com/hitoshi/vpswatch/internal/provider"
	"github.com/hitoshi/vpswatch/internal/repository"
	"github.com/hitoshi/vpswatch/internal/security"

	"golang.org/x/time/rate"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline は監視パイプラインの主要コンポーネントをまとめた構造体。
type pipeline struct {
	db         *sql.DB
	poller     *poller.Poller
	dispatcher *notify.Dispatcher
	breaker    *breaker.CircuitBreaker
	statusRepo *repository.PostgresStatusRepo
	hub        *hub.Hub
	collector  *metrics.Collector
	registry   *prometheus.Registry
}

// buildPipeline は設定からパイプライン全体の依存関係をワイヤリングする。
func buildPipeline(cfg *config.Config) (*pipeline, error) {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	statusRepo := repository.NewPostgresStatusRepo(db)
	subRepo := repository.NewPostgresSubscriptionRepo(db)
	jobRepo := repository.NewPostgresJobRepo(db)

	// 3. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 4. プロバイダークライアントの初期化（SSRF防止付きHTTPクライアント）
	ssrfGuard := security.NewSSRFGuard()
	if err := ssrfGuard.ValidateURL(cfg.ProviderEndpoint); err != nil {
		db.Close()
		return nil, fmt.Errorf("invalid provider endpoint: %w", err)
	}
	providerClient := provider.NewClient(
		ssrfGuard.NewSafeClient(cfg.FetchTimeout),
		slog.Default(),
		cfg.ProviderEndpoint,
	)

	// 5. サーキットブレーカーの初期化
	cb := breaker.New(cfg.BreakerFailureThreshold, cfg.BreakerCooldown)

	// 6. ブロードキャストハブの初期化
	eventHub := hub.New(cfg.HubMaxConnections, collector, slog.Default())

	// 7. 通知キューとポーラーの初期化
	queue := notify.NewQueue(subRepo, jobRepo, slog.Default())
	p := poller.New(
		providerClient, statusRepo, cb, queue, eventHub,
		collector, slog.Default(), cfg.FetchTimeout, 0,
	)

	// 8. ディスパッチャーの初期化
	// SMTP_HOST未設定の場合はログ送信にフォールバックする（開発用）
	var sender notify.Sender
	if cfg.SMTPHost != "" {
		sender = notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.MailFrom,
		})
	} else {
		slog.Warn("SMTP_HOSTが未設定のためメールはログ出力されます")
		sender = notify.NewLogSender(slog.Default())
	}

	sanitizer := security.NewLabelSanitizer()
	limiter := notify.NewRateWindows(notify.RateWindowConfig{
		PerSecond: cfg.MailPerSecond,
		PerMinute: cfg.MailPerMinute,
		PerHour:   cfg.MailPerHour,
	})
	dispatcher := notify.NewDispatcher(
		jobRepo, limiter, notify.NewMailRenderer(sanitizer), sender,
		collector, slog.Default(),
		notify.DispatcherConfig{
			DefaultBatchSize: cfg.DispatchBatchSize,
			MaxParallel:      cfg.DispatchMaxParallel,
			SubBatchDelay:    cfg.DispatchBatchDelay,
			Budget:           cfg.DispatchBudget,
			MaxAttempts:      cfg.DispatchMaxAttempts,
		},
	)

	return &pipeline{
		db:         db,
		poller:     p,
		dispatcher: dispatcher,
		breaker:    cb,
		statusRepo: statusRepo,
		hub:        eventHub,
		collector:  collector,
		registry:   registry,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	pl, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer pl.db.Close()

	// IPごとのレート制限（req/min → req/sec に変換）
	rateLimiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		Rate:            rate.Limit(float64(cfg.RateLimitGeneral) / 60.0),
		Burst:           cfg.RateLimitGeneral,
		CleanupInterval: 5 * time.Minute,
	})
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		CronSecret:        cfg.CronSecret,
		RateLimiter:       rateLimiter,
		Poller:            pl.poller,
		Dispatcher:        pl.dispatcher,
		Breaker:           pl.breaker,
		StatusRepo:        pl.statusRepo,
		Hub:               pl.hub,
		HubMaxConn:        cfg.HubMaxConnections,
		DB:                pl.db,
		MetricsGatherer:   pl.registry,
	})

	server := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
		// SSE接続はWriteTimeoutを無効にする必要がある
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	// SSE接続を先に切断してからHTTPサーバーを停止する
	pl.hub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 外部スケジューラーの代わりに内部タイマーでポーリングとディスパッチを駆動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	pl, err := buildPipeline(cfg)
	if err != nil {
		return err
	}
	defer pl.db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("poll_interval", cfg.PollInterval),
		slog.Duration("dispatch_interval", cfg.DispatchInterval),
	)

	// ディスパッチループをバックグラウンドで起動
	go func() {
		ticker := time.NewTicker(cfg.DispatchInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := pl.dispatcher.Run(ctx, 0); err != nil {
					slog.Error("dispatch cycle failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// ポーリングループをメインgoroutineで実行（ブロッキング）
	// 起動直後に1回実行してから定期実行に移る
	pl.poller.RunOnce(ctx)

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			pl.hub.Close()
			slog.Info("worker stopped gracefully")
			return nil
		case <-ticker.C:
			pl.poller.RunOnce(ctx)
		}
	}
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
