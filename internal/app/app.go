package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/edumarket/internal/config"
	"github.com/hitoshi/edumarket/internal/course"
	"github.com/hitoshi/edumarket/internal/database"
	"github.com/hitoshi/edumarket/internal/educator"
	"github.com/hitoshi/edumarket/internal/handler"
	"github.com/hitoshi/edumarket/internal/identity"
	"github.com/hitoshi/edumarket/internal/logger"
	"github.com/hitoshi/edumarket/internal/metrics"
	"github.com/hitoshi/edumarket/internal/middleware"
	"github.com/hitoshi/edumarket/internal/payment"
	"github.com/hitoshi/edumarket/internal/purchase"
	"github.com/hitoshi/edumarket/internal/repository"
	"github.com/hitoshi/edumarket/internal/security"
	"github.com/hitoshi/edumarket/internal/user"
	"github.com/hitoshi/edumarket/internal/worker"
	"github.com/hitoshi/edumarket/internal/worker/cleanup"
	"github.com/hitoshi/edumarket/internal/worker/repair"
)

const (
	dbPingTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Init はアプリケーションの初期化を行う。
// .envと環境変数からConfigを読み込み、LOG_LEVELに従ってJSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w, slog.LevelInfo)

	if err := config.LoadDotEnv(); err != nil {
		return nil, err
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
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
		slog.String("frontend_url", cfg.FrontendURL),
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

// openDatabase はDB接続を開き、疎通を確認する。
func openDatabase(cfg *config.Config) (*sql.DB, error) {
	db, err := database.Open(cfg.DatabaseURL, database.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	if err := database.PingWithTimeout(db, dbPingTimeout); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// newRegistry はGoランタイムとプロセスのメトリクスを含むレジストリを生成する。
func newRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// buildRouter は全依存関係をワイヤリングしてAPIルーターを構築する。
// 戻り値のRateLimiterはシャットダウン時に停止すること。
func buildRouter(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (http.Handler, *middleware.RateLimiter, error) {
	collector := metrics.NewCollector(reg)

	// 1. リポジトリ
	userRepo := repository.NewPostgresUserRepo(db)
	courseRepo := repository.NewPostgresCourseRepo(db)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)
	eventRepo := repository.NewPostgresWebhookEventRepo(db)

	// 2. 外部プロバイダー
	stripeClient := payment.NewStripeClient(payment.StripeConfig{
		SecretKey:     cfg.StripeSecretKey,
		WebhookSecret: cfg.StripeWebhookSecret,
		Currency:      cfg.Currency,
	})
	resolver, err := payment.NewResolver(stripeClient, payment.ResolverConfig{
		Timeout:   cfg.PaymentLookupTimeout,
		CacheSize: cfg.CorrelationCacheSize,
	}, collector, slog.Default())
	if err != nil {
		return nil, nil, err
	}

	clerkClient, err := identity.NewClerkClient(cfg.ClerkSecretKey)
	if err != nil {
		return nil, nil, err
	}
	svixVerifier, err := identity.NewWebhookVerifier(cfg.ClerkWebhookSecret)
	if err != nil {
		return nil, nil, err
	}

	// 3. ドメインサービス
	sanitizer := security.NewDescriptionSanitizer()
	mediaURLs := security.NewMediaURLValidator()

	courseService := course.NewService(courseRepo, sanitizer)
	userService := user.NewService(userRepo, courseRepo)
	educatorService := educator.NewService(courseRepo, userRepo, purchaseRepo, clerkClient, sanitizer, mediaURLs)
	reconciler := purchase.NewReconciler(purchaseRepo, userRepo, courseRepo, resolver, collector)
	checkoutService := purchase.NewCheckoutService(purchaseRepo, userRepo, courseRepo, stripeClient)

	// 4. ルーター
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitCheckout),
	)

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		TokenVerifier:     clerkClient,
		RoleReader:        clerkClient,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		HealthChecker:     db,
		MetricsHandler:    metrics.Handler(reg),

		Webhooks: handler.NewWebhookHandler(
			svixVerifier, userService,
			stripeClient, reconciler,
			eventRepo, collector,
		),

		CourseService:   courseService,
		UserService:     userService,
		CheckoutService: checkoutService,
		FrontendURL:     cfg.FrontendURL,
		EducatorService: educatorService,
	})

	return router, rateLimiter, nil
}

// buildScheduler は修復ジョブとクリーンアップジョブを登録したスケジューラを構築する。
func buildScheduler(cfg *config.Config, db *sql.DB, reg *prometheus.Registry) (*worker.Scheduler, error) {
	collector := metrics.NewCollector(reg)
	purchaseRepo := repository.NewPostgresPurchaseRepo(db)
	eventRepo := repository.NewPostgresWebhookEventRepo(db)

	scheduler := worker.NewScheduler(slog.Default())
	if err := scheduler.Register("enrollment_repair", cfg.RepairSchedule,
		repair.NewJob(purchaseRepo, collector, slog.Default(), cfg.RepairBatchSize)); err != nil {
		return nil, err
	}
	if err := scheduler.Register("webhook_event_cleanup", cfg.CleanupSchedule,
		cleanup.NewCleanupJob(eventRepo, slog.Default(), cfg.WebhookEventRetentionDays)); err != nil {
		return nil, err
	}
	return scheduler, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	router, rateLimiter, err := buildRouter(cfg, db, newRegistry())
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}
	defer rateLimiter.Stop()

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// 修復ジョブとクリーンアップジョブをcronで実行し、/healthと/metricsのみを公開する。
// SIGINTまたはSIGTERMシグナルを受信すると実行中のジョブの完了を待って終了する。
func runWorker(cfg *config.Config) error {
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	reg := newRegistry()
	scheduler, err := buildScheduler(cfg, db, reg)
	if err != nil {
		return fmt.Errorf("failed to build scheduler: %w", err)
	}

	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           handler.NewOpsRouter(slog.Default(), db, metrics.Handler(reg)),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("worker starting",
		slog.String("repair_schedule", cfg.RepairSchedule),
		slog.String("cleanup_schedule", cfg.CleanupSchedule),
	)

	// コンテキストがキャンセルされるまでブロックする
	runErr := scheduler.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("worker metrics server shutdown failed", slog.String("error", err.Error()))
	}

	if runErr != nil {
		return fmt.Errorf("scheduler failed: %w", runErr)
	}
	slog.Info("worker stopped gracefully")
	return nil
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
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	endpoint := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(endpoint)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
