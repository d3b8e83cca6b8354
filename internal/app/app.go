package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/hitoshi/recruitman/internal/assessment"
	"github.com/hitoshi/recruitman/internal/auth"
	"github.com/hitoshi/recruitman/internal/config"
	"github.com/hitoshi/recruitman/internal/database"
	"github.com/hitoshi/recruitman/internal/document"
	"github.com/hitoshi/recruitman/internal/fanout"
	"github.com/hitoshi/recruitman/internal/handler"
	"github.com/hitoshi/recruitman/internal/inbox"
	"github.com/hitoshi/recruitman/internal/joboffer"
	"github.com/hitoshi/recruitman/internal/logger"
	"github.com/hitoshi/recruitman/internal/metrics"
	"github.com/hitoshi/recruitman/internal/middleware"
	"github.com/hitoshi/recruitman/internal/policy"
	"github.com/hitoshi/recruitman/internal/profile"
	"github.com/hitoshi/recruitman/internal/realtime"
	"github.com/hitoshi/recruitman/internal/repository"
	"github.com/hitoshi/recruitman/internal/security"
	"github.com/hitoshi/recruitman/internal/selection"
	"github.com/hitoshi/recruitman/internal/storage"
	"github.com/hitoshi/recruitman/internal/worker/cleanup"
	"github.com/hitoshi/recruitman/internal/worker/expiry"
	"github.com/hitoshi/recruitman/internal/worker/mailer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// cleanupInterval はワーカーモードでのクリーンアップジョブの実行間隔。
const cleanupInterval = 24 * time.Hour

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefaultWithLevel(w, logger.ParseLevel(os.Getenv("LOG_LEVEL")))

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
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandCleanup:
		return runCleanup(cfg)
	default:
		return runServe(cfg)
	}
}

// openDB はDB接続を開き、疎通を確認する。
func openDB(databaseURL string) (*sql.DB, error) {
	db, err := database.Open(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Ping(context.Background(), db, 5*time.Second); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// newRegistry はアプリケーションのメトリクスとランタイムメトリクスを登録したレジストリを返す。
func newRegistry() (*prometheus.Registry, *metrics.Collector) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg, metrics.NewCollector(reg)
}

// newRealtime はRedisが設定されていればRedisFeedを、なければ何も配信しない実装を返す。
// 購読側はRedis未設定時にnilとなり、ストリームAPIは503を返す。
func newRealtime(ctx context.Context, cfg *config.Config) (realtime.Publisher, realtime.Subscriber, func(), error) {
	if !cfg.RealtimeEnabled() {
		slog.Warn("REDIS_URL is not set; realtime delivery is disabled")
		return realtime.Noop{}, nil, func() {}, nil
	}
	feed, err := realtime.NewRedisFeed(ctx, cfg.RedisURL, cfg.RealtimeChannelPrefix, slog.Default())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("realtime delivery enabled", slog.String("channel_prefix", cfg.RealtimeChannelPrefix))
	return feed, feed, func() { _ = feed.Close() }, nil
}

// newBlobStore はGCS_BUCKETが設定されていればGCSを、なければ常に失敗するストアを返す。
func newBlobStore(ctx context.Context, cfg *config.Config) (storage.BlobStore, func(), error) {
	if cfg.GCSBucket == "" {
		slog.Warn("GCS_BUCKET is not set; document uploads are disabled")
		return storage.Unconfigured{}, func() {}, nil
	}
	blobs, err := storage.NewGCSBlobStore(ctx, storage.GCSConfig{
		Bucket:          cfg.GCSBucket,
		CredentialsFile: cfg.GCSCredentialsFile,
		Endpoint:        cfg.GCSEndpoint,
	})
	if err != nil {
		return nil, nil, err
	}
	return blobs, func() { _ = blobs.Close() }, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	ctx := context.Background()

	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established")

	// 2. ストアとメトリクス
	store := repository.NewPostgresStore(db)
	reg, collector := newRegistry()

	// 3. 外部サービス
	publisher, subscriber, closeRealtime, err := newRealtime(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeRealtime()

	blobs, closeBlobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	// 4. アクセスポリシーとファンアウト
	relations := store.Repos().Relations
	policies := policy.New(relations)
	policies.OnDeny(collector.PolicyDenied)

	rules := fanout.NewRules(cfg.DocumentExpiryWindow)
	dispatcher := fanout.NewDispatcher(collector, slog.Default(), cfg.FanoutBroadcastBatch, cfg.FanoutBroadcastMax)
	sanitizer := security.NewTextSanitizer()

	// 5. ドメインサービスの初期化
	authService := auth.NewService(
		auth.NewVerifier(auth.VerifierConfig{
			Secret:   cfg.JWTSecret,
			Issuer:   cfg.JWTIssuer,
			Audience: cfg.JWTAudience,
		}),
		store.Repos().Profiles,
	)
	profileService := profile.NewService(store, policies)
	offerService := joboffer.NewService(store, policies, rules, dispatcher, publisher, sanitizer, slog.Default())
	selectionService := selection.NewService(store, policies, relations, rules, dispatcher, publisher, sanitizer, slog.Default())
	assessmentService := assessment.NewService(store, policies, sanitizer, slog.Default())
	documentService := document.NewService(store, policies, blobs, rules, dispatcher, publisher, slog.Default(), cfg.BlobMaxSize)
	inboxService := inbox.NewService(store, policies, rules, dispatcher, publisher, sanitizer, slog.Default())

	// 6. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitWrite))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            slog.Default(),
		Authenticator:     authService,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		EnableHSTS:        strings.HasPrefix(cfg.BaseURL, "https://"),
		RateLimiter:       rateLimiter,
		StatusRecorder:    collector,
		HealthChecker:     db,
		Metrics:           metrics.Handler(reg),

		ProfileService:    profileService,
		JobOfferService:   offerService,
		SelectionService:  selectionService,
		AssessmentService: assessmentService,
		DocumentService:   documentService,
		InboxService:      inboxService,
		Subscriber:        subscriber,
		UploadMaxSize:     cfg.BlobMaxSize,
	})

	// 7. HTTPサーバーの起動
	// ストリームAPIは自身で書き込み期限を解除する
	server := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	return serveUntilSignal(server)
}

// serveUntilSignal はサーバーを起動し、SIGINTまたはSIGTERMでグレースフルシャットダウンする。
func serveUntilSignal(server *http.Server) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server listen error: %w", err)
	case <-stop:
	}
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// メール送信・受験期限切れ・クリーンアップの各ジョブを起動し、
// メトリクスを別ポートで公開する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	slog.Info("database connection established (worker)")

	store := repository.NewPostgresStore(db)
	reg, collector := newRegistry()

	// 2. ジョブの初期化
	sweeper := expiry.NewSweeper(store.Repos().Results, collector, slog.Default())
	cleanupJob := cleanup.NewCleanupJob(db, slog.Default(), cfg.RetentionDays)

	var mailWorker *mailer.Worker
	if cfg.MailerEnabled() {
		sender := mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		mailWorker = mailer.NewWorker(store, sender, collector, slog.Default(), cfg.MailerBatchSize, cfg.MailerMaxAttempts)
	} else {
		slog.Warn("SMTP_HOST is not set; queued emails will not be delivered")
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	metricsServer := &http.Server{
		Addr:              ":" + cfg.WorkerMetricsPort,
		Handler:           metrics.SetupMetricsRoute(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("worker metrics server error", slog.String("error", err.Error()))
		}
	}()

	slog.Info("worker starting",
		slog.Bool("mailer_enabled", mailWorker != nil),
		slog.Duration("mailer_interval", cfg.MailerInterval),
		slog.Duration("expiry_interval", cfg.ExpirySweepInterval),
		slog.Int("retention_days", cfg.RetentionDays),
	)

	var wg sync.WaitGroup
	if mailWorker != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mailWorker.Start(ctx, cfg.MailerInterval)
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		sweeper.Start(ctx, cfg.ExpirySweepInterval)
	}()
	go func() {
		defer wg.Done()
		// 起動直後に1回実行し、その後は日次
		_ = cleanupJob.Run(ctx)
		cleanupJob.Start(ctx, cleanupInterval)
	}()

	<-ctx.Done()
	slog.Info("shutting down worker...")
	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("worker metrics server shutdown failed", slog.String("error", err.Error()))
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

	res, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully",
		slog.Uint64("schema_version", uint64(res.Version)),
		slog.Bool("applied", res.Applied),
	)
	return nil
}

// runCleanup はクリーンアップジョブを1回だけ実行する。外部スケジューラからの起動用。
func runCleanup(cfg *config.Config) error {
	db, err := openDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	return cleanup.NewCleanupJob(db, slog.Default(), cfg.RetentionDays).Run(context.Background())
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
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
