package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mvitabar/comandero/internal/auth"
	"github.com/mvitabar/comandero/internal/config"
	"github.com/mvitabar/comandero/internal/database"
	"github.com/mvitabar/comandero/internal/fanout"
	"github.com/mvitabar/comandero/internal/gateway"
	"github.com/mvitabar/comandero/internal/handler"
	"github.com/mvitabar/comandero/internal/logger"
	"github.com/mvitabar/comandero/internal/metrics"
	"github.com/mvitabar/comandero/internal/middleware"
	"github.com/mvitabar/comandero/internal/notification"
	"github.com/mvitabar/comandero/internal/push"
	"github.com/mvitabar/comandero/internal/registry"
	"github.com/mvitabar/comandero/internal/repository"
	"github.com/mvitabar/comandero/internal/security"
	"github.com/prometheus/client_golang/prometheus"
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
	case CommandServe:
		return runServe(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	notifRepo := repository.NewPostgresNotificationRepo(db)
	subRepo := repository.NewPostgresPushSubscriptionRepo(db)
	userRepo := repository.NewPostgresUserDirectoryRepo(db)

	// 3. セキュリティサービスの初期化
	endpointGuard := security.NewEndpointGuard()
	sanitizer := security.NewTextSanitizer()

	// 4. メトリクスの初期化
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	// 5. WebSocketゲートウェイの構築
	verifier := auth.NewHTTPVerifier(auth.HTTPVerifierConfig{
		BaseURL: cfg.AuthBaseURL,
		APIKey:  cfg.AuthAPIKey,
	})
	sessionRegistry := registry.NewSessionRegistry()
	gw := gateway.NewGateway(sessionRegistry, verifier, collector, slog.Default(), gateway.Config{
		AuthTimeout:  cfg.WSAuthTimeout,
		WriteTimeout: cfg.WSWriteTimeout,
		SendBuffer:   cfg.WSSendBuffer,
	})

	// 6. Push配信経路の構築
	// PushエンドポイントへのHTTPクライアントはSSRF検証付きDialerを使用する
	sender := push.NewWebPushSender(push.WebPushSenderConfig{
		VAPIDPublicKey:  cfg.VAPIDPublicKey,
		VAPIDPrivateKey: cfg.VAPIDPrivateKey,
		Subscriber:      cfg.VAPIDSubject,
		TTL:             cfg.PushTTL,
		HTTPClient:      endpointGuard.NewSafeClient(cfg.PushTimeout),
	})
	coordinator := push.NewCoordinator(subRepo, userRepo, sender, collector, slog.Default(), cfg.PushMaxConcurrent)

	// 7. ドメインサービスの初期化
	router := fanout.NewRouter(sessionRegistry, gw, userRepo, collector, slog.Default())
	dispatcher := notification.NewAsyncDispatcher(router, coordinator, slog.Default(), 30*time.Second)
	notifService := notification.NewService(notifRepo, userRepo, sanitizer, dispatcher, slog.Default())
	pushService := push.NewSubscriptionService(subRepo, endpointGuard, slog.Default())

	// 8. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitNotify),
	)
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Verifier:          verifier,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Collector:         collector,

		NotificationService: notifService,
		PushService:         pushService,

		WSHandler:      gw,
		MetricsHandler: metrics.Handler(promRegistry),
	}

	// 9. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      handler.NewRouter(deps),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	// HTTPサーバー停止後に残存WebSocketセッションを閉じる
	gw.Shutdown()

	slog.Info("API server stopped gracefully")
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
