package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/mvitabar/comandero/internal/auth"
	"github.com/mvitabar/comandero/internal/metrics"
	"github.com/mvitabar/comandero/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Verifier          auth.Verifier
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Collector         metrics.MetricsCollector

	// サービス
	NotificationService NotificationServiceInterface
	PushService         PushServiceInterface

	// WebSocketゲートウェイと監視エンドポイント
	WSHandler      http.Handler
	MetricsHandler http.Handler
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → CORS → SecurityHeaders → (認証ルートのみ) Auth → Logging → RateLimit
//
// /ws、/health、/metrics は認証ミドルウェアチェーンの外に配置する。
// WebSocketの認証はゲートウェイ自身がアップグレード時と接続後の2段階で行う。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware(deps.Logger))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))
	r.Use(middleware.NewSecurityHeadersMiddleware())

	notificationHandler := NewNotificationHandler(deps.NotificationService)
	pushHandler := NewPushHandler(deps.PushService)

	// --- 認証不要のルート ---

	r.Get("/health", handleHealth)
	r.Handle("/metrics", deps.MetricsHandler)
	r.Handle("/ws", deps.WSHandler)

	// --- 認証が必要なルート ---
	// ミドルウェアスタック: Auth → Logging → RateLimit(General)
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewAuthMiddleware(deps.Verifier))
		r.Use(middleware.NewLoggingMiddleware(deps.Logger, deps.Collector))
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// 通知管理
		r.Route("/notifications", func(r chi.Router) {
			// POST /notifications - 通知作成（作成専用レート制限を追加）
			r.With(deps.RateLimiter.NotificationMiddleware()).Post("/", notificationHandler.CreateNotification)

			r.Get("/", notificationHandler.ListNotifications)
			r.Post("/read", notificationHandler.MarkRead)
			r.Get("/unread-count", notificationHandler.UnreadCount)
		})

		// Push購読管理
		r.Route("/push", func(r chi.Router) {
			r.Post("/register", pushHandler.RegisterSubscription)
			r.Delete("/register", pushHandler.UnregisterSubscription)
		})
	})

	return r
}

// handleHealth はヘルスチェックエンドポイント。
// GET /health
func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}
