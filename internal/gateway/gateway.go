// Package gateway はリアルタイム通知のWebSocket転送層を提供する。
//
// ゲートウェイは接続のライフサイクル（アップグレード、接続時認証、切断）を管理し、
// 認証済みセッションをSessionRegistryに登録する。通知のファンアウト側からは
// PushToSessionだけが見え、接続ハンドルは外部に漏れない。
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/mvitabar/comandero/internal/auth"
	"github.com/mvitabar/comandero/internal/metrics"
	"github.com/mvitabar/comandero/internal/registry"
)

// イベント名。クライアントとのワイヤプロトコルを構成する。
const (
	EventAuthenticate  = "authenticate"
	EventAuthenticated = "authenticated"
	EventAuthError     = "auth_error"
	EventNotification  = "notification"
)

// Event はWebSocket上のイベントエンベロープ。
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// authenticateData はクライアントのauthenticateイベントのペイロード。
type authenticateData struct {
	Token string `json:"token"`
}

// Config はGatewayの動作設定。
type Config struct {
	// AuthTimeout は接続後にauthenticateイベントを待つ猶予時間。
	// 超過した未認証セッションは強制切断される。
	AuthTimeout time.Duration
	// WriteTimeout は1メッセージの書き込みの上限時間。
	WriteTimeout time.Duration
	// SendBuffer はセッションごとの送信キュー長。
	SendBuffer int
}

// Gateway はWebSocket接続の受け入れとセッションへの配信を担う。
type Gateway struct {
	registry *registry.SessionRegistry
	verifier auth.Verifier
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
	config   Config

	upgrader websocket.Upgrader

	mu       sync.RWMutex
	sessions map[string]*session
}

// NewGateway はGatewayを生成する。
func NewGateway(
	reg *registry.SessionRegistry,
	verifier auth.Verifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	config Config,
) *Gateway {
	if config.AuthTimeout <= 0 {
		config.AuthTimeout = 10 * time.Second
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.SendBuffer <= 0 {
		config.SendBuffer = 32
	}
	return &Gateway{
		registry: reg,
		verifier: verifier,
		metrics:  collector,
		logger:   logger,
		config:   config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// オリジン検証はCORSミドルウェアと同様にフロントエンドのみ許可すべきだが、
			// トークン検証が必須のためここでは全オリジンを受け入れる。
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		sessions: make(map[string]*session),
	}
}

// ServeHTTP はWebSocketアップグレードのエントリポイント。
// GET /ws
//
// アップグレードヘッダのないリクエストは426、ベアラートークンの欠落・無効は
// 401で拒否する。検証済みのリクエストのみセッションを確立する。
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !websocket.IsWebSocketUpgrade(r) {
		http.Error(w, "not a websocket request", http.StatusUpgradeRequired)
		return
	}

	token := bearerToken(r)
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if _, err := g.verifier.Verify(r.Context(), token); err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			g.metrics.RecordAuthFailure()
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		g.logger.Error("token verification failed at upgrade",
			slog.String("error", err.Error()),
		)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgradeはエラーレスポンスを自分で書き込む
		g.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sess := newSession(uuid.New().String(), conn, g.config.SendBuffer)

	g.mu.Lock()
	g.sessions[sess.id] = sess
	g.mu.Unlock()
	g.metrics.SessionOpened()

	g.logger.Info("websocket session opened", slog.String("session_id", sess.id))

	go sess.writePump(g.config.WriteTimeout)

	// 接続直後のセッションは未認証。猶予時間内にauthenticateが来なければ切断する。
	authTimer := time.AfterFunc(g.config.AuthTimeout, func() {
		if !sess.isAuthenticated() {
			g.logger.Warn("session authentication timed out", slog.String("session_id", sess.id))
			g.sendEvent(sess, EventAuthError, map[string]string{"message": "authentication timeout"})
			sess.close()
		}
	})

	go func() {
		defer authTimer.Stop()
		g.readLoop(sess)
		g.teardown(sess)
	}()
}

// readLoop はセッションからの受信イベントを処理する。
// 接続が閉じられるまでブロックする。
func (g *Gateway) readLoop(sess *session) {
	for {
		_, message, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(message, &ev); err != nil {
			g.logger.Warn("malformed websocket event",
				slog.String("session_id", sess.id),
			)
			continue
		}

		switch ev.Event {
		case EventAuthenticate:
			g.handleAuthenticate(sess, ev.Data)
		default:
			// 未知のイベントは無視する
		}
	}
}

// handleAuthenticate はauthenticateイベントのトークンを検証し、
// 成功時にセッションをレジストリに登録する。
// 失敗時はauth_errorを送信して強制切断する。未認証セッションを
// 開いたまま残してはならない。
func (g *Gateway) handleAuthenticate(sess *session, data json.RawMessage) {
	var payload authenticateData
	if err := json.Unmarshal(data, &payload); err != nil || payload.Token == "" {
		g.rejectSession(sess, "missing token")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), g.config.AuthTimeout)
	defer cancel()

	identity, err := g.verifier.Verify(ctx, payload.Token)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) {
			g.rejectSession(sess, "invalid or expired token")
			return
		}
		g.logger.Error("token verification failed",
			slog.String("session_id", sess.id),
			slog.String("error", err.Error()),
		)
		g.rejectSession(sess, "authentication unavailable")
		return
	}

	sess.markAuthenticated(identity.UserID)
	g.registry.Register(identity.UserID, sess.id)

	g.logger.Info("session authenticated",
		slog.String("session_id", sess.id),
		slog.String("user_id", identity.UserID),
	)

	g.sendEvent(sess, EventAuthenticated, map[string]string{"userId": identity.UserID})
}

// rejectSession はauth_errorを送信してセッションを強制切断する。
func (g *Gateway) rejectSession(sess *session, message string) {
	g.metrics.RecordAuthFailure()
	g.sendEvent(sess, EventAuthError, map[string]string{"message": message})

	// 送信キューが掃けるだけの猶予を置いてから閉じる
	time.AfterFunc(g.config.WriteTimeout, sess.close)
}

// teardown はセッションの後始末を行う。
// 認証を完了しなかったセッションに対するDeregisterはレジストリ側でno-opになる。
func (g *Gateway) teardown(sess *session) {
	sess.close()

	g.mu.Lock()
	delete(g.sessions, sess.id)
	g.mu.Unlock()

	g.registry.Deregister(sess.id)
	g.metrics.SessionClosed()

	g.logger.Info("websocket session closed", slog.String("session_id", sess.id))
}

// PushToSession は指定セッションにイベントを配信する。
// セッションがすでに存在しない場合は何もしない。ファンアウトの解決から
// 配信までの間にセッションが死ぬのは並行動作上の正常系であり、
// 呼び出し側がエラーとして扱ってはならない。
// 配信が実際にキューイングされた場合にtrueを返す。
func (g *Gateway) PushToSession(sessionID, event string, data any) bool {
	g.mu.RLock()
	sess, ok := g.sessions[sessionID]
	g.mu.RUnlock()
	if !ok {
		return false
	}

	raw, err := json.Marshal(data)
	if err != nil {
		g.logger.Error("failed to marshal event data",
			slog.String("session_id", sessionID),
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
		return false
	}

	message, err := json.Marshal(Event{Event: event, Data: raw})
	if err != nil {
		return false
	}

	return sess.enqueue(message)
}

// Shutdown は全セッションを閉じる。サーバー停止時に呼び出す。
func (g *Gateway) Shutdown() {
	g.mu.Lock()
	sessions := make([]*session, 0, len(g.sessions))
	for _, sess := range g.sessions {
		sessions = append(sessions, sess)
	}
	g.mu.Unlock()

	for _, sess := range sessions {
		sess.close()
	}
}

// sendEvent はイベントをセッションの送信キューに積む。
func (g *Gateway) sendEvent(sess *session, event string, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	message, err := json.Marshal(Event{Event: event, Data: raw})
	if err != nil {
		return
	}
	sess.enqueue(message)
}

// bearerToken はAuthorizationヘッダからベアラートークンを取り出す。
// 見つからない場合は空文字列を返す。
func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
