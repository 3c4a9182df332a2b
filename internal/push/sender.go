package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/mvitabar/comandero/internal/model"
)

// ErrEndpointGone はPushサービスがエンドポイントの失効（404/410）を返したことを示す。
// 呼び出し側はこのエラーを受けて購読を無効化する。
var ErrEndpointGone = errors.New("push endpoint no longer exists")

// Sender は単一購読へのPush配信のインターフェース。
type Sender interface {
	// Send はペイロードを暗号化して購読のエンドポイントへ送信する。
	// エンドポイントが失効している場合はErrEndpointGoneを返す。
	Send(ctx context.Context, sub *model.PushSubscription, payload *Payload) error
}

// WebPushSenderConfig はWebPushSenderの設定。
type WebPushSenderConfig struct {
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	Subscriber      string // mailto: 形式の連絡先。Pushサービスへの自己申告
	TTL             int    // Pushサービス側でのメッセージ保持秒数

	// HTTPClient はPushサービス呼び出しに使用するクライアント。
	// SSRF防止のためsecurity.EndpointGuardServiceのNewSafeClientを渡すこと。
	HTTPClient *http.Client
}

// WebPushSender はVAPID認証つきWeb Pushプロトコルによる配信実装。
// ペイロードは購読ごとの鍵素材（p256dh, auth）で暗号化される。
type WebPushSender struct {
	config WebPushSenderConfig
}

// NewWebPushSender はWebPushSenderを生成する。
func NewWebPushSender(config WebPushSenderConfig) *WebPushSender {
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebPushSender{config: config}
}

// Send はペイロードを暗号化して購読のエンドポイントへ送信する。
func (s *WebPushSender) Send(ctx context.Context, sub *model.PushSubscription, payload *Payload) error {
	message, err := payload.Marshal()
	if err != nil {
		return err
	}

	resp, err := webpush.SendNotificationWithContext(ctx, message, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			P256dh: sub.P256dh,
			Auth:   sub.Auth,
		},
	}, &webpush.Options{
		HTTPClient:      s.config.HTTPClient,
		Subscriber:      s.config.Subscriber,
		VAPIDPublicKey:  s.config.VAPIDPublicKey,
		VAPIDPrivateKey: s.config.VAPIDPrivateKey,
		TTL:             s.config.TTL,
	})
	if err != nil {
		return fmt.Errorf("push request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("%w: status %d", ErrEndpointGone, resp.StatusCode)
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("push service returned status %d: %s", resp.StatusCode, body)
	}
}

// compile-time interface check
var _ Sender = (*WebPushSender)(nil)
