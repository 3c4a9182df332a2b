// Package fanout は通知のリアルタイム配信対象の解決とセッションへの振り分けを担う。
package fanout

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mvitabar/comandero/internal/gateway"
	"github.com/mvitabar/comandero/internal/metrics"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/registry"
	"github.com/mvitabar/comandero/internal/repository"
)

// SessionPusher はセッション単位の配信口。gateway.Gatewayが実装する。
type SessionPusher interface {
	PushToSession(sessionID, event string, data any) bool
}

// Target は配信対象の指定。UserIDs、Role、Broadcastのいずれか一つを使う。
type Target struct {
	TenantID  string
	UserIDs   []string
	Role      string
	Broadcast bool
}

// TargetUsers は明示的なユーザー集合への配信対象を作る。
func TargetUsers(tenantID string, userIDs []string) Target {
	return Target{TenantID: tenantID, UserIDs: userIDs}
}

// TargetRole はロール解決による配信対象を作る。
func TargetRole(tenantID, role string) Target {
	return Target{TenantID: tenantID, Role: role}
}

// TargetBroadcast はテナント全体への配信対象を作る。
func TargetBroadcast(tenantID string) Target {
	return Target{TenantID: tenantID, Broadcast: true}
}

// notificationEvent はnotificationイベントのペイロード。
type notificationEvent struct {
	ID        string         `json:"id"`
	UserID    string         `json:"userId"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Type      string         `json:"type"`
	Read      bool           `json:"read"`
	CreatedAt time.Time      `json:"createdAt"`
	Data      map[string]any `json:"data,omitempty"`
}

// Router は通知を接続中のセッションに振り分ける。
//
// 配信はベストエフォートであり、ファンアウト時点で生きているセッションに対する
// at-most-onceを保証する。オフラインのユーザーはこの経路では何も受け取らない。
// プッシュ配信は独立した経路であり、フォールバックではない。
type Router struct {
	registry *registry.SessionRegistry
	pusher   SessionPusher
	userRepo repository.UserDirectoryRepository
	metrics  metrics.MetricsCollector
	logger   *slog.Logger
}

// NewRouter はRouterを生成する。
func NewRouter(
	reg *registry.SessionRegistry,
	pusher SessionPusher,
	userRepo repository.UserDirectoryRepository,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Router {
	return &Router{
		registry: reg,
		pusher:   pusher,
		userRepo: userRepo,
		metrics:  collector,
		logger:   logger,
	}
}

// Dispatch は対象をユーザー集合に解決し、各ユーザーの全セッションへ
// 通知を配信する。実際に配信されたセッション数を返す。
func (r *Router) Dispatch(ctx context.Context, target Target, notification *model.Notification) (int, error) {
	userIDs, err := r.resolve(ctx, target)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve fan-out target: %w", err)
	}

	delivered := 0
	for _, userID := range userIDs {
		payload := notificationEvent{
			ID:        notification.ID,
			UserID:    userID,
			Title:     notification.Title,
			Message:   notification.Message,
			Type:      notification.Type,
			Read:      notification.IsRead,
			CreatedAt: notification.CreatedAt,
			Data:      notification.Data,
		}
		for _, sessionID := range r.registry.SessionsFor(userID) {
			if r.pusher.PushToSession(sessionID, gateway.EventNotification, payload) {
				delivered++
			}
		}
	}

	if delivered > 0 {
		r.metrics.RecordRealtimeDelivery(delivered)
	}

	r.logger.Debug("fan-out dispatched",
		slog.String("notification_id", notification.ID),
		slog.Int("users", len(userIDs)),
		slog.Int("delivered", delivered),
	)

	return delivered, nil
}

// resolve は配信対象をユーザーIDの集合に解決する。
// ブロードキャストは現在レジストリに登録されているユーザーのうち、
// 対象テナントに属するものだけに配信する。
func (r *Router) resolve(ctx context.Context, target Target) ([]string, error) {
	switch {
	case target.Broadcast:
		tenantUsers, err := r.userRepo.ListUserIDsByTenant(ctx, target.TenantID)
		if err != nil {
			return nil, fmt.Errorf("failed to list tenant users: %w", err)
		}
		members := make(map[string]struct{}, len(tenantUsers))
		for _, id := range tenantUsers {
			members[id] = struct{}{}
		}
		var connected []string
		for _, id := range r.registry.UserIDs() {
			if _, ok := members[id]; ok {
				connected = append(connected, id)
			}
		}
		return connected, nil
	case target.Role != "":
		userIDs, err := r.userRepo.ListUserIDsByRole(ctx, target.TenantID, target.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", target.Role, err)
		}
		return userIDs, nil
	default:
		return target.UserIDs, nil
	}
}
