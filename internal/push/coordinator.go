package push

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/mvitabar/comandero/internal/metrics"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/repository"
)

// DeliveryResult は購読1件ごとの配信結果。
type DeliveryResult struct {
	Subscription *model.PushSubscription
	OK           bool
	Err          error // OKがfalseの場合に設定される
}

// Coordinator はターゲット解決から購読ごとのPush配信までを調整する。
//
// すべての配信試行は並行に実行され、1件の失敗が他の購読への配信を
// 妨げることはない。戻り値は試行した全購読の結果を常に含む。
type Coordinator struct {
	subRepo  repository.PushSubscriptionRepository
	userRepo repository.UserDirectoryRepository
	sender   Sender
	metrics  metrics.MetricsCollector
	logger   *slog.Logger

	maxConcurrent int
}

// NewCoordinator はCoordinatorを生成する。
// maxConcurrentが0以下の場合はデフォルトの20を使用する。
func NewCoordinator(
	subRepo repository.PushSubscriptionRepository,
	userRepo repository.UserDirectoryRepository,
	sender Sender,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrent int,
) *Coordinator {
	if maxConcurrent <= 0 {
		maxConcurrent = 20
	}
	return &Coordinator{
		subRepo:       subRepo,
		userRepo:      userRepo,
		sender:        sender,
		metrics:       collector,
		logger:        logger,
		maxConcurrent: maxConcurrent,
	}
}

// SendToUser は単一ユーザーの全アクティブ購読へ配信する。
func (c *Coordinator) SendToUser(ctx context.Context, userID string, payload *Payload) []DeliveryResult {
	return c.SendToUsers(ctx, []string{userID}, payload)
}

// SendToUsers は複数ユーザーの全アクティブ購読へ配信する。
// 購読解決クエリ自体が失敗した場合はログに記録し、空の結果を返す
// （部分的な結果は返さない）。
func (c *Coordinator) SendToUsers(ctx context.Context, userIDs []string, payload *Payload) []DeliveryResult {
	subs, err := c.subRepo.ListActiveByUserIDs(ctx, userIDs)
	if err != nil {
		c.logger.Error("failed to resolve push subscriptions",
			slog.Int("user_count", len(userIDs)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return c.SendToSubscriptions(ctx, subs, payload)
}

// SendToRole はテナント内で指定ロールを持つ全ユーザーへ配信する。
// ロールに該当するユーザーがいない場合は配信せず空の結果を返す（エラーではない）。
func (c *Coordinator) SendToRole(ctx context.Context, tenantID, role string, payload *Payload) []DeliveryResult {
	userIDs, err := c.userRepo.ListUserIDsByRole(ctx, tenantID, role)
	if err != nil {
		c.logger.Error("failed to resolve role for push delivery",
			slog.String("tenant_id", tenantID),
			slog.String("role", role),
			slog.String("error", err.Error()),
		)
		return nil
	}
	if len(userIDs) == 0 {
		return nil
	}
	return c.SendToUsers(ctx, userIDs, payload)
}

// Broadcast はテナント内の全アクティブ購読へ配信する。
func (c *Coordinator) Broadcast(ctx context.Context, tenantID string, payload *Payload) []DeliveryResult {
	subs, err := c.subRepo.ListActiveByTenant(ctx, tenantID)
	if err != nil {
		c.logger.Error("failed to resolve tenant push subscriptions",
			slog.String("tenant_id", tenantID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return c.SendToSubscriptions(ctx, subs, payload)
}

// SendToSubscriptions は解決済みの購読集合へ並行に配信する。
// すべての試行が確定（成功または失敗）するまで待ち、
// 購読ごとの結果をN件（入力と同数）返す。
func (c *Coordinator) SendToSubscriptions(ctx context.Context, subs []*model.PushSubscription, payload *Payload) []DeliveryResult {
	if len(subs) == 0 {
		return nil
	}

	results := make([]DeliveryResult, len(subs))
	sem := make(chan struct{}, c.maxConcurrent)
	var wg sync.WaitGroup

	for i, sub := range subs {
		wg.Add(1)
		go func(i int, sub *model.PushSubscription) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			start := time.Now()
			err := c.sender.Send(ctx, sub, payload)
			c.metrics.RecordPushLatency(time.Since(start))
			c.metrics.RecordPushDelivery(err == nil)

			if err != nil {
				results[i] = DeliveryResult{Subscription: sub, OK: false, Err: err}
				c.handleDeliveryError(ctx, sub, err)
				return
			}
			results[i] = DeliveryResult{Subscription: sub, OK: true}
		}(i, sub)
	}

	wg.Wait()
	return results
}

// handleDeliveryError は個別配信の失敗を処理する。
// 失敗は購読単位で記録され、呼び出し元には伝播しない。
// エンドポイント失効の場合は購読を無効化し、以後の配信対象から外す。
func (c *Coordinator) handleDeliveryError(ctx context.Context, sub *model.PushSubscription, err error) {
	if errors.Is(err, ErrEndpointGone) {
		c.logger.Info("deactivating expired push subscription",
			slog.String("subscription_id", sub.ID),
			slog.String("user_id", sub.UserID),
		)
		if deactivateErr := c.subRepo.Deactivate(ctx, sub.ID); deactivateErr != nil {
			c.logger.Error("failed to deactivate push subscription",
				slog.String("subscription_id", sub.ID),
				slog.String("error", deactivateErr.Error()),
			)
		}
		return
	}

	c.logger.Warn("push delivery failed",
		slog.String("subscription_id", sub.ID),
		slog.String("user_id", sub.UserID),
		slog.String("error", err.Error()),
	)
}
