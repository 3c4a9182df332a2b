package notification

import (
	"context"
	"log/slog"
	"time"

	"github.com/mvitabar/comandero/internal/fanout"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/push"
)

// realtimeRouter はリアルタイム経路。fanout.Routerが実装する。
type realtimeRouter interface {
	Dispatch(ctx context.Context, target fanout.Target, notification *model.Notification) (int, error)
}

// pushCoordinator はPush経路。push.Coordinatorが実装する。
type pushCoordinator interface {
	SendToUsers(ctx context.Context, userIDs []string, payload *push.Payload) []push.DeliveryResult
	Broadcast(ctx context.Context, tenantID string, payload *push.Payload) []push.DeliveryResult
}

// AsyncDispatcher は永続化済み通知をリアルタイム経路とPush経路の両方へ
// 非同期に配信する。
//
// 2つの経路は独立しており、片方の失敗はもう片方に影響しない。
// 配信の失敗はログに記録されるのみで、通知を作成したリクエストには
// 決して伝播しない（リクエストは永続化の時点ですでに成功している）。
type AsyncDispatcher struct {
	router      realtimeRouter
	coordinator pushCoordinator
	logger      *slog.Logger
	timeout     time.Duration
}

// NewAsyncDispatcher はAsyncDispatcherを生成する。
// timeoutは配信経路ごとの全体の制限時間。
func NewAsyncDispatcher(router realtimeRouter, coordinator pushCoordinator, logger *slog.Logger, timeout time.Duration) *AsyncDispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &AsyncDispatcher{
		router:      router,
		coordinator: coordinator,
		logger:      logger,
		timeout:     timeout,
	}
}

// compile-time interface check
var _ Dispatcher = (*AsyncDispatcher)(nil)

// Dispatch は両経路の配信をgoroutineで起動し、即座に戻る。
// リクエストのコンテキストに紐づけない。HTTPレスポンスが返った後も
// 配信は継続する。
func (d *AsyncDispatcher) Dispatch(tenantID string, notifications []*model.Notification) {
	if len(notifications) == 0 {
		return
	}
	go d.dispatchRealtime(tenantID, notifications)
	go d.dispatchPush(tenantID, notifications)
}

// dispatchRealtime は各通知を宛先セッションに配信する。
func (d *AsyncDispatcher) dispatchRealtime(tenantID string, notifications []*model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	for _, n := range notifications {
		var target fanout.Target
		if n.RecipientID == nil {
			target = fanout.TargetBroadcast(tenantID)
		} else {
			target = fanout.TargetUsers(tenantID, []string{*n.RecipientID})
		}
		if _, err := d.router.Dispatch(ctx, target, n); err != nil {
			d.logger.Error("realtime dispatch failed",
				slog.String("notification_id", n.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// dispatchPush はPush購読者への配信を起動する。
// 同一バッチの通知は内容が共通のため、ペイロードは先頭の1件から組み立てる。
func (d *AsyncDispatcher) dispatchPush(tenantID string, notifications []*model.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	payload := buildPayload(notifications[0])

	var results []push.DeliveryResult
	if notifications[0].RecipientID == nil {
		results = d.coordinator.Broadcast(ctx, tenantID, payload)
	} else {
		userIDs := make([]string, 0, len(notifications))
		for _, n := range notifications {
			if n.RecipientID != nil {
				userIDs = append(userIDs, *n.RecipientID)
			}
		}
		results = d.coordinator.SendToUsers(ctx, userIDs, payload)
	}

	failed := 0
	for _, result := range results {
		if !result.OK {
			failed++
		}
	}
	if failed > 0 {
		d.logger.Warn("push dispatch completed with failures",
			slog.String("notification_id", notifications[0].ID),
			slog.Int("attempted", len(results)),
			slog.Int("failed", failed),
		)
	}
}

// buildPayload は通知レコードからPushペイロードを組み立てる。
// 重要フラグはrequireInteraction（通知が自動で消えない）に対応させる。
func buildPayload(n *model.Notification) *push.Payload {
	data := make(map[string]any, len(n.Data)+3)
	for k, v := range n.Data {
		data[k] = v
	}
	data["notificationId"] = n.ID
	data["type"] = n.Type
	data["channel"] = n.Channel

	return &push.Payload{
		Title:              n.Title,
		Body:               n.Message,
		Data:               data,
		Tag:                n.Channel,
		RequireInteraction: n.IsImportant,
	}
}
