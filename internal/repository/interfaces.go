// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"

	"github.com/mvitabar/comandero/internal/model"
)

// NotificationFilter は通知一覧取得の絞り込み条件。
// ゼロ値のフィールドは条件に含めない。
type NotificationFilter struct {
	IsRead  *bool
	Type    string
	Channel string
	Limit   int
	Page    int // 1始まり
}

// NotificationRepository は通知データの永続化インターフェース。
// 一覧系の操作は対象ユーザー宛ての通知と、同一テナントの
// ブロードキャスト通知（recipient_id IS NULL）の両方を対象とする。
type NotificationRepository interface {
	// Create は通知を1件作成する。
	Create(ctx context.Context, n *model.Notification) error

	// CreateBatch は複数の通知を同一トランザクションで作成する。
	// 1件でも失敗した場合は全件ロールバックされる。
	CreateBatch(ctx context.Context, ns []*model.Notification) error

	// ListByRecipient はユーザー宛て通知の一覧と総件数を返す。
	// created_at降順で、filterのLimit/Pageに従ってページングする。
	ListByRecipient(ctx context.Context, tenantID, userID string, filter NotificationFilter) ([]*model.Notification, int, error)

	// MarkRead は指定IDの通知を既読にし、更新された通知を返す。
	// 既読状態は false→true の一方向にのみ遷移する（既読の通知は変更されない）。
	// 対象ユーザー宛てでない通知IDは黙って無視される。
	MarkRead(ctx context.Context, tenantID, userID string, ids []string) ([]*model.Notification, error)

	// MarkAllRead はユーザー宛ての未読通知をすべて既読にする。
	// channel、ntypeが空でない場合は該当するものだけを対象とする。
	MarkAllRead(ctx context.Context, tenantID, userID, channel, ntype string) ([]*model.Notification, error)

	// CountUnread はユーザー宛ての未読件数を返す。
	// channel、ntypeが空でない場合は該当するものだけを数える。
	CountUnread(ctx context.Context, tenantID, userID, channel, ntype string) (int, error)
}

// PushSubscriptionRepository はPush購読データの永続化インターフェース。
type PushSubscriptionRepository interface {
	// Upsert は購読を(user_id, endpoint)キーで冪等に作成・更新する。
	// 既存レコードがある場合は鍵素材とデバイス情報を更新し、activeに戻す。
	// 確定後のレコードを返す。
	Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error)

	// DeleteByUserAndEndpoint は購読を削除する。
	// 該当レコードが存在しない場合もエラーにしない（冪等）。
	DeleteByUserAndEndpoint(ctx context.Context, userID, endpoint string) error

	// ListActiveByUserIDs は指定ユーザー群のactiveな購読をすべて返す。
	ListActiveByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error)

	// ListActiveByTenant はテナント内のactiveな購読をすべて返す。
	// ブロードキャスト配信で使用する。
	ListActiveByTenant(ctx context.Context, tenantID string) ([]*model.PushSubscription, error)

	// Deactivate は購読を無効化する。
	// Pushサービスがエンドポイント失効（404/410）を返した場合に呼ばれる。
	Deactivate(ctx context.Context, id string) error
}

// UserDirectoryRepository はテナント・ロール解決のためのユーザーディレクトリ。
// 認証情報は外部プロバイダーが保持するため、ここでは参照のみを行う。
type UserDirectoryRepository interface {
	// ListUserIDsByRole はテナント内で指定ロールを持つユーザーIDを返す。
	// 該当ユーザーがいない場合は空スライスを返す（エラーにしない）。
	ListUserIDsByRole(ctx context.Context, tenantID, role string) ([]string, error)

	// ListUserIDsByTenant はテナント内の全ユーザーIDを返す。
	ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error)
}
