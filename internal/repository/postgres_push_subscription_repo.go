package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/mvitabar/comandero/internal/model"
)

// PostgresPushSubscriptionRepo はPostgreSQLを使用したPush購読リポジトリ。
type PostgresPushSubscriptionRepo struct {
	db *sql.DB
}

// NewPostgresPushSubscriptionRepo はPostgresPushSubscriptionRepoを生成する。
func NewPostgresPushSubscriptionRepo(db *sql.DB) *PostgresPushSubscriptionRepo {
	return &PostgresPushSubscriptionRepo{db: db}
}

const pushSubscriptionColumns = `id, user_id, tenant_id, endpoint, p256dh, auth, user_agent, platform, app_version, active, last_active_at, created_at, updated_at`

// Upsert は購読を(user_id, endpoint)キーで冪等に作成・更新する。
// 同一エンドポイントの再登録では鍵素材とデバイス情報のみ更新し、IDは維持される。
func (r *PostgresPushSubscriptionRepo) Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	row := r.db.QueryRowContext(ctx,
		`INSERT INTO push_subscriptions
		   (id, user_id, tenant_id, endpoint, p256dh, auth, user_agent, platform, app_version, active, last_active_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, TRUE, now(), now(), now())
		 ON CONFLICT (user_id, endpoint) DO UPDATE SET
		   p256dh = EXCLUDED.p256dh,
		   auth = EXCLUDED.auth,
		   user_agent = EXCLUDED.user_agent,
		   platform = EXCLUDED.platform,
		   app_version = EXCLUDED.app_version,
		   active = TRUE,
		   last_active_at = now(),
		   updated_at = now()
		 RETURNING `+pushSubscriptionColumns,
		sub.ID, sub.UserID, sub.TenantID, sub.Endpoint, sub.P256dh, sub.Auth,
		sub.UserAgent, sub.Platform, sub.AppVersion,
	)

	saved, err := scanPushSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert push subscription: %w", err)
	}
	return saved, nil
}

// DeleteByUserAndEndpoint は購読を削除する。該当レコードがなくてもエラーにしない。
func (r *PostgresPushSubscriptionRepo) DeleteByUserAndEndpoint(ctx context.Context, userID, endpoint string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM push_subscriptions WHERE user_id = $1 AND endpoint = $2`,
		userID, endpoint,
	)
	if err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}
	return nil
}

// ListActiveByUserIDs は指定ユーザー群のactiveな購読をすべて返す。
func (r *PostgresPushSubscriptionRepo) ListActiveByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pushSubscriptionColumns+`
		 FROM push_subscriptions
		 WHERE user_id = ANY($1) AND active`,
		pq.Array(userIDs),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions by users: %w", err)
	}
	defer rows.Close()

	return scanPushSubscriptions(rows)
}

// ListActiveByTenant はテナント内のactiveな購読をすべて返す。
func (r *PostgresPushSubscriptionRepo) ListActiveByTenant(ctx context.Context, tenantID string) ([]*model.PushSubscription, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+pushSubscriptionColumns+`
		 FROM push_subscriptions
		 WHERE tenant_id = $1 AND active`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list push subscriptions by tenant: %w", err)
	}
	defer rows.Close()

	return scanPushSubscriptions(rows)
}

// Deactivate は購読を無効化する。
func (r *PostgresPushSubscriptionRepo) Deactivate(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE push_subscriptions SET active = FALSE, updated_at = now() WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to deactivate push subscription: %w", err)
	}
	return nil
}

// rowScanner は*sql.Rowと*sql.Rowsの共通走査インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanPushSubscription(row rowScanner) (*model.PushSubscription, error) {
	sub := &model.PushSubscription{}
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.TenantID, &sub.Endpoint, &sub.P256dh, &sub.Auth,
		&sub.UserAgent, &sub.Platform, &sub.AppVersion,
		&sub.Active, &sub.LastActiveAt, &sub.CreatedAt, &sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func scanPushSubscriptions(rows *sql.Rows) ([]*model.PushSubscription, error) {
	var subs []*model.PushSubscription
	for rows.Next() {
		sub, err := scanPushSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan push subscription: %w", err)
		}
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate push subscriptions: %w", err)
	}
	return subs, nil
}

// compile-time interface check
var _ PushSubscriptionRepository = (*PostgresPushSubscriptionRepo)(nil)
