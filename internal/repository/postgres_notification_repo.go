package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"
	"github.com/mvitabar/comandero/internal/model"
)

// PostgresNotificationRepo はPostgreSQLを使用した通知リポジトリ。
type PostgresNotificationRepo struct {
	db *sql.DB
}

// NewPostgresNotificationRepo はPostgresNotificationRepoを生成する。
func NewPostgresNotificationRepo(db *sql.DB) *PostgresNotificationRepo {
	return &PostgresNotificationRepo{db: db}
}

// notificationColumns はSELECT句で使用するカラムリスト。
const notificationColumns = `id, tenant_id, recipient_id, type, title, message, data, channel, is_important, is_read, created_at, read_at`

// Create は通知を1件作成する。
func (r *PostgresNotificationRepo) Create(ctx context.Context, n *model.Notification) error {
	data, err := marshalData(n.Data)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx,
		`INSERT INTO notifications (id, tenant_id, recipient_id, type, title, message, data, channel, is_important, is_read, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		n.ID, n.TenantID, n.RecipientID, n.Type, n.Title, n.Message, data, n.Channel, n.IsImportant, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create notification: %w", err)
	}
	return nil
}

// CreateBatch は複数の通知を同一トランザクションで作成する。
func (r *PostgresNotificationRepo) CreateBatch(ctx context.Context, ns []*model.Notification) error {
	if len(ns) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, n := range ns {
		data, err := marshalData(n.Data)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO notifications (id, tenant_id, recipient_id, type, title, message, data, channel, is_important, is_read, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			n.ID, n.TenantID, n.RecipientID, n.Type, n.Title, n.Message, data, n.Channel, n.IsImportant, n.IsRead, n.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to create notification %s: %w", n.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit notifications: %w", err)
	}
	return nil
}

// ListByRecipient はユーザー宛て通知の一覧と総件数を返す。
// ユーザー宛ての通知と、同一テナントのブロードキャスト通知の両方を含む。
func (r *PostgresNotificationRepo) ListByRecipient(ctx context.Context, tenantID, userID string, filter NotificationFilter) ([]*model.Notification, int, error) {
	conds := []string{"tenant_id = $1", "(recipient_id = $2 OR recipient_id IS NULL)"}
	args := []any{tenantID, userID}

	if filter.IsRead != nil {
		args = append(args, *filter.IsRead)
		conds = append(conds, "is_read = $"+strconv.Itoa(len(args)))
	}
	if filter.Type != "" {
		args = append(args, filter.Type)
		conds = append(conds, "type = $"+strconv.Itoa(len(args)))
	}
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, "channel = $"+strconv.Itoa(len(args)))
	}

	where := strings.Join(conds, " AND ")

	var total int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE `+where, args...,
	).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count notifications: %w", err)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	args = append(args, limit, (page-1)*limit)

	query := fmt.Sprintf(
		`SELECT %s FROM notifications WHERE %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		notificationColumns, where, len(args)-1, len(args),
	)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}
	defer rows.Close()

	notifications, err := scanNotifications(rows)
	if err != nil {
		return nil, 0, err
	}
	return notifications, total, nil
}

// MarkRead は指定IDの通知を既読にし、更新された通知を返す。
// 既に既読の通知、対象ユーザー宛てでない通知は変更されない。
func (r *PostgresNotificationRepo) MarkRead(ctx context.Context, tenantID, userID string, ids []string) ([]*model.Notification, error) {
	rows, err := r.db.QueryContext(ctx,
		`UPDATE notifications
		 SET is_read = TRUE, read_at = now()
		 WHERE tenant_id = $1
		   AND (recipient_id = $2 OR recipient_id IS NULL)
		   AND id = ANY($3)
		   AND NOT is_read
		 RETURNING `+notificationColumns,
		tenantID, userID, pq.Array(ids),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to mark notifications read: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// MarkAllRead はユーザー宛ての未読通知をすべて既読にする。
func (r *PostgresNotificationRepo) MarkAllRead(ctx context.Context, tenantID, userID, channel, ntype string) ([]*model.Notification, error) {
	conds := []string{"tenant_id = $1", "(recipient_id = $2 OR recipient_id IS NULL)", "NOT is_read"}
	args := []any{tenantID, userID}

	if channel != "" {
		args = append(args, channel)
		conds = append(conds, "channel = $"+strconv.Itoa(len(args)))
	}
	if ntype != "" {
		args = append(args, ntype)
		conds = append(conds, "type = $"+strconv.Itoa(len(args)))
	}

	query := `UPDATE notifications SET is_read = TRUE, read_at = now() WHERE ` +
		strings.Join(conds, " AND ") + ` RETURNING ` + notificationColumns

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to mark all notifications read: %w", err)
	}
	defer rows.Close()

	return scanNotifications(rows)
}

// CountUnread はユーザー宛ての未読件数を返す。
func (r *PostgresNotificationRepo) CountUnread(ctx context.Context, tenantID, userID, channel, ntype string) (int, error) {
	conds := []string{"tenant_id = $1", "(recipient_id = $2 OR recipient_id IS NULL)", "NOT is_read"}
	args := []any{tenantID, userID}

	if channel != "" {
		args = append(args, channel)
		conds = append(conds, "channel = $"+strconv.Itoa(len(args)))
	}
	if ntype != "" {
		args = append(args, ntype)
		conds = append(conds, "type = $"+strconv.Itoa(len(args)))
	}

	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE `+strings.Join(conds, " AND "),
		args...,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// marshalData は構造化ペイロードをJSONBカラム用にシリアライズする。
// nilマップは空オブジェクトとして保存する。
func marshalData(data map[string]any) ([]byte, error) {
	if data == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal notification data: %w", err)
	}
	return b, nil
}

// scanNotifications は検索結果の行を走査してNotificationスライスを構築する。
func scanNotifications(rows *sql.Rows) ([]*model.Notification, error) {
	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var data []byte
		var recipientID sql.NullString
		var readAt sql.NullTime

		err := rows.Scan(
			&n.ID, &n.TenantID, &recipientID, &n.Type, &n.Title, &n.Message,
			&data, &n.Channel, &n.IsImportant, &n.IsRead, &n.CreatedAt, &readAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification: %w", err)
		}

		if recipientID.Valid {
			n.RecipientID = &recipientID.String
		}
		if readAt.Valid {
			t := readAt.Time
			n.ReadAt = &t
		}
		if len(data) > 0 {
			if err := json.Unmarshal(data, &n.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal notification data: %w", err)
			}
		}

		notifications = append(notifications, n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate notifications: %w", err)
	}
	return notifications, nil
}

// compile-time interface check
var _ NotificationRepository = (*PostgresNotificationRepo)(nil)
