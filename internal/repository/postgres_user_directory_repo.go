package repository

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresUserDirectoryRepo はPostgreSQLを使用したユーザーディレクトリ。
// 認証情報は外部プロバイダーが保持するため、テナント・ロールの参照のみを行う。
type PostgresUserDirectoryRepo struct {
	db *sql.DB
}

// NewPostgresUserDirectoryRepo はPostgresUserDirectoryRepoを生成する。
func NewPostgresUserDirectoryRepo(db *sql.DB) *PostgresUserDirectoryRepo {
	return &PostgresUserDirectoryRepo{db: db}
}

// ListUserIDsByRole はテナント内で指定ロールを持つユーザーIDを返す。
func (r *PostgresUserDirectoryRepo) ListUserIDsByRole(ctx context.Context, tenantID, role string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE tenant_id = $1 AND role = $2`,
		tenantID, role,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	return scanUserIDs(rows)
}

// ListUserIDsByTenant はテナント内の全ユーザーIDを返す。
func (r *PostgresUserDirectoryRepo) ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id FROM users WHERE tenant_id = $1`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list users by tenant: %w", err)
	}
	defer rows.Close()

	return scanUserIDs(rows)
}

func scanUserIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate user ids: %w", err)
	}
	return ids, nil
}

// compile-time interface check
var _ UserDirectoryRepository = (*PostgresUserDirectoryRepo)(nil)
