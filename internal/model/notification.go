// Package model はドメインモデルを定義する。
package model

import "time"

// DefaultChannel はチャネル未指定時の論理グループ名。
const DefaultChannel = "general"

// Notification は店舗内ユーザーへの通知を表す。
// RecipientIDがnilの場合はテナント（店舗）全体へのブロードキャストを意味する。
type Notification struct {
	ID          string
	TenantID    string
	RecipientID *string // nil = ブロードキャスト
	Type        string  // 自由形式のカテゴリ文字列（"order", "inventory" 等）
	Title       string
	Message     string
	Data        map[string]any // 任意の構造化ペイロード
	Channel     string         // 論理グループ。デフォルトは "general"
	IsImportant bool
	IsRead      bool
	CreatedAt   time.Time
	ReadAt      *time.Time
}

// PushSubscription はWeb Push配信先のデバイス購読を表す。
// (UserID, Endpoint) の組は一意であり、同一エンドポイントの再登録は
// 鍵素材とデバイス情報を更新する（重複レコードを作らない）。
type PushSubscription struct {
	ID           string
	UserID       string
	TenantID     string
	Endpoint     string
	P256dh       string // 暗号化配信用の公開鍵
	Auth         string // 暗号化配信用の認証シークレット
	UserAgent    string
	Platform     string
	AppVersion   string
	Active       bool
	LastActiveAt time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Identity は認証プロバイダーが検証したユーザーの同一性を表す。
// トークン検証オラクルの戻り値としてのみ生成される。
type Identity struct {
	UserID   string
	TenantID string
	Role     string
	Email    string
}
