// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// HTTPレスポンスには error（メッセージ）と code のみを公開し、
// 詳細はサーバー側ログにのみ記録する。
type APIError struct {
	Code     string // エラーコード
	Message  string // ユーザー向けメッセージ
	Category string // カテゴリ: auth, validation, resolution, delivery, upstream
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized    = "UNAUTHORIZED"
	ErrCodeInvalidToken    = "INVALID_TOKEN"
	ErrCodeMissingField    = "MISSING_FIELD"
	ErrCodeInvalidEndpoint = "INVALID_ENDPOINT"
	ErrCodeRoleNotFound    = "ROLE_NOT_FOUND"
	ErrCodeInternal        = "INTERNAL_ERROR"
)

// NewUnauthorizedError は認証エラーを生成する。
// トークン欠落・無効・期限切れのすべてで同一のレスポンスを返す。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "authentication required",
		Category: "auth",
	}
}

// NewMissingFieldError は必須フィールド欠落エラーを生成する。
func NewMissingFieldError(field string) *APIError {
	return &APIError{
		Code:     ErrCodeMissingField,
		Message:  fmt.Sprintf("missing required field: %s", field),
		Category: "validation",
	}
}

// NewInvalidEndpointError は購読エンドポイントURLが検証に失敗した場合のエラーを生成する。
func NewInvalidEndpointError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEndpoint,
		Message:  fmt.Sprintf("invalid push endpoint: %s", reason),
		Category: "validation",
	}
}

// NewRoleNotFoundError は指定ロールに該当ユーザーが存在しない場合のエラーを生成する。
func NewRoleNotFoundError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeRoleNotFound,
		Message:  fmt.Sprintf("no users found for role: %s", role),
		Category: "resolution",
	}
}
