// Package auth は外部認証プロバイダーに対するトークン検証を提供する。
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mvitabar/comandero/internal/model"
)

// ErrInvalidToken はトークンが無効または期限切れであることを示す。
// プロバイダー自体の障害（UpstreamError）とは区別される。
var ErrInvalidToken = errors.New("invalid or expired token")

// Verifier はトークン検証オラクルのインターフェース。
// 成功時は検証済みのユーザー同一性を返す。
type Verifier interface {
	// Verify はベアラートークンを検証し、ユーザー同一性を返す。
	// トークンが無効な場合はErrInvalidTokenを、
	// プロバイダーへの到達失敗などはそれ以外のエラーを返す。
	Verify(ctx context.Context, token string) (*model.Identity, error)
}

// HTTPVerifierConfig はHTTPVerifierの設定。
type HTTPVerifierConfig struct {
	BaseURL string // 認証プロバイダーのベースURL
	APIKey  string // プロバイダーのAPIキー（任意）

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// HTTPVerifier はホスト型認証プロバイダーのユーザー情報エンドポイントを
// 呼び出してトークンを検証する実装。
type HTTPVerifier struct {
	config HTTPVerifierConfig
	client *http.Client
}

// NewHTTPVerifier はHTTPVerifierを生成する。
func NewHTTPVerifier(config HTTPVerifierConfig) *HTTPVerifier {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPVerifier{config: config, client: client}
}

// userInfoResponse はプロバイダーのユーザー情報エンドポイントのレスポンス。
type userInfoResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	AppMetadata struct {
		TenantID string `json:"tenant_id"`
		Role     string `json:"role"`
	} `json:"app_metadata"`
}

// Verify はベアラートークンでプロバイダーのユーザー情報を取得する。
func (v *HTTPVerifier) Verify(ctx context.Context, token string) (*model.Identity, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.config.BaseURL+"/auth/v1/user", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create verify request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if v.config.APIKey != "" {
		req.Header.Set("apikey", v.config.APIKey)
	}

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fallthrough to decode
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, ErrInvalidToken
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("auth provider returned status %d: %s", resp.StatusCode, body)
	}

	var info userInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("auth provider returned user info without id")
	}

	return &model.Identity{
		UserID:   info.ID,
		TenantID: info.AppMetadata.TenantID,
		Role:     info.AppMetadata.Role,
		Email:    info.Email,
	}, nil
}

// compile-time interface check
var _ Verifier = (*HTTPVerifier)(nil)
