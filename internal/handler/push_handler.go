package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mvitabar/comandero/internal/middleware"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/push"
)

// PushServiceInterface はPush購読ハンドラーが必要とするサービスインターフェース。
type PushServiceInterface interface {
	// Register はPush購読を登録する。(user, endpoint) キーで冪等。
	Register(ctx context.Context, identity *model.Identity, input push.RegisterInput) (*model.PushSubscription, error)
	// Unregister はPush購読を解除する。存在しない購読の解除も成功扱い。
	Unregister(ctx context.Context, identity *model.Identity, endpoint string) error
}

// PushHandler はPush購読APIのHTTPハンドラー。
type PushHandler struct {
	service PushServiceInterface
}

// NewPushHandler はPushHandlerを生成する。
func NewPushHandler(service PushServiceInterface) *PushHandler {
	return &PushHandler{service: service}
}

// registerPushRequest はPush購読登録リクエストのボディ。
// ブラウザのPushManager.subscribe()が返すPushSubscriptionの形式に合わせる。
type registerPushRequest struct {
	Endpoint string `json:"endpoint"`
	Keys     struct {
		P256dh string `json:"p256dh"`
		Auth   string `json:"auth"`
	} `json:"keys"`
	DeviceInfo struct {
		UserAgent  string `json:"user_agent"`
		Platform   string `json:"platform"`
		AppVersion string `json:"app_version"`
	} `json:"device_info"`
}

// unregisterPushRequest はPush購読解除リクエストのボディ。
type unregisterPushRequest struct {
	Endpoint string `json:"endpoint"`
}

// registerPushResponse はPush購読登録のAPIレスポンス。
type registerPushResponse struct {
	Success  bool   `json:"success"`
	ID       string `json:"id"`
	Endpoint string `json:"endpoint"`
}

// RegisterSubscription はPush購読の登録を処理する。
// POST /push/register
func (h *PushHandler) RegisterSubscription(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req registerPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeMissingField,
			Message:  "invalid request body",
			Category: "validation",
		})
		return
	}

	sub, err := h.service.Register(r.Context(), identity, push.RegisterInput{
		Endpoint:   req.Endpoint,
		P256dh:     req.Keys.P256dh,
		Auth:       req.Keys.Auth,
		UserAgent:  req.DeviceInfo.UserAgent,
		Platform:   req.DeviceInfo.Platform,
		AppVersion: req.DeviceInfo.AppVersion,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(registerPushResponse{
		Success:  true,
		ID:       sub.ID,
		Endpoint: sub.Endpoint,
	})
}

// UnregisterSubscription はPush購読の解除を処理する。
// DELETE /push/register
//
// 該当する購読が存在しない場合も204を返す（冪等）。
func (h *PushHandler) UnregisterSubscription(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req unregisterPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeMissingField,
			Message:  "invalid request body",
			Category: "validation",
		})
		return
	}

	if err := h.service.Unregister(r.Context(), identity, req.Endpoint); err != nil {
		handleServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
