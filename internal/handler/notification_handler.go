// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/mvitabar/comandero/internal/middleware"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/notification"
	"github.com/mvitabar/comandero/internal/repository"
)

// デフォルトのページング設定
const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// NotificationServiceInterface は通知ハンドラーが必要とするサービスインターフェース。
type NotificationServiceInterface interface {
	// Create は通知を作成し、永続化後に配信を起動する。
	Create(ctx context.Context, identity *model.Identity, input notification.CreateInput) ([]*model.Notification, error)
	// List はユーザー宛ての通知一覧と総件数を返す。
	List(ctx context.Context, identity *model.Identity, filter repository.NotificationFilter, markAsRead bool) ([]*model.Notification, int, error)
	// MarkRead は通知を既読化する。
	MarkRead(ctx context.Context, identity *model.Identity, input notification.MarkReadInput) ([]*model.Notification, error)
	// UnreadCount は未読件数を返す。
	UnreadCount(ctx context.Context, identity *model.Identity, channel, ntype string) (int, error)
}

// NotificationHandler は通知APIのHTTPハンドラー。
type NotificationHandler struct {
	service NotificationServiceInterface
}

// NewNotificationHandler はNotificationHandlerを生成する。
func NewNotificationHandler(service NotificationServiceInterface) *NotificationHandler {
	return &NotificationHandler{service: service}
}

// createNotificationRequest は通知作成リクエストのボディ。
type createNotificationRequest struct {
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data"`
	Channel     string         `json:"channel"`
	UserIDs     []string       `json:"userIds"`
	Role        string         `json:"role"`
	IsImportant bool           `json:"isImportant"`
}

// markReadRequest は既読化リクエストのボディ。
type markReadRequest struct {
	NotificationIDs []string `json:"notificationIds"`
	All             bool     `json:"all"`
	Channel         string   `json:"channel"`
	Type            string   `json:"type"`
}

// notificationResponse は通知レコードのAPIレスポンス。
type notificationResponse struct {
	ID          string         `json:"id"`
	UserID      *string        `json:"userId"`
	Type        string         `json:"type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Data        map[string]any `json:"data,omitempty"`
	Channel     string         `json:"channel"`
	IsImportant bool           `json:"isImportant"`
	IsRead      bool           `json:"isRead"`
	CreatedAt   time.Time      `json:"createdAt"`
	ReadAt      *time.Time     `json:"readAt,omitempty"`
}

// paginationResponse は一覧レスポンスのページング情報。
type paginationResponse struct {
	Total      int `json:"total"`
	Page       int `json:"page"`
	PageSize   int `json:"pageSize"`
	TotalPages int `json:"totalPages"`
}

// listNotificationsResponse は通知一覧のAPIレスポンス。
type listNotificationsResponse struct {
	Data       []notificationResponse `json:"data"`
	Pagination paginationResponse     `json:"pagination"`
}

// markReadResponse は既読化のAPIレスポンス。
type markReadResponse struct {
	Success       bool                   `json:"success"`
	Count         int                    `json:"count"`
	Notifications []notificationResponse `json:"notifications"`
}

// unreadCountResponse は未読件数のAPIレスポンス。
type unreadCountResponse struct {
	Count   int    `json:"count"`
	Channel string `json:"channel,omitempty"`
	Type    string `json:"type,omitempty"`
}

// CreateNotification は通知の作成を処理する。
// POST /notifications
//
// userIdsまたはroleのどちらか一方で配信対象を指定する。
// どちらも指定しない場合はテナント全体へのブロードキャストになる。
func (h *NotificationHandler) CreateNotification(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req createNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeMissingField,
			Message:  "invalid request body",
			Category: "validation",
		})
		return
	}

	created, err := h.service.Create(r.Context(), identity, notification.CreateInput{
		Type:        req.Type,
		Title:       req.Title,
		Message:     req.Message,
		Data:        req.Data,
		Channel:     req.Channel,
		UserIDs:     req.UserIDs,
		Role:        req.Role,
		IsImportant: req.IsImportant,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(toNotificationResponses(created))
}

// ListNotifications は通知一覧の取得を処理する。
// GET /notifications?isRead=&type=&channel=&limit=&page=&markAsRead=
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	query := r.URL.Query()

	filter := repository.NotificationFilter{
		Type:    query.Get("type"),
		Channel: query.Get("channel"),
		Limit:   defaultPageSize,
		Page:    1,
	}
	if v := query.Get("isRead"); v != "" {
		isRead, err := strconv.ParseBool(v)
		if err == nil {
			filter.IsRead = &isRead
		}
	}
	if v := query.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 {
			if limit > maxPageSize {
				limit = maxPageSize
			}
			filter.Limit = limit
		}
	}
	if v := query.Get("page"); v != "" {
		if page, err := strconv.Atoi(v); err == nil && page > 0 {
			filter.Page = page
		}
	}
	markAsRead, _ := strconv.ParseBool(query.Get("markAsRead"))

	notifications, total, err := h.service.List(r.Context(), identity, filter, markAsRead)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	totalPages := total / filter.Limit
	if total%filter.Limit != 0 {
		totalPages++
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(listNotificationsResponse{
		Data: toNotificationResponses(notifications),
		Pagination: paginationResponse{
			Total:      total,
			Page:       filter.Page,
			PageSize:   filter.Limit,
			TotalPages: totalPages,
		},
	})
}

// MarkRead は通知の既読化を処理する。
// POST /notifications/read
func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	var req markReadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     model.ErrCodeMissingField,
			Message:  "invalid request body",
			Category: "validation",
		})
		return
	}

	updated, err := h.service.MarkRead(r.Context(), identity, notification.MarkReadInput{
		IDs:     req.NotificationIDs,
		All:     req.All,
		Channel: req.Channel,
		Type:    req.Type,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(markReadResponse{
		Success:       true,
		Count:         len(updated),
		Notifications: toNotificationResponses(updated),
	})
}

// UnreadCount は未読件数の取得を処理する。
// GET /notifications/unread-count?channel=&type=
func (h *NotificationHandler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	identity, err := middleware.IdentityFromContext(r.Context())
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	channel := r.URL.Query().Get("channel")
	ntype := r.URL.Query().Get("type")

	count, err := h.service.UnreadCount(r.Context(), identity, channel, ntype)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(unreadCountResponse{
		Count:   count,
		Channel: channel,
		Type:    ntype,
	})
}

// toNotificationResponse は通知レコードをAPIレスポンス形式に変換する。
func toNotificationResponse(n *model.Notification) notificationResponse {
	return notificationResponse{
		ID:          n.ID,
		UserID:      n.RecipientID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		Data:        n.Data,
		Channel:     n.Channel,
		IsImportant: n.IsImportant,
		IsRead:      n.IsRead,
		CreatedAt:   n.CreatedAt,
		ReadAt:      n.ReadAt,
	}
}

// toNotificationResponses は通知レコードのスライスを変換する。
// nilではなく空スライスを返し、JSONでnullにならないようにする。
func toNotificationResponses(ns []*model.Notification) []notificationResponse {
	out := make([]notificationResponse, 0, len(ns))
	for _, n := range ns {
		out = append(out, toNotificationResponse(n))
	}
	return out
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeMissingField, model.ErrCodeInvalidEndpoint:
		return http.StatusBadRequest
	case model.ErrCodeRoleNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
