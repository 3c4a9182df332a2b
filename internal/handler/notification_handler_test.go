package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mvitabar/comandero/internal/middleware"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/notification"
	"github.com/mvitabar/comandero/internal/repository"
)

// mockNotificationService はNotificationServiceInterfaceのテスト用実装。
type mockNotificationService struct {
	createResult []*model.Notification
	createErr    error
	createInput  notification.CreateInput
	listResult   []*model.Notification
	listTotal    int
	listFilter   repository.NotificationFilter
	listMarked   bool
	markResult   []*model.Notification
	markErr      error
	unreadCount  int
}

func (m *mockNotificationService) Create(_ context.Context, _ *model.Identity, input notification.CreateInput) ([]*model.Notification, error) {
	m.createInput = input
	return m.createResult, m.createErr
}

func (m *mockNotificationService) List(_ context.Context, _ *model.Identity, filter repository.NotificationFilter, markAsRead bool) ([]*model.Notification, int, error) {
	m.listFilter = filter
	m.listMarked = markAsRead
	return m.listResult, m.listTotal, nil
}

func (m *mockNotificationService) MarkRead(_ context.Context, _ *model.Identity, input notification.MarkReadInput) ([]*model.Notification, error) {
	return m.markResult, m.markErr
}

func (m *mockNotificationService) UnreadCount(_ context.Context, _ *model.Identity, _, _ string) (int, error) {
	return m.unreadCount, nil
}

func authedContext(req *http.Request) *http.Request {
	identity := &model.Identity{UserID: "user-1", TenantID: "tenant-1", Role: "admin"}
	return req.WithContext(middleware.ContextWithIdentity(req.Context(), identity))
}

func sampleNotification(id string) *model.Notification {
	userID := "user-2"
	return &model.Notification{
		ID:          id,
		TenantID:    "tenant-1",
		RecipientID: &userID,
		Type:        "order_ready",
		Title:       "Order ready",
		Message:     "Table 5 order is ready",
		Channel:     model.DefaultChannel,
		CreatedAt:   time.Now(),
	}
}

func TestCreateNotification_Returns201WithRecords(t *testing.T) {
	service := &mockNotificationService{
		createResult: []*model.Notification{sampleNotification("n-1"), sampleNotification("n-2")},
	}
	h := NewNotificationHandler(service)

	body := `{"type":"order_ready","title":"Order ready","message":"Table 5","userIds":["user-2","user-3"]}`
	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString(body)))
	w := httptest.NewRecorder()

	h.CreateNotification(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusCreated)
	}

	var records []notificationResponse
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if len(records) != 2 {
		t.Errorf("records = %d, want 2", len(records))
	}
	if service.createInput.Type != "order_ready" {
		t.Errorf("service input type = %q, want order_ready", service.createInput.Type)
	}
	if len(service.createInput.UserIDs) != 2 {
		t.Errorf("service input userIds = %v, want 2 entries", service.createInput.UserIDs)
	}
}

func TestCreateNotification_MissingTitle_Returns400(t *testing.T) {
	service := &mockNotificationService{createErr: model.NewMissingFieldError("title")}
	h := NewNotificationHandler(service)

	body := `{"type":"order_ready","message":"Table 5"}`
	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString(body)))
	w := httptest.NewRecorder()

	h.CreateNotification(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestCreateNotification_UnknownRole_Returns404(t *testing.T) {
	service := &mockNotificationService{createErr: model.NewRoleNotFoundError("sommelier")}
	h := NewNotificationHandler(service)

	body := `{"type":"order_ready","title":"t","message":"m","role":"sommelier"}`
	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString(body)))
	w := httptest.NewRecorder()

	h.CreateNotification(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}

	var body2 middleware.ErrorResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body2); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body2.Code != model.ErrCodeRoleNotFound {
		t.Errorf("code = %q, want %q", body2.Code, model.ErrCodeRoleNotFound)
	}
}

func TestCreateNotification_Unauthenticated_Returns401(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationService{})

	req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString(`{}`))
	w := httptest.NewRecorder()

	h.CreateNotification(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

func TestCreateNotification_MalformedBody_Returns400(t *testing.T) {
	h := NewNotificationHandler(&mockNotificationService{})

	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewBufferString("not json")))
	w := httptest.NewRecorder()

	h.CreateNotification(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestListNotifications_DefaultsAndPagination(t *testing.T) {
	service := &mockNotificationService{
		listResult: []*model.Notification{sampleNotification("n-1")},
		listTotal:  120,
	}
	h := NewNotificationHandler(service)

	req := authedContext(httptest.NewRequest(http.MethodGet, "/notifications", nil))
	w := httptest.NewRecorder()

	h.ListNotifications(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body listNotificationsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Pagination.Total != 120 {
		t.Errorf("total = %d, want 120", body.Pagination.Total)
	}
	if body.Pagination.Page != 1 {
		t.Errorf("page = %d, want 1", body.Pagination.Page)
	}
	if body.Pagination.PageSize != defaultPageSize {
		t.Errorf("pageSize = %d, want %d", body.Pagination.PageSize, defaultPageSize)
	}
	if body.Pagination.TotalPages != 3 {
		t.Errorf("totalPages = %d, want 3", body.Pagination.TotalPages)
	}
}

func TestListNotifications_ParsesQueryParameters(t *testing.T) {
	service := &mockNotificationService{}
	h := NewNotificationHandler(service)

	url := "/notifications?isRead=false&type=order_ready&channel=kitchen&limit=10&page=3&markAsRead=true"
	req := authedContext(httptest.NewRequest(http.MethodGet, url, nil))
	w := httptest.NewRecorder()

	h.ListNotifications(w, req)

	if service.listFilter.IsRead == nil || *service.listFilter.IsRead {
		t.Errorf("isRead filter = %v, want false", service.listFilter.IsRead)
	}
	if service.listFilter.Type != "order_ready" {
		t.Errorf("type = %q, want order_ready", service.listFilter.Type)
	}
	if service.listFilter.Channel != "kitchen" {
		t.Errorf("channel = %q, want kitchen", service.listFilter.Channel)
	}
	if service.listFilter.Limit != 10 {
		t.Errorf("limit = %d, want 10", service.listFilter.Limit)
	}
	if service.listFilter.Page != 3 {
		t.Errorf("page = %d, want 3", service.listFilter.Page)
	}
	if !service.listMarked {
		t.Error("markAsRead should be passed to the service")
	}
}

func TestListNotifications_CapsLimit(t *testing.T) {
	service := &mockNotificationService{}
	h := NewNotificationHandler(service)

	req := authedContext(httptest.NewRequest(http.MethodGet, "/notifications?limit=10000", nil))
	h.ListNotifications(httptest.NewRecorder(), req)

	if service.listFilter.Limit != maxPageSize {
		t.Errorf("limit = %d, want %d", service.listFilter.Limit, maxPageSize)
	}
}

func TestMarkRead_ReturnsCountAndRecords(t *testing.T) {
	service := &mockNotificationService{
		markResult: []*model.Notification{sampleNotification("n-1"), sampleNotification("n-2")},
	}
	h := NewNotificationHandler(service)

	body := `{"notificationIds":["n-1","n-2"]}`
	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications/read", bytes.NewBufferString(body)))
	w := httptest.NewRecorder()

	h.MarkRead(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var respBody markReadResponse
	if err := json.NewDecoder(resp.Body).Decode(&respBody); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if !respBody.Success {
		t.Error("success should be true")
	}
	if respBody.Count != 2 {
		t.Errorf("count = %d, want 2", respBody.Count)
	}
}

func TestMarkRead_NeitherIDsNorAll_Returns400(t *testing.T) {
	service := &mockNotificationService{markErr: model.NewMissingFieldError("notificationIds or all")}
	h := NewNotificationHandler(service)

	req := authedContext(httptest.NewRequest(http.MethodPost, "/notifications/read", bytes.NewBufferString(`{}`)))
	w := httptest.NewRecorder()

	h.MarkRead(w, req)

	if w.Result().StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusBadRequest)
	}
}

func TestUnreadCount_EchoesFilters(t *testing.T) {
	service := &mockNotificationService{unreadCount: 4}
	h := NewNotificationHandler(service)

	req := authedContext(httptest.NewRequest(http.MethodGet, "/notifications/unread-count?channel=kitchen&type=order_ready", nil))
	w := httptest.NewRecorder()

	h.UnreadCount(w, req)

	var body unreadCountResponse
	if err := json.NewDecoder(w.Result().Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.Count != 4 {
		t.Errorf("count = %d, want 4", body.Count)
	}
	if body.Channel != "kitchen" || body.Type != "order_ready" {
		t.Errorf("filters = %q/%q, want kitchen/order_ready", body.Channel, body.Type)
	}
}
