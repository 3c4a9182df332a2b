package push

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/mvitabar/comandero/internal/model"
)

// --- モック定義 ---

// mockSubRepo はPushSubscriptionRepositoryのモック実装。
type mockSubRepo struct {
	mu            sync.Mutex
	subs          []*model.PushSubscription
	listErr       error
	deactivatedID []string
}

func (m *mockSubRepo) Upsert(ctx context.Context, sub *model.PushSubscription) (*model.PushSubscription, error) {
	return sub, nil
}

func (m *mockSubRepo) DeleteByUserAndEndpoint(ctx context.Context, userID, endpoint string) error {
	return nil
}

func (m *mockSubRepo) ListActiveByUserIDs(ctx context.Context, userIDs []string) ([]*model.PushSubscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.PushSubscription
	for _, sub := range m.subs {
		for _, id := range userIDs {
			if sub.UserID == id {
				out = append(out, sub)
			}
		}
	}
	return out, nil
}

func (m *mockSubRepo) ListActiveByTenant(ctx context.Context, tenantID string) ([]*model.PushSubscription, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []*model.PushSubscription
	for _, sub := range m.subs {
		if sub.TenantID == tenantID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *mockSubRepo) Deactivate(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deactivatedID = append(m.deactivatedID, id)
	return nil
}

// mockUserDirectory はUserDirectoryRepositoryのモック実装。
type mockUserDirectory struct {
	roleUsers map[string][]string
	listErr   error
}

func (m *mockUserDirectory) ListUserIDsByRole(ctx context.Context, tenantID, role string) ([]string, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	return m.roleUsers[role], nil
}

func (m *mockUserDirectory) ListUserIDsByTenant(ctx context.Context, tenantID string) ([]string, error) {
	return nil, nil
}

// mockSender はSenderのモック実装。sendFnで購読ごとの結果を制御する。
type mockSender struct {
	mu     sync.Mutex
	sent   []string // 送信された購読ID
	sendFn func(sub *model.PushSubscription) error
}

func (m *mockSender) Send(ctx context.Context, sub *model.PushSubscription, payload *Payload) error {
	m.mu.Lock()
	m.sent = append(m.sent, sub.ID)
	m.mu.Unlock()
	if m.sendFn != nil {
		return m.sendFn(sub)
	}
	return nil
}

// nopMetrics はテスト用のメトリクス収集の空実装。
type nopMetrics struct{}

func (nopMetrics) SessionOpened()                       {}
func (nopMetrics) SessionClosed()                       {}
func (nopMetrics) RecordAuthFailure()                   {}
func (nopMetrics) RecordRealtimeDelivery(int)           {}
func (nopMetrics) RecordPushDelivery(bool)              {}
func (nopMetrics) RecordPushLatency(time.Duration)      {}
func (nopMetrics) RecordHTTPStatus(int)                 {}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(&bytes.Buffer{}, nil))
}

func testSub(id, userID string) *model.PushSubscription {
	return &model.PushSubscription{
		ID:       id,
		UserID:   userID,
		TenantID: "tenant-1",
		Endpoint: "https://push.example.com/" + id,
		P256dh:   "p256dh-" + id,
		Auth:     "auth-" + id,
		Active:   true,
	}
}

// --- テスト ---

func TestSendToSubscriptions_AllSucceed(t *testing.T) {
	subRepo := &mockSubRepo{}
	sender := &mockSender{}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 4)

	subs := []*model.PushSubscription{testSub("s1", "u1"), testSub("s2", "u1"), testSub("s3", "u2")}
	results := c.SendToSubscriptions(context.Background(), subs, &Payload{Title: "t", Body: "b"})

	if len(results) != 3 {
		t.Fatalf("results length = %d, want 3", len(results))
	}
	for _, r := range results {
		if !r.OK {
			t.Errorf("subscription %s: OK = false, want true (err: %v)", r.Subscription.ID, r.Err)
		}
	}
}

// N件中ちょうどK件が失敗した場合、結果はN件でそのうちK件が失敗として記録される
func TestSendToSubscriptions_PartialFailure(t *testing.T) {
	subRepo := &mockSubRepo{}
	sender := &mockSender{
		sendFn: func(sub *model.PushSubscription) error {
			if sub.ID == "s2" || sub.ID == "s4" {
				return errors.New("network error")
			}
			return nil
		},
	}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 2)

	var subs []*model.PushSubscription
	for i := 1; i <= 5; i++ {
		subs = append(subs, testSub(fmt.Sprintf("s%d", i), "u1"))
	}

	results := c.SendToSubscriptions(context.Background(), subs, &Payload{Title: "t"})

	if len(results) != 5 {
		t.Fatalf("results length = %d, want 5", len(results))
	}

	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
			if r.Err == nil {
				t.Errorf("subscription %s: failed result must carry the error", r.Subscription.ID)
			}
		}
	}
	if failed != 2 {
		t.Errorf("failed count = %d, want 2", failed)
	}
}

func TestSendToSubscriptions_GoneEndpointDeactivated(t *testing.T) {
	subRepo := &mockSubRepo{}
	sender := &mockSender{
		sendFn: func(sub *model.PushSubscription) error {
			if sub.ID == "s1" {
				return fmt.Errorf("%w: status 410", ErrEndpointGone)
			}
			return nil
		},
	}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 4)

	subs := []*model.PushSubscription{testSub("s1", "u1"), testSub("s2", "u1")}
	c.SendToSubscriptions(context.Background(), subs, &Payload{Title: "t"})

	subRepo.mu.Lock()
	defer subRepo.mu.Unlock()
	if len(subRepo.deactivatedID) != 1 || subRepo.deactivatedID[0] != "s1" {
		t.Errorf("deactivated = %v, want [s1]", subRepo.deactivatedID)
	}
}

func TestSendToSubscriptions_EmptyInput(t *testing.T) {
	c := NewCoordinator(&mockSubRepo{}, &mockUserDirectory{}, &mockSender{}, nopMetrics{}, testLogger(), 4)

	results := c.SendToSubscriptions(context.Background(), nil, &Payload{Title: "t"})
	if len(results) != 0 {
		t.Errorf("results = %v, want empty", results)
	}
}

// 購読解決クエリの失敗は致命的: 空の結果を返す（部分的な結果は返さない）
func TestSendToUsers_ResolutionFailure(t *testing.T) {
	subRepo := &mockSubRepo{listErr: errors.New("db down")}
	sender := &mockSender{}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 4)

	results := c.SendToUsers(context.Background(), []string{"u1"}, &Payload{Title: "t"})

	if len(results) != 0 {
		t.Errorf("results length = %d, want 0 on resolution failure", len(results))
	}
	if len(sender.sent) != 0 {
		t.Errorf("no delivery attempts expected, got %v", sender.sent)
	}
}

func TestSendToUser_DeliversToAllUserSubscriptions(t *testing.T) {
	subRepo := &mockSubRepo{
		subs: []*model.PushSubscription{testSub("s1", "u1"), testSub("s2", "u1"), testSub("s3", "u2")},
	}
	sender := &mockSender{}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 4)

	results := c.SendToUser(context.Background(), "u1", &Payload{Title: "t"})

	if len(results) != 2 {
		t.Errorf("results length = %d, want 2 (only u1's subscriptions)", len(results))
	}
}

func TestSendToRole_NoUsersIsNotAnError(t *testing.T) {
	sender := &mockSender{}
	c := NewCoordinator(&mockSubRepo{}, &mockUserDirectory{roleUsers: map[string][]string{}}, sender, nopMetrics{}, testLogger(), 4)

	results := c.SendToRole(context.Background(), "tenant-1", "kitchen", &Payload{Title: "t"})

	if len(results) != 0 {
		t.Errorf("results length = %d, want 0", len(results))
	}
	if len(sender.sent) != 0 {
		t.Errorf("no delivery attempts expected, got %v", sender.sent)
	}
}

func TestSendToRole_ResolvesRoleMembers(t *testing.T) {
	subRepo := &mockSubRepo{
		subs: []*model.PushSubscription{testSub("s1", "cook-1"), testSub("s2", "waiter-1")},
	}
	userDir := &mockUserDirectory{roleUsers: map[string][]string{"kitchen": {"cook-1"}}}
	sender := &mockSender{}
	c := NewCoordinator(subRepo, userDir, sender, nopMetrics{}, testLogger(), 4)

	results := c.SendToRole(context.Background(), "tenant-1", "kitchen", &Payload{Title: "t"})

	if len(results) != 1 || results[0].Subscription.ID != "s1" {
		t.Errorf("results = %v, want single delivery to s1", results)
	}
}

func TestBroadcast_DeliversToTenantSubscriptions(t *testing.T) {
	other := testSub("s3", "u9")
	other.TenantID = "tenant-2"
	subRepo := &mockSubRepo{
		subs: []*model.PushSubscription{testSub("s1", "u1"), testSub("s2", "u2"), other},
	}
	sender := &mockSender{}
	c := NewCoordinator(subRepo, &mockUserDirectory{}, sender, nopMetrics{}, testLogger(), 4)

	results := c.Broadcast(context.Background(), "tenant-1", &Payload{Title: "t"})

	if len(results) != 2 {
		t.Errorf("results length = %d, want 2 (tenant-1 only)", len(results))
	}
}
