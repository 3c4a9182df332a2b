// Package notification は通知の作成・参照とディスパッチのファサードを提供する。
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/mvitabar/comandero/internal/model"
	"github.com/mvitabar/comandero/internal/repository"
	"github.com/mvitabar/comandero/internal/security"
)

// Dispatcher は永続化済み通知の配信起動インターフェース。
// 呼び出しはブロックせず、配信の失敗は呼び出し元に伝播しない。
type Dispatcher interface {
	Dispatch(tenantID string, notifications []*model.Notification)
}

// CreateInput は通知作成のリクエスト内容。
// UserIDsとRoleはどちらか一方のみ指定できる。両方とも空の場合は
// テナント全体へのブロードキャストになる。
type CreateInput struct {
	Type        string
	Title       string
	Message     string
	Data        map[string]any
	Channel     string
	UserIDs     []string
	Role        string
	IsImportant bool
}

// MarkReadInput は既読化のリクエスト内容。
// IDsまたはAllのいずれかが必須。Allの場合はChannel/Typeで絞り込みできる。
type MarkReadInput struct {
	IDs     []string
	All     bool
	Channel string
	Type    string
}

// Service は通知のユースケースを提供する。
type Service struct {
	notifRepo  repository.NotificationRepository
	userRepo   repository.UserDirectoryRepository
	sanitizer  security.TextSanitizerService
	dispatcher Dispatcher
	logger     *slog.Logger
}

// NewService はServiceを生成する。
func NewService(
	notifRepo repository.NotificationRepository,
	userRepo repository.UserDirectoryRepository,
	sanitizer security.TextSanitizerService,
	dispatcher Dispatcher,
	logger *slog.Logger,
) *Service {
	return &Service{
		notifRepo:  notifRepo,
		userRepo:   userRepo,
		sanitizer:  sanitizer,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Create は通知を作成し、永続化の完了後に配信を起動する。
//
// 配信対象の解決順序: UserIDsが指定されていればそのまま、Roleが指定されて
// いればテナント内のロール保持者に解決する（該当ユーザーなしはエラー）。
// どちらも空の場合はrecipientを持たない1件のブロードキャスト通知になる。
// 永続化に失敗した通知は決して配信されない。
func (s *Service) Create(ctx context.Context, identity *model.Identity, input CreateInput) ([]*model.Notification, error) {
	if input.Type == "" {
		return nil, model.NewMissingFieldError("type")
	}
	if input.Title == "" {
		return nil, model.NewMissingFieldError("title")
	}
	if input.Message == "" {
		return nil, model.NewMissingFieldError("message")
	}

	channel := input.Channel
	if channel == "" {
		channel = model.DefaultChannel
	}

	title := s.sanitizer.Sanitize(input.Title)
	message := s.sanitizer.Sanitize(input.Message)

	recipients := input.UserIDs
	if len(recipients) == 0 && input.Role != "" {
		resolved, err := s.userRepo.ListUserIDsByRole(ctx, identity.TenantID, input.Role)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %q: %w", input.Role, err)
		}
		if len(resolved) == 0 {
			return nil, model.NewRoleNotFoundError(input.Role)
		}
		recipients = resolved
	}

	now := time.Now().UTC()
	var notifications []*model.Notification
	if len(recipients) == 0 {
		// ブロードキャストは recipient を持たない1レコード
		notifications = []*model.Notification{{
			ID:          uuid.New().String(),
			TenantID:    identity.TenantID,
			Type:        input.Type,
			Title:       title,
			Message:     message,
			Data:        input.Data,
			Channel:     channel,
			IsImportant: input.IsImportant,
			CreatedAt:   now,
		}}
	} else {
		notifications = make([]*model.Notification, 0, len(recipients))
		for _, userID := range recipients {
			recipientID := userID
			notifications = append(notifications, &model.Notification{
				ID:          uuid.New().String(),
				TenantID:    identity.TenantID,
				RecipientID: &recipientID,
				Type:        input.Type,
				Title:       title,
				Message:     message,
				Data:        input.Data,
				Channel:     channel,
				IsImportant: input.IsImportant,
				CreatedAt:   now,
			})
		}
	}

	if err := s.notifRepo.CreateBatch(ctx, notifications); err != nil {
		return nil, fmt.Errorf("failed to persist notifications: %w", err)
	}

	// 永続化が完了した通知のみを配信する。配信はリクエストの完了を待たせない。
	s.dispatcher.Dispatch(identity.TenantID, notifications)

	s.logger.Info("notifications created",
		slog.String("tenant_id", identity.TenantID),
		slog.String("type", input.Type),
		slog.Int("count", len(notifications)),
	)

	return notifications, nil
}

// List はユーザー宛ての通知一覧と総件数を返す。
// markAsReadがtrueの場合、返却した通知のうち未読のものを既読化する。
func (s *Service) List(ctx context.Context, identity *model.Identity, filter repository.NotificationFilter, markAsRead bool) ([]*model.Notification, int, error) {
	notifications, total, err := s.notifRepo.ListByRecipient(ctx, identity.TenantID, identity.UserID, filter)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list notifications: %w", err)
	}

	if markAsRead {
		var unreadIDs []string
		for _, n := range notifications {
			if !n.IsRead {
				unreadIDs = append(unreadIDs, n.ID)
			}
		}
		if len(unreadIDs) > 0 {
			updated, err := s.notifRepo.MarkRead(ctx, identity.TenantID, identity.UserID, unreadIDs)
			if err != nil {
				return nil, 0, fmt.Errorf("failed to mark notifications as read: %w", err)
			}
			readAt := make(map[string]*time.Time, len(updated))
			for _, n := range updated {
				readAt[n.ID] = n.ReadAt
			}
			for _, n := range notifications {
				if at, ok := readAt[n.ID]; ok {
					n.IsRead = true
					n.ReadAt = at
				}
			}
		}
	}

	return notifications, total, nil
}

// MarkRead は指定された通知を既読化し、更新件数と更新後の通知を返す。
func (s *Service) MarkRead(ctx context.Context, identity *model.Identity, input MarkReadInput) ([]*model.Notification, error) {
	if len(input.IDs) == 0 && !input.All {
		return nil, model.NewMissingFieldError("notificationIds or all")
	}

	var (
		updated []*model.Notification
		err     error
	)
	if input.All {
		updated, err = s.notifRepo.MarkAllRead(ctx, identity.TenantID, identity.UserID, input.Channel, input.Type)
	} else {
		updated, err = s.notifRepo.MarkRead(ctx, identity.TenantID, identity.UserID, input.IDs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to mark notifications as read: %w", err)
	}

	return updated, nil
}

// UnreadCount はユーザー宛ての未読件数を返す。
func (s *Service) UnreadCount(ctx context.Context, identity *model.Identity, channel, ntype string) (int, error) {
	count, err := s.notifRepo.CountUnread(ctx, identity.TenantID, identity.UserID, channel, ntype)
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}
