package push

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

// RegisterInput はPush購読登録のリクエスト内容。
type RegisterInput struct {
	Endpoint   string
	P256dh     string
	Auth       string
	UserAgent  string
	Platform   string
	AppVersion string
}

// SubscriptionService はPush購読の登録・解除を提供する。
// 登録時にエンドポイントURLのSSRF検証を行う。Pushエンドポイントは
// クライアントが自己申告するURLであり、サーバーが後からPOSTする宛先に
// なるため、検証なしで受け入れてはならない。
type SubscriptionService struct {
	repo   repository.PushSubscriptionRepository
	guard  security.EndpointGuardService
	logger *slog.Logger
}

// NewSubscriptionService はSubscriptionServiceを生成する。
func NewSubscriptionService(
	repo repository.PushSubscriptionRepository,
	guard security.EndpointGuardService,
	logger *slog.Logger,
) *SubscriptionService {
	return &SubscriptionService{
		repo:   repo,
		guard:  guard,
		logger: logger,
	}
}

// Register はPush購読を登録する。
// (user, endpoint) の組で冪等に動作し、既存の購読は鍵素材と
// デバイス情報を更新したうえでactiveに戻す。
func (s *SubscriptionService) Register(ctx context.Context, identity *model.Identity, input RegisterInput) (*model.PushSubscription, error) {
	if input.Endpoint == "" {
		return nil, model.NewMissingFieldError("endpoint")
	}
	if input.P256dh == "" {
		return nil, model.NewMissingFieldError("keys.p256dh")
	}
	if input.Auth == "" {
		return nil, model.NewMissingFieldError("keys.auth")
	}

	if err := s.guard.ValidateEndpoint(input.Endpoint); err != nil {
		s.logger.Warn("push endpoint rejected",
			slog.String("user_id", identity.UserID),
			slog.String("error", err.Error()),
		)
		return nil, model.NewInvalidEndpointError(err.Error())
	}

	now := time.Now().UTC()
	sub, err := s.repo.Upsert(ctx, &model.PushSubscription{
		ID:           uuid.New().String(),
		UserID:       identity.UserID,
		TenantID:     identity.TenantID,
		Endpoint:     input.Endpoint,
		P256dh:       input.P256dh,
		Auth:         input.Auth,
		UserAgent:    input.UserAgent,
		Platform:     input.Platform,
		AppVersion:   input.AppVersion,
		Active:       true,
		LastActiveAt: now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert push subscription: %w", err)
	}

	s.logger.Info("push subscription registered",
		slog.String("user_id", identity.UserID),
		slog.String("subscription_id", sub.ID),
	)

	return sub, nil
}

// Unregister はPush購読を解除する。
// 該当する購読が存在しない場合も成功として扱う（冪等）。
func (s *SubscriptionService) Unregister(ctx context.Context, identity *model.Identity, endpoint string) error {
	if endpoint == "" {
		return model.NewMissingFieldError("endpoint")
	}

	if err := s.repo.DeleteByUserAndEndpoint(ctx, identity.UserID, endpoint); err != nil {
		return fmt.Errorf("failed to delete push subscription: %w", err)
	}

	return nil
}
