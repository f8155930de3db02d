// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// SessionDeleter はセッションの一括削除インターフェース。
type SessionDeleter interface {
	DeleteByUserID(ctx context.Context, userID string) error
}

// Service はユーザー管理のサービス層。
// 退会処理と外部IdPのユーザーイベントの反映を提供する。
type Service struct {
	userRepo repository.UserRepository
	sessions SessionDeleter
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(userRepo repository.UserRepository, sessions SessionDeleter) *Service {
	return &Service{
		userRepo: userRepo,
		sessions: sessions,
	}
}

// Withdraw はユーザーの退会処理を実行する。
// 削除順序: sessions → user（+ CASCADE: tasks）
func (s *Service) Withdraw(ctx context.Context, userID string) error {
	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if user == nil {
		return model.NewUserNotFoundError()
	}

	slog.Info("退会処理を開始します",
		slog.String("user_id", userID),
	)

	// Redisストアの場合はCASCADEが効かないため明示的に削除する
	if s.sessions != nil {
		if err := s.sessions.DeleteByUserID(ctx, userID); err != nil {
			return fmt.Errorf("セッションの削除に失敗しました: %w", err)
		}
	}

	if err := s.userRepo.DeleteByID(ctx, userID); err != nil {
		return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
	}

	slog.Info("退会処理が完了しました",
		slog.String("user_id", userID),
	)

	return nil
}

// ApplyIdentityEvent は外部IdPのユーザーイベントをusersテーブルに反映する。
// 外部ユーザーIDをキーにしたupsert/deleteのため、同じイベントを何度適用してもよい。
// 未知のイベント種別は無視する。
func (s *Service) ApplyIdentityEvent(ctx context.Context, event *IdentityEvent) error {
	switch event.Type {
	case EventUserCreated, EventUserUpdated:
		if event.User.ExternalID == "" {
			return model.NewValidationError("data.id", "外部ユーザーIDがありません")
		}
		user, err := s.userRepo.UpsertByExternalID(ctx, event.User)
		if err != nil {
			return fmt.Errorf("ユーザーの同期に失敗しました: %w", err)
		}
		slog.Info("identity event applied",
			slog.String("type", event.Type),
			slog.String("user_id", user.ID),
			slog.String("external_id", event.User.ExternalID),
		)

	case EventUserDeleted:
		if event.User.ExternalID == "" {
			return model.NewValidationError("data.id", "外部ユーザーIDがありません")
		}
		user, err := s.userRepo.FindByExternalID(ctx, event.User.ExternalID)
		if err != nil {
			return fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
		}
		if user != nil && s.sessions != nil {
			if err := s.sessions.DeleteByUserID(ctx, user.ID); err != nil {
				return fmt.Errorf("セッションの削除に失敗しました: %w", err)
			}
		}
		if err := s.userRepo.DeleteByExternalID(ctx, event.User.ExternalID); err != nil {
			return fmt.Errorf("ユーザーの削除に失敗しました: %w", err)
		}
		slog.Info("identity event applied",
			slog.String("type", event.Type),
			slog.String("external_id", event.User.ExternalID),
		)

	default:
		slog.Debug("identity event ignored", slog.String("type", event.Type))
	}
	return nil
}
