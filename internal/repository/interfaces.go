// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/taskman/internal/model"
)

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByEmail(ctx context.Context, email string) (*model.User, error)

	// FindByExternalID は外部IdPのユーザーIDでユーザーを取得する。
	// 見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// Create はユーザーを作成する。メールアドレスが重複する場合はErrDuplicateEmailを返す。
	Create(ctx context.Context, user *model.User) error

	// UpsertByExternalID は外部IdPのユーザーIDをキーにユーザーを作成または更新する。
	// 同じイベントを何度適用しても結果は変わらない。
	UpsertByExternalID(ctx context.Context, ext model.ExternalUser) (*model.User, error)

	// DeleteByExternalID は外部IdPのユーザーIDでユーザーを削除する。
	// 該当ユーザーがいない場合もエラーにしない。tasks、sessionsはCASCADE削除される。
	DeleteByExternalID(ctx context.Context, externalID string) error

	// DeleteByID は指定IDのユーザーを削除する。
	// tasks、sessionsはCASCADE削除される。
	DeleteByID(ctx context.Context, id string) error
}

// SessionRepository はセッションデータの永続化インターフェース。
// 複数リクエストから同時に呼ばれても安全であること。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はセッションの有効期限を延長する。後勝ち。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。存在しなくてもエラーにしない。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
	// DeleteExpired は期限切れのセッションを掃除し、削除件数を返す。
	DeleteExpired(ctx context.Context) (int64, error)
}

// TaskRepository はタスクデータの永続化インターフェース。
// 認可判定は行わない。呼び出し側でauthzを通すこと。
type TaskRepository interface {
	// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Task, error)

	// Create はタスクを作成する。
	Create(ctx context.Context, task *model.Task) error

	// Update は指定されたフィールドのみを単一のUPDATE文で更新し、更新後のタスクを返す。
	// 該当行がない場合はnilを返す。
	Update(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error)

	// Delete は指定IDのタスクを削除する。削除した場合はtrueを返す。
	Delete(ctx context.Context, id string) (bool, error)

	// ListByUser はユーザーのタスクを作成日時の降順で取得する。
	// searchが空でない場合はタイトルの部分一致（大文字小文字を区別しない）で絞り込む。
	ListByUser(ctx context.Context, userID, search string, limit, offset int) ([]*model.Task, error)

	// CountByUser はListByUserと同じ条件でのタスク総数を返す。
	CountByUser(ctx context.Context, userID, search string) (int, error)
}
