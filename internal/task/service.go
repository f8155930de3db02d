// Package task はタスク管理のドメインロジックを提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/authz"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
	"github.com/hitoshi/taskman/internal/security"
)

// 入力値の制限
const (
	MaxTitleLength       = 200
	MaxDescriptionLength = 2000
	DefaultPageSize      = 10
)

// Recorder はタスク操作のメトリクスを記録する。
type Recorder interface {
	RecordTaskCreated()
	RecordTaskDeleted()
}

// CreateInput はタスク作成の入力値。
type CreateInput struct {
	Title       string
	Description *string
	Status      string
}

// Service はタスク管理のサービス層。
// 一覧取得、作成、取得、部分更新、削除を提供し、単一タスクの操作は必ず認可判定を通す。
type Service struct {
	repo      repository.TaskRepository
	sanitizer security.TextSanitizer
	pageSize  int
	recorder  Recorder
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
// pageSizeが0以下の場合はDefaultPageSizeを使用する。
func NewService(
	repo repository.TaskRepository,
	sanitizer security.TextSanitizer,
	pageSize int,
	recorder Recorder,
) *Service {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		pageSize:  pageSize,
		recorder:  recorder,
		now:       time.Now,
	}
}

// List はユーザーのタスクを作成日時の降順でページ単位に返す。
// pageが1未満の場合は1として扱う。範囲外のページは空の一覧を返す。
func (s *Service) List(ctx context.Context, userID string, page int, search string) (*model.TaskPage, error) {
	if page < 1 {
		page = 1
	}
	search = strings.TrimSpace(search)

	count, err := s.repo.CountByUser(ctx, userID, search)
	if err != nil {
		return nil, fmt.Errorf("タスク件数の取得に失敗しました: %w", err)
	}

	totalPages := (count + s.pageSize - 1) / s.pageSize

	tasks := []*model.Task{}
	if (page-1)*s.pageSize < count {
		tasks, err = s.repo.ListByUser(ctx, userID, search, s.pageSize, (page-1)*s.pageSize)
		if err != nil {
			return nil, fmt.Errorf("タスク一覧の取得に失敗しました: %w", err)
		}
	}

	return &model.TaskPage{
		Tasks:       tasks,
		CurrentPage: page,
		TotalPages:  totalPages,
	}, nil
}

// Create はタスクを作成する。所有者は常にuserIDになる。
func (s *Service) Create(ctx context.Context, userID string, input CreateInput) (*model.Task, error) {
	title, err := s.cleanTitle(input.Title)
	if err != nil {
		return nil, err
	}

	description, err := s.cleanDescription(input.Description)
	if err != nil {
		return nil, err
	}

	status := model.TaskStatusPending
	if input.Status != "" {
		status = model.TaskStatus(input.Status)
		if !status.Valid() {
			return nil, invalidStatusError()
		}
	}

	now := s.now()
	task := &model.Task{
		ID:        uuid.New().String(),
		Title:     title,
		Status:    status,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if description != nil && *description != "" {
		task.Description = description
	}

	if err := s.repo.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}

	if s.recorder != nil {
		s.recorder.RecordTaskCreated()
	}
	slog.Info("task created",
		slog.String("task_id", task.ID),
		slog.String("user_id", userID),
	)
	return task, nil
}

// Get はタスクを取得する。
func (s *Service) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	return s.load(ctx, userID, taskID)
}

// Update はタスクを部分更新する。指定されたフィールドのみ変更し、所有者は変更できない。
func (s *Service) Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	current, err := s.load(ctx, userID, taskID)
	if err != nil {
		return nil, err
	}

	if patch.Title != nil {
		title, err := s.cleanTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		patch.Title = &title
	}
	if patch.Description != nil {
		description, err := s.cleanDescription(patch.Description)
		if err != nil {
			return nil, err
		}
		patch.Description = description
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return nil, invalidStatusError()
	}

	if patch.IsEmpty() {
		return current, nil
	}

	updated, err := s.repo.Update(ctx, taskID, patch)
	if err != nil {
		return nil, fmt.Errorf("タスクの更新に失敗しました: %w", err)
	}
	if updated == nil {
		// 取得後に別リクエストで削除された
		return nil, model.NewTaskNotFoundError(taskID)
	}
	return updated, nil
}

// Delete はタスクを削除する。削除済みのタスクに対してはNotFoundを返す。
func (s *Service) Delete(ctx context.Context, userID, taskID string) error {
	if _, err := s.load(ctx, userID, taskID); err != nil {
		return err
	}

	deleted, err := s.repo.Delete(ctx, taskID)
	if err != nil {
		return fmt.Errorf("タスクの削除に失敗しました: %w", err)
	}
	if !deleted {
		return model.NewTaskNotFoundError(taskID)
	}

	if s.recorder != nil {
		s.recorder.RecordTaskDeleted()
	}
	slog.Info("task deleted",
		slog.String("task_id", taskID),
		slog.String("user_id", userID),
	)
	return nil
}

// load はタスクを取得し、認可判定を行う。
func (s *Service) load(ctx context.Context, userID, taskID string) (*model.Task, error) {
	task, err := s.repo.FindByID(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("タスクの取得に失敗しました: %w", err)
	}

	decision := authz.ForTask(task, userID)
	if decision != authz.Allowed {
		if decision == authz.Forbidden {
			slog.Warn("task access denied",
				slog.String("task_id", taskID),
				slog.String("user_id", userID),
			)
		}
		return nil, decision.Err(taskID)
	}
	return task, nil
}

func (s *Service) cleanTitle(raw string) (string, error) {
	title := s.sanitize(raw)
	if title == "" {
		return "", model.NewValidationError("title", "タイトルを入力してください")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return "", model.NewValidationError("title", fmt.Sprintf("%d文字以内で入力してください", MaxTitleLength))
	}
	return title, nil
}

// cleanDescription は説明を整形する。空文字列は「説明なし」を表す。
func (s *Service) cleanDescription(raw *string) (*string, error) {
	if raw == nil {
		return nil, nil
	}
	description := s.sanitize(*raw)
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		return nil, model.NewValidationError("description", fmt.Sprintf("%d文字以内で入力してください", MaxDescriptionLength))
	}
	return &description, nil
}

func (s *Service) sanitize(raw string) string {
	if s.sanitizer == nil {
		return strings.TrimSpace(raw)
	}
	return s.sanitizer.Sanitize(raw)
}

func invalidStatusError() error {
	return model.NewValidationError("status", "pending, inProgress, completed のいずれかを指定してください")
}
