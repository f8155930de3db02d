package model

import "time"

// TaskStatus はタスクの進捗状態を表す。
type TaskStatus string

const (
	// TaskStatusPending は未着手。
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress は対応中。
	TaskStatusInProgress TaskStatus = "inProgress"
	// TaskStatusCompleted は完了。
	TaskStatusCompleted TaskStatus = "completed"
)

// Valid は定義済みのステータスかどうかを返す。
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusCompleted:
		return true
	default:
		return false
	}
}

// Task はユーザーが所有するタスクを表す。
// UserIDは作成時に決まり、以後変更されない。
type Task struct {
	ID          string
	Title       string
	Description *string
	Status      TaskStatus
	UserID      string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// TaskPatch はタスクの部分更新内容を表す。
// nilのフィールドは変更しない。所有者は含めない。
type TaskPatch struct {
	Title       *string
	Description *string
	Status      *TaskStatus
}

// IsEmpty は更新対象のフィールドが1つもないかどうかを返す。
func (p TaskPatch) IsEmpty() bool {
	return p.Title == nil && p.Description == nil && p.Status == nil
}

// TaskPage はタスク一覧の1ページ分の結果。
type TaskPage struct {
	Tasks       []*Task
	CurrentPage int
	TotalPages  int
}
