package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
)

const taskColumns = `id, title, description, status, user_id, created_at, updated_at`

// likeEscaper はILIKEのパターン文字をエスケープする。
var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// PostgresTaskRepo はPostgreSQLを使用したタスクリポジトリ。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// FindByID は指定IDのタスクを取得する。見つからない場合はnilを返す。
// UUIDとして不正なIDも「見つからない」として扱う。
func (r *PostgresTaskRepo) FindByID(ctx context.Context, id string) (*model.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	task, err := scanTask(r.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`,
		id,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find task: %w", err)
	}
	return task, nil
}

// Create はタスクを作成する。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, title, description, status, user_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		task.ID, task.Title, task.Description, string(task.Status), task.UserID,
		task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

// Update は指定されたフィールドのみを単一のUPDATE文で更新し、更新後のタスクを返す。
// 空文字列の説明はNULLとして保存する。user_idは更新対象に含めない。
func (r *PostgresTaskRepo) Update(ctx context.Context, id string, patch model.TaskPatch) (*model.Task, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	sets := []string{"updated_at = now()"}
	args := []any{id}

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, fmt.Sprintf("title = $%d", len(args)))
	}
	if patch.Description != nil {
		args = append(args, *patch.Description)
		sets = append(sets, fmt.Sprintf("description = NULLIF($%d, '')", len(args)))
	}
	if patch.Status != nil {
		args = append(args, string(*patch.Status))
		sets = append(sets, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `UPDATE tasks SET ` + strings.Join(sets, ", ") +
		` WHERE id = $1 RETURNING ` + taskColumns

	task, err := scanTask(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update task: %w", err)
	}
	return task, nil
}

// Delete は指定IDのタスクを削除する。削除した場合はtrueを返す。
func (r *PostgresTaskRepo) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}

	result, err := r.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete task: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// ListByUser はユーザーのタスクを作成日時の降順で取得する。
// 同時刻のタスクはidの降順で並べ、ページ境界を安定させる。
func (r *PostgresTaskRepo) ListByUser(ctx context.Context, userID, search string, limit, offset int) ([]*model.Task, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+taskColumns+`
		 FROM tasks
		 WHERE user_id = $1 AND title ILIKE $2
		 ORDER BY created_at DESC, id DESC
		 LIMIT $3 OFFSET $4`,
		userID, searchPattern(search), limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	tasks := make([]*model.Task, 0, limit)
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tasks: %w", err)
	}

	return tasks, nil
}

// CountByUser はListByUserと同じ条件でのタスク総数を返す。
func (r *PostgresTaskRepo) CountByUser(ctx context.Context, userID, search string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM tasks WHERE user_id = $1 AND title ILIKE $2`,
		userID, searchPattern(search),
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count tasks: %w", err)
	}
	return count, nil
}

// searchPattern は検索語から部分一致用のILIKEパターンを組み立てる。
// 空の検索語は全件に一致する。
func searchPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

// rowScanner は*sql.Rowと*sql.Rowsの共通インターフェース。
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	task := &model.Task{}
	var description sql.NullString
	var status string
	err := row.Scan(
		&task.ID, &task.Title, &description, &status, &task.UserID,
		&task.CreatedAt, &task.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	task.Description = nullStringPtr(description)
	task.Status = model.TaskStatus(status)
	return task, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
