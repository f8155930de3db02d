package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/lib/pq"
)

// ErrDuplicateEmail はメールアドレスが既に登録されていることを示す。
var ErrDuplicateEmail = errors.New("email already registered")

// uniqueViolation はPostgreSQLの一意制約違反のエラーコード。
const uniqueViolation = "23505"

// emailIndexName はメールアドレスの一意インデックス名。
const emailIndexName = "idx_users_email"

const userColumns = `id, name, email, password_hash, salt, external_id, created_at, updated_at`

// PostgresUserRepo はPostgreSQLを使用したユーザーリポジトリ。
type PostgresUserRepo struct {
	db *sql.DB
}

// NewPostgresUserRepo はPostgresUserRepoを生成する。
func NewPostgresUserRepo(db *sql.DB) *PostgresUserRepo {
	return &PostgresUserRepo{db: db}
}

// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`,
		id,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by ID: %w", err)
	}
	return user, nil
}

// FindByEmail はメールアドレスでユーザーを取得する。見つからない場合はnilを返す。
// メールアドレスを持たないユーザーは対象外。
func (r *PostgresUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = lower($1) AND email <> ''`,
		email,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return user, nil
}

// FindByExternalID は外部IdPのユーザーIDでユーザーを取得する。見つからない場合はnilを返す。
func (r *PostgresUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE external_id = $1`,
		externalID,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

// Create はユーザーを作成する。
func (r *PostgresUserRepo) Create(ctx context.Context, user *model.User) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, password_hash, salt, external_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		user.ID, user.Name, user.Email, user.PasswordHash, user.Salt, user.ExternalID,
		user.CreatedAt, user.UpdatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation && pqErr.Constraint == emailIndexName {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

// UpsertByExternalID は外部IdPのユーザーIDをキーにユーザーを作成または更新する。
// 既存行のidとcreated_atは維持する。
func (r *PostgresUserRepo) UpsertByExternalID(ctx context.Context, ext model.ExternalUser) (*model.User, error) {
	now := time.Now()
	user, err := scanUser(r.db.QueryRowContext(ctx,
		`INSERT INTO users (id, name, email, external_id, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (external_id) WHERE external_id IS NOT NULL
		 DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email, updated_at = EXCLUDED.updated_at
		 RETURNING `+userColumns,
		uuid.New().String(), ext.Name, ext.Email, ext.ExternalID, now,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user by external ID: %w", err)
	}
	return user, nil
}

// DeleteByExternalID は外部IdPのユーザーIDでユーザーを削除する。
// 該当ユーザーがいない場合もエラーにしない（イベント再送に対して冪等）。
func (r *PostgresUserRepo) DeleteByExternalID(ctx context.Context, externalID string) error {
	_, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE external_id = $1`,
		externalID,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user by external ID: %w", err)
	}
	return nil
}

// DeleteByID は指定IDのユーザーを削除する。
// 関連するtasks、sessionsはCASCADE削除される。
func (r *PostgresUserRepo) DeleteByID(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM users WHERE id = $1`,
		id,
	)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("user not found: %s", id)
	}
	return nil
}

// scanUser は1行をmodel.Userにスキャンする。行がない場合はnil, nilを返す。
func scanUser(row *sql.Row) (*model.User, error) {
	user := &model.User{}
	var passwordHash, salt, externalID sql.NullString
	err := row.Scan(
		&user.ID, &user.Name, &user.Email,
		&passwordHash, &salt, &externalID,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	user.PasswordHash = nullStringPtr(passwordHash)
	user.Salt = nullStringPtr(salt)
	user.ExternalID = nullStringPtr(externalID)
	return user, nil
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

// compile-time interface check
var _ UserRepository = (*PostgresUserRepo)(nil)
