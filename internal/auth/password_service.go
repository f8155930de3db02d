// Package auth はパスワード認証、セッション管理、外部IdPトークンの検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/repository"
)

// 入力値の長さ制限
const (
	MaxNameLength     = 100
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

// dummySalt は存在しないユーザーのサインイン時にハッシュ計算に使うソルト。
const dummySalt = "0000000000000000000000000000000000000000000000000000000000000000"

// PasswordHasher はパスワードハッシュの生成と照合を行う。
type PasswordHasher interface {
	Hash(password, salt string) string
	Verify(password, salt, expected string) bool
	GenerateSalt() (string, error)
}

// AccountStore はPasswordServiceが必要とするユーザー永続化インターフェース。
type AccountStore interface {
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	Create(ctx context.Context, user *model.User) error
}

// FailureRecorder は認証失敗を記録する。
type FailureRecorder interface {
	RecordAuthFailure(reason string)
}

// SignUpInput はサインアップの入力値。
type SignUpInput struct {
	Name     string
	Email    string
	Password string
}

// PasswordService はメールアドレスとパスワードによるサインアップ・サインインを提供する。
type PasswordService struct {
	users    AccountStore
	hasher   PasswordHasher
	sessions *SessionManager
	failures FailureRecorder
	now      func() time.Time
}

// NewPasswordService はPasswordServiceを生成する。
func NewPasswordService(
	users AccountStore,
	hasher PasswordHasher,
	sessions *SessionManager,
	failures FailureRecorder,
) *PasswordService {
	return &PasswordService{
		users:    users,
		hasher:   hasher,
		sessions: sessions,
		failures: failures,
		now:      time.Now,
	}
}

// SignUp はユーザーを登録し、セッションを開始する。
func (s *PasswordService) SignUp(ctx context.Context, w http.ResponseWriter, input SignUpInput) (*model.User, error) {
	name := strings.TrimSpace(input.Name)
	email := strings.TrimSpace(input.Email)

	if err := validateSignUp(name, email, input.Password); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewEmailTakenError()
	}

	salt, err := s.hasher.GenerateSalt()
	if err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := s.hasher.Hash(input.Password, salt)

	now := s.now()
	user := &model.User{
		ID:           uuid.New().String(),
		Name:         name,
		Email:        email,
		PasswordHash: &hash,
		Salt:         &salt,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			return nil, model.NewEmailTakenError()
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := s.sessions.Create(ctx, w, user.ID); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed up", slog.String("user_id", user.ID))
	return user, nil
}

// SignIn はパスワードを照合し、セッションを開始する。
// 未登録・パスワード未設定・不一致はすべて同じエラーを返す。
func (s *PasswordService) SignIn(ctx context.Context, w http.ResponseWriter, email, password string) (*model.User, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		s.recordFailure("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if user == nil || !user.HasPassword() {
		// 登録済みかどうかが応答時間から分からないよう、照合と同じ計算を行う
		s.hasher.Hash(password, dummySalt)
		s.recordFailure("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}
	if !s.hasher.Verify(password, *user.Salt, *user.PasswordHash) {
		s.recordFailure("invalid_credentials")
		return nil, model.NewInvalidCredentialsError()
	}

	if _, err := s.sessions.Create(ctx, w, user.ID); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return user, nil
}

// SignOut は現在のセッションを破棄する。
func (s *PasswordService) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return s.sessions.Destroy(ctx, w, r)
}

func (s *PasswordService) recordFailure(reason string) {
	if s.failures != nil {
		s.failures.RecordAuthFailure(reason)
	}
}

// validateSignUp はサインアップの入力値を検証する。
func validateSignUp(name, email, password string) error {
	if name == "" {
		return model.NewValidationError("name", "名前を入力してください")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewValidationError("name", fmt.Sprintf("%d文字以内で入力してください", MaxNameLength))
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return model.NewValidationError("email", "メールアドレスの形式が正しくありません")
	}

	n := utf8.RuneCountInString(password)
	if n < MinPasswordLength || n > MaxPasswordLength {
		return model.NewValidationError("password",
			fmt.Sprintf("%d文字以上%d文字以内で入力してください", MinPasswordLength, MaxPasswordLength))
	}
	return nil
}
