package user

import (
	"context"
	"errors"
	"testing"

	"github.com/hitoshi/taskman/internal/model"
)

// --- モック ---

type mockUserRepo struct {
	findByIDFn           func(ctx context.Context, id string) (*model.User, error)
	findByExternalIDFn   func(ctx context.Context, externalID string) (*model.User, error)
	upsertByExternalIDFn func(ctx context.Context, ext model.ExternalUser) (*model.User, error)
	deleteByExternalIDFn func(ctx context.Context, externalID string) error
	deleteByIDFn         func(ctx context.Context, id string) error
}

func (m *mockUserRepo) FindByID(ctx context.Context, id string) (*model.User, error) {
	if m.findByIDFn != nil {
		return m.findByIDFn(ctx, id)
	}
	return nil, nil
}
func (m *mockUserRepo) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	return nil, nil
}
func (m *mockUserRepo) FindByExternalID(ctx context.Context, externalID string) (*model.User, error) {
	if m.findByExternalIDFn != nil {
		return m.findByExternalIDFn(ctx, externalID)
	}
	return nil, nil
}
func (m *mockUserRepo) Create(ctx context.Context, user *model.User) error {
	return nil
}
func (m *mockUserRepo) UpsertByExternalID(ctx context.Context, ext model.ExternalUser) (*model.User, error) {
	return m.upsertByExternalIDFn(ctx, ext)
}
func (m *mockUserRepo) DeleteByExternalID(ctx context.Context, externalID string) error {
	return m.deleteByExternalIDFn(ctx, externalID)
}
func (m *mockUserRepo) DeleteByID(ctx context.Context, id string) error {
	return m.deleteByIDFn(ctx, id)
}

type mockSessionDeleter struct {
	deleteByUserIDFn func(ctx context.Context, userID string) error
}

func (m *mockSessionDeleter) DeleteByUserID(ctx context.Context, userID string) error {
	return m.deleteByUserIDFn(ctx, userID)
}

// --- テスト ---

// TestService_Withdraw は退会処理がセッションとユーザーを削除することを検証する。
func TestService_Withdraw(t *testing.T) {
	var calls []string

	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id, Email: "test@example.com"}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			calls = append(calls, "user:"+id)
			return nil
		},
	}
	sessions := &mockSessionDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			calls = append(calls, "sessions:"+userID)
			return nil
		},
	}

	svc := NewService(userRepo, sessions)

	if err := svc.Withdraw(context.Background(), "user-1"); err != nil {
		t.Fatalf("Withdraw returned error: %v", err)
	}
	want := []string{"sessions:user-1", "user:user-1"}
	if len(calls) != len(want) || calls[0] != want[0] || calls[1] != want[1] {
		t.Errorf("calls = %v, want %v", calls, want)
	}
}

// TestService_Withdraw_UserNotFound は存在しないユーザーの退会がエラーになることを検証する。
func TestService_Withdraw_UserNotFound(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil)

	err := svc.Withdraw(context.Background(), "nonexistent-user")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeUserNotFound {
		t.Fatalf("err = %v, want USER_NOT_FOUND", err)
	}
}

func TestService_Withdraw_SessionDeleteFails(t *testing.T) {
	userRepo := &mockUserRepo{
		findByIDFn: func(ctx context.Context, id string) (*model.User, error) {
			return &model.User{ID: id}, nil
		},
		deleteByIDFn: func(ctx context.Context, id string) error {
			t.Error("user must not be deleted when session cleanup fails")
			return nil
		},
	}
	sessions := &mockSessionDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			return errors.New("redis down")
		},
	}

	if err := NewService(userRepo, sessions).Withdraw(context.Background(), "user-1"); err == nil {
		t.Fatal("expected error")
	}
}

// 同じcreatedイベントを2回適用しても同じユーザーに収束する
func TestService_ApplyIdentityEvent_UpsertIsReplaySafe(t *testing.T) {
	store := map[string]*model.User{}
	userRepo := &mockUserRepo{
		upsertByExternalIDFn: func(ctx context.Context, ext model.ExternalUser) (*model.User, error) {
			u, ok := store[ext.ExternalID]
			if !ok {
				u = &model.User{ID: "internal-" + ext.ExternalID}
				store[ext.ExternalID] = u
			}
			u.Name = ext.Name
			u.Email = ext.Email
			return u, nil
		},
	}
	svc := NewService(userRepo, nil)

	event := &IdentityEvent{
		Type: EventUserCreated,
		User: model.ExternalUser{ExternalID: "user_1", Name: "alice", Email: "alice@example.com"},
	}
	for i := 0; i < 2; i++ {
		if err := svc.ApplyIdentityEvent(context.Background(), event); err != nil {
			t.Fatalf("apply #%d: %v", i+1, err)
		}
	}
	if len(store) != 1 {
		t.Errorf("users = %d, want 1", len(store))
	}

	updated := &IdentityEvent{
		Type: EventUserUpdated,
		User: model.ExternalUser{ExternalID: "user_1", Name: "alice2", Email: "alice@example.com"},
	}
	if err := svc.ApplyIdentityEvent(context.Background(), updated); err != nil {
		t.Fatalf("apply update: %v", err)
	}
	if store["user_1"].Name != "alice2" {
		t.Errorf("Name = %q, want alice2", store["user_1"].Name)
	}
}

func TestService_ApplyIdentityEvent_Deleted(t *testing.T) {
	var deletedExternal, deletedSessions string
	userRepo := &mockUserRepo{
		findByExternalIDFn: func(ctx context.Context, externalID string) (*model.User, error) {
			return &model.User{ID: "internal-1"}, nil
		},
		deleteByExternalIDFn: func(ctx context.Context, externalID string) error {
			deletedExternal = externalID
			return nil
		},
	}
	sessions := &mockSessionDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			deletedSessions = userID
			return nil
		},
	}

	svc := NewService(userRepo, sessions)
	err := svc.ApplyIdentityEvent(context.Background(), &IdentityEvent{
		Type: EventUserDeleted,
		User: model.ExternalUser{ExternalID: "user_1"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if deletedExternal != "user_1" {
		t.Errorf("deleted external id = %q, want user_1", deletedExternal)
	}
	if deletedSessions != "internal-1" {
		t.Errorf("deleted sessions for %q, want internal-1", deletedSessions)
	}
}

// 既に削除済みのユーザーに対するdeletedイベントもエラーにしない
func TestService_ApplyIdentityEvent_DeletedUnknownUser(t *testing.T) {
	userRepo := &mockUserRepo{
		deleteByExternalIDFn: func(ctx context.Context, externalID string) error {
			return nil
		},
	}
	svc := NewService(userRepo, &mockSessionDeleter{
		deleteByUserIDFn: func(ctx context.Context, userID string) error {
			t.Error("sessions should not be touched for an unknown user")
			return nil
		},
	})

	err := svc.ApplyIdentityEvent(context.Background(), &IdentityEvent{
		Type: EventUserDeleted,
		User: model.ExternalUser{ExternalID: "user_gone"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_ApplyIdentityEvent_UnknownTypeIgnored(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil)

	err := svc.ApplyIdentityEvent(context.Background(), &IdentityEvent{Type: "session.created"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestService_ApplyIdentityEvent_MissingExternalID(t *testing.T) {
	svc := NewService(&mockUserRepo{}, nil)

	for _, typ := range []string{EventUserCreated, EventUserDeleted} {
		if err := svc.ApplyIdentityEvent(context.Background(), &IdentityEvent{Type: typ}); err == nil {
			t.Errorf("%s without external id should fail", typ)
		}
	}
}
