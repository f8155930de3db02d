package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
	"github.com/hitoshi/taskman/internal/task"
	"github.com/hitoshi/taskman/internal/user"
)

// --- モック定義 ---

type mockTaskService struct {
	listFn   func(ctx context.Context, userID string, page int, search string) (*model.TaskPage, error)
	createFn func(ctx context.Context, userID string, input task.CreateInput) (*model.Task, error)
	getFn    func(ctx context.Context, userID, taskID string) (*model.Task, error)
	updateFn func(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error)
	deleteFn func(ctx context.Context, userID, taskID string) error
}

func (m *mockTaskService) List(ctx context.Context, userID string, page int, search string) (*model.TaskPage, error) {
	if m.listFn != nil {
		return m.listFn(ctx, userID, page, search)
	}
	return &model.TaskPage{Tasks: []*model.Task{}, CurrentPage: page}, nil
}

func (m *mockTaskService) Create(ctx context.Context, userID string, input task.CreateInput) (*model.Task, error) {
	if m.createFn != nil {
		return m.createFn(ctx, userID, input)
	}
	return nil, nil
}

func (m *mockTaskService) Get(ctx context.Context, userID, taskID string) (*model.Task, error) {
	if m.getFn != nil {
		return m.getFn(ctx, userID, taskID)
	}
	return nil, model.NewTaskNotFoundError(taskID)
}

func (m *mockTaskService) Update(ctx context.Context, userID, taskID string, patch model.TaskPatch) (*model.Task, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, taskID, patch)
	}
	return nil, model.NewTaskNotFoundError(taskID)
}

func (m *mockTaskService) Delete(ctx context.Context, userID, taskID string) error {
	if m.deleteFn != nil {
		return m.deleteFn(ctx, userID, taskID)
	}
	return nil
}

type mockAccountService struct {
	signUpFn  func(ctx context.Context, w http.ResponseWriter, input auth.SignUpInput) (*model.User, error)
	signInFn  func(ctx context.Context, w http.ResponseWriter, email, password string) (*model.User, error)
	signOutFn func(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

func (m *mockAccountService) SignUp(ctx context.Context, w http.ResponseWriter, input auth.SignUpInput) (*model.User, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, w, input)
	}
	return nil, nil
}

func (m *mockAccountService) SignIn(ctx context.Context, w http.ResponseWriter, email, password string) (*model.User, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, w, email, password)
	}
	return nil, model.NewInvalidCredentialsError()
}

func (m *mockAccountService) SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx, w, r)
	}
	return nil
}

type mockUserService struct {
	withdrawFn func(ctx context.Context, userID string) error
}

func (m *mockUserService) Withdraw(ctx context.Context, userID string) error {
	if m.withdrawFn != nil {
		return m.withdrawFn(ctx, userID)
	}
	return nil
}

type mockSessionClearer struct {
	calls int
}

func (m *mockSessionClearer) Destroy(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	m.calls++
	http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "", Path: "/", MaxAge: -1})
	return nil
}

type mockEventApplier struct {
	applyFn func(ctx context.Context, event *user.IdentityEvent) error
	events  []*user.IdentityEvent
}

func (m *mockEventApplier) ApplyIdentityEvent(ctx context.Context, event *user.IdentityEvent) error {
	m.events = append(m.events, event)
	if m.applyFn != nil {
		return m.applyFn(ctx, event)
	}
	return nil
}

// --- テストヘルパー ---

// withUserID はテスト用にリクエストコンテキストにユーザーIDを注入するヘルパー。
func withUserID(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

// withUser はテスト用にリクエストコンテキストにユーザーを注入するヘルパー。
func withUser(r *http.Request, u *model.User) *http.Request {
	return r.WithContext(middleware.ContextWithUser(r.Context(), u))
}

// withChiURLParam はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}
