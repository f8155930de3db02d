package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// Withdraw はユーザーとそのセッション、タスクを削除する。
	Withdraw(ctx context.Context, userID string) error
}

// SessionCookieClearer はセッションCookieを破棄する。
// 外部IdPモードではnil。
type SessionCookieClearer interface {
	Destroy(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// UserHandler はログインユーザー自身に関するHTTPハンドラー。
type UserHandler struct {
	service  UserServiceInterface
	sessions SessionCookieClearer
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface, sessions SessionCookieClearer) *UserHandler {
	return &UserHandler{
		service:  service,
		sessions: sessions,
	}
}

// Me はログインユーザーの情報を返す。
// GET /user
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFromContext(r.Context())
	if !ok {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// Withdraw は退会処理を実行する。
// DELETE /user
func (h *UserHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Withdraw(r.Context(), userID); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if h.sessions != nil {
		if err := h.sessions.Destroy(r.Context(), w, r); err != nil {
			// アカウントは削除済みのため、Cookieの後始末の失敗は応答に影響させない
			slog.Warn("failed to clear session after withdrawal",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}
