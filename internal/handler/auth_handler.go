package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/taskman/internal/auth"
	"github.com/hitoshi/taskman/internal/middleware"
	"github.com/hitoshi/taskman/internal/model"
)

// AccountServiceInterface はローカル認証ハンドラーが必要とするサービスインターフェース。
// セッションCookieの発行と削除はサービス側で行う。
type AccountServiceInterface interface {
	SignUp(ctx context.Context, w http.ResponseWriter, input auth.SignUpInput) (*model.User, error)
	SignIn(ctx context.Context, w http.ResponseWriter, email, password string) (*model.User, error)
	SignOut(ctx context.Context, w http.ResponseWriter, r *http.Request) error
}

// AuthHandler はサインアップ・サインイン・サインアウトのHTTPハンドラー。
type AuthHandler struct {
	service AccountServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AccountServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

type signUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SignUp はユーザーを登録し、セッションを開始する。
// POST /auth/sign-up
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	user, err := h.service.SignUp(r.Context(), w, auth.SignUpInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toUserResponse(user))
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /auth/sign-in
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return
	}

	user, err := h.service.SignIn(r.Context(), w, req.Email, req.Password)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toUserResponse(user))
}

// SignOut はセッションを終了する。セッションがなくても成功する。
// POST /auth/sign-out
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.service.SignOut(r.Context(), w, r); err != nil {
		handleServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{ID: u.ID, Name: u.Name, Email: u.Email}
}
