// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/taskman/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey = contextKey("user_id")
	userContextKey   = contextKey("user")
)

// UserResolver はリクエストから現在のユーザーを特定する。
// auth.Resolverと同じシグネチャ。未認証の場合はnil, nilを返す。
type UserResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*model.User, error)
}

// NewCurrentUserMiddleware は現在のユーザーを解決してコンテキストに注入するミドルウェアを返す。
// 未認証リクエストはそのまま次へ渡す。401の判定はRequireUserで行う。
func NewCurrentUserMiddleware(resolver UserResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, err := resolver.Resolve(r.Context(), r)
			if err != nil {
				slog.Error("failed to resolve current user",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if user == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithUser(r.Context(), user)))
		})
	}
}

// RequireUser は認証済みユーザーがいないリクエストに401を返す。
// NewCurrentUserMiddlewareの後に配置する。
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := UserFromContext(r.Context()); !ok {
			WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// UserFromContext はコンテキストから現在のユーザーを取得する。
func UserFromContext(ctx context.Context) (*model.User, bool) {
	user, ok := ctx.Value(userContextKey).(*model.User)
	return user, ok && user != nil
}

// ContextWithUser はコンテキストにユーザーとそのIDを注入する。
func ContextWithUser(ctx context.Context, user *model.User) context.Context {
	noteUserID(ctx, user.ID)
	ctx = context.WithValue(ctx, userContextKey, user)
	return context.WithValue(ctx, userIDContextKey, user.ID)
}

// UserIDFromContext はリクエストコンテキストから内部ユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDのみを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
