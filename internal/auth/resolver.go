package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/taskman/internal/model"
)

// IdentityCookieName は外部IdPのセッショントークンを保持するCookie名。
const IdentityCookieName = "__session"

// Resolver はリクエストから現在のユーザーを特定する。
// 未認証の場合はnil, nilを返す。
type Resolver interface {
	Resolve(ctx context.Context, r *http.Request) (*model.User, error)
}

// UserFinder はResolverが必要とするユーザー検索インターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)
}

// SessionResolver はセッションCookieからユーザーを解決する。
type SessionResolver struct {
	sessions *SessionManager
	users    UserFinder
}

// NewSessionResolver はSessionResolverを生成する。
func NewSessionResolver(sessions *SessionManager, users UserFinder) *SessionResolver {
	return &SessionResolver{sessions: sessions, users: users}
}

// Resolve はセッションに紐づくユーザーを返す。
// セッションのユーザーが削除済みの場合はnilを返す。
func (s *SessionResolver) Resolve(ctx context.Context, r *http.Request) (*model.User, error) {
	userID, err := s.sessions.Resolve(ctx, r)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, nil
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// IdentityVerifier は外部IdPのトークンを検証し、外部ユーザーIDを返す。
type IdentityVerifier interface {
	Verify(ctx context.Context, raw string) (string, error)
}

// TokenResolver は外部IdPが発行したトークンからユーザーを解決する。
// トークンはAuthorizationヘッダーのBearer、または__session Cookieから読む。
type TokenResolver struct {
	verifier IdentityVerifier
	users    UserFinder
}

// NewTokenResolver はTokenResolverを生成する。
func NewTokenResolver(verifier IdentityVerifier, users UserFinder) *TokenResolver {
	return &TokenResolver{verifier: verifier, users: users}
}

// Resolve は検証済みトークンのsubに対応する内部ユーザーを返す。
// 検証に失敗したトークンは未認証として扱う。
func (t *TokenResolver) Resolve(ctx context.Context, r *http.Request) (*model.User, error) {
	raw := bearerToken(r)
	if raw == "" {
		if cookie, err := r.Cookie(IdentityCookieName); err == nil {
			raw = cookie.Value
		}
	}
	if raw == "" {
		return nil, nil
	}

	externalID, err := t.verifier.Verify(ctx, raw)
	if err != nil {
		slog.Debug("identity token rejected", slog.String("error", err.Error()))
		return nil, nil
	}

	user, err := t.users.FindByExternalID(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by external ID: %w", err)
	}
	return user, nil
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "bearer "
	if len(h) <= len(prefix) || !strings.EqualFold(h[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(h[len(prefix):])
}

// ResolverOptions はNewResolverの依存関係。
type ResolverOptions struct {
	Sessions *SessionManager
	Verifier IdentityVerifier
	Users    UserFinder
}

// NewResolver は認証モードに応じたResolverを返す。
// modeは"session"または"external"。
func NewResolver(mode string, opts ResolverOptions) (Resolver, error) {
	switch mode {
	case "session":
		if opts.Sessions == nil {
			return nil, fmt.Errorf("session resolver requires a session manager")
		}
		return NewSessionResolver(opts.Sessions, opts.Users), nil
	case "external":
		if opts.Verifier == nil {
			return nil, fmt.Errorf("token resolver requires an identity verifier")
		}
		return NewTokenResolver(opts.Verifier, opts.Users), nil
	default:
		return nil, fmt.Errorf("unsupported auth mode: %q", mode)
	}
}

// compile-time interface check
var (
	_ Resolver = (*SessionResolver)(nil)
	_ Resolver = (*TokenResolver)(nil)
)
